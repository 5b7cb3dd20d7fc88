package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"medchat-gateway/internal/constants"

	"github.com/spf13/viper"
)

// Config 應用程式配置結構.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 伺服器配置.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	Timeout        int      `mapstructure:"timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GRPCConfig gRPC 配置.
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig 資料庫配置.
type DatabaseConfig struct {
	Mongo MongoConfig `mapstructure:"mongo"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
	TLSEnabled             bool   `mapstructure:"tls_enabled"`
	TLSCAFile              string `mapstructure:"tls_ca_file"`
	TLSInsecureSkipVerify  bool   `mapstructure:"tls_insecure_skip_verify"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	Path              string `mapstructure:"path"`
	Level             string `mapstructure:"level"`               // debug, info, warning, error.
	RotationTimeHours int    `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int    `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int    `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	TLS            TLSConfig            `mapstructure:"tls"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Encryption     EncryptionConfig     `mapstructure:"encryption"`
	Audit          AuditConfig          `mapstructure:"audit"`
}

// TLSConfig TLS 配置（gRPC 使用）.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// AuthenticationConfig 認證配置.
type AuthenticationConfig struct {
	JWTEnabled bool   `mapstructure:"jwt_enabled"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	Issuer     string `mapstructure:"issuer"`
}

// EncryptionConfig 訊息內容加密配置，主密鑰由 MASTER_KEY 環境變數提供.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuditConfig 審計配置.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StorageConfig 附件物件儲存配置.
type StorageConfig struct {
	Provider          string           `mapstructure:"provider"` // s3, cloudinary, none.
	PresignTTLSeconds int              `mapstructure:"presign_ttl_seconds"`
	S3                S3Config         `mapstructure:"s3"`
	Cloudinary        CloudinaryConfig `mapstructure:"cloudinary"`
}

// S3Config S3 / MinIO 配置.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// CloudinaryConfig Cloudinary 簽名 URL 配置.
type CloudinaryConfig struct {
	CloudName string `mapstructure:"cloud_name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// RedisConfig 跨實例推送配置.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// KafkaConfig 訊息事件發佈配置.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// RealtimeConfig WebSocket 即時通道配置.
type RealtimeConfig struct {
	PingIntervalSeconds   int   `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds       int   `mapstructure:"pong_wait_seconds"`
	WriteWaitSeconds      int   `mapstructure:"write_wait_seconds"`
	SendBuffer            int   `mapstructure:"send_buffer"`
	MaxMessageBytes       int64 `mapstructure:"max_message_bytes"`
	MaxConnectionsPerIP   int   `mapstructure:"max_connections_per_ip"`
	MaxTotalConnections   int   `mapstructure:"max_total_connections"`
	MinConnectionInterval int   `mapstructure:"min_connection_interval_seconds"`
	DeliverOnSend         bool  `mapstructure:"deliver_on_send"`
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig  `mapstructure:"request"`
	RateLimiting RateLimitingConfig   `mapstructure:"rate_limiting"`
	Message      MessageLimitsConfig  `mapstructure:"message"`
	Contacts     ContactsLimitsConfig `mapstructure:"contacts"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	SendPerMinute    int  `mapstructure:"send_per_minute"`
	SearchPerMinute  int  `mapstructure:"search_per_minute"`
	CleanupInterval  int  `mapstructure:"cleanup_interval_minutes"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength     int `mapstructure:"max_length"`
	UnreadPreview int `mapstructure:"unread_preview"`
}

// ContactsLimitsConfig 聯絡人查詢限制配置.
type ContactsLimitsConfig struct {
	AdminLimit        int `mapstructure:"admin_limit"`
	SearchLimit       int `mapstructure:"search_limit"`
	UnreadConcurrency int `mapstructure:"unread_concurrency"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 如果直接傳入配置（主要用於測試），設定並驗證
	if len(testCfg) > 0 && testCfg[0] != nil {
		config = testCfg[0]
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		return nil
	}

	v := viper.New()

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		// 從檔案名稱推斷環境
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 環境變數覆蓋，例如 MEDCHAT_DATABASE_MONGO_URL
	v.SetEnvPrefix("MEDCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	config = &Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	return nil
}

// setDefaults 設定預設值.
func setDefaults(v *viper.Viper) {
	v.SetDefault("grpc.host", "localhost")
	v.SetDefault("grpc.port", "8081")
	v.SetDefault("log.path", "./logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("limits.request.max_body_size", constants.DefaultMaxRequestBodySize)
	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.presign_ttl_seconds", constants.DefaultPresignTTLSeconds)
	v.SetDefault("redis.channel", "medchat:deliveries")
	v.SetDefault("kafka.topic", "medchat.message.sent")
	v.SetDefault("realtime.ping_interval_seconds", constants.DefaultWSPingIntervalSeconds)
	v.SetDefault("realtime.pong_wait_seconds", constants.DefaultWSPongWaitSeconds)
	v.SetDefault("realtime.write_wait_seconds", constants.DefaultWSWriteWaitSeconds)
	v.SetDefault("realtime.send_buffer", constants.DefaultWSSendBuffer)
	v.SetDefault("realtime.max_message_bytes", constants.DefaultWSMaxMessageBytes)
	v.SetDefault("realtime.max_connections_per_ip", constants.DefaultWSMaxConnectionsPerIP)
	v.SetDefault("realtime.max_total_connections", constants.DefaultWSMaxTotalConnections)
	v.SetDefault("limits.rate_limiting.default_per_minute", constants.DefaultRateLimitPerMinute)
	v.SetDefault("limits.rate_limiting.send_per_minute", constants.DefaultSendRateLimit)
	v.SetDefault("limits.rate_limiting.search_per_minute", constants.DefaultSearchRateLimit)
	v.SetDefault("limits.rate_limiting.cleanup_interval_minutes", constants.RateLimitCleanupIntervalMin)
	v.SetDefault("limits.message.max_length", constants.DefaultMaxMessageLength)
	v.SetDefault("limits.message.unread_preview", constants.DefaultUnreadPreviewLimit)
	v.SetDefault("limits.contacts.admin_limit", constants.DefaultAdminContactLimit)
	v.SetDefault("limits.contacts.search_limit", constants.DefaultSearchLimit)
	v.SetDefault("limits.contacts.unread_concurrency", constants.DefaultUnreadConcurrency)
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}

	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	if cfg.Database.Mongo.URL == "" {
		return fmt.Errorf("MongoDB URL 不能為空")
	}
	if cfg.Database.Mongo.Database == "" {
		return fmt.Errorf("MongoDB 資料庫名稱不能為空")
	}
	if cfg.Database.Mongo.MinPoolSize > cfg.Database.Mongo.MaxPoolSize && cfg.Database.Mongo.MaxPoolSize > 0 {
		return fmt.Errorf("MongoDB 最小連接池大小不能大於最大連接池大小")
	}

	if cfg.Security.Authentication.JWTEnabled && cfg.Security.Authentication.JWTSecret == "" {
		return fmt.Errorf("啟用 JWT 時必須設定 jwt_secret")
	}

	switch cfg.Storage.Provider {
	case "", "none":
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket 不能為空")
		}
	case "cloudinary":
		if cfg.Storage.Cloudinary.CloudName == "" || cfg.Storage.Cloudinary.APISecret == "" {
			return fmt.Errorf("Cloudinary cloud_name 與 api_secret 不能為空")
		}
	default:
		return fmt.Errorf("不支援的附件儲存提供者: %s", cfg.Storage.Provider)
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("啟用 Redis 時必須設定 addr")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("啟用 Kafka 時必須設定 brokers")
	}

	return nil
}
