package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medchat-gateway/internal/attachment"
	"medchat-gateway/internal/contacts"
	"medchat-gateway/internal/events"
	gatewaygrpc "medchat-gateway/internal/grpc"
	"medchat-gateway/internal/messaging"
	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/driver"
	"medchat-gateway/internal/platform/health"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/middleware"
	"medchat-gateway/internal/platform/server"
	"medchat-gateway/internal/realtime"
	"medchat-gateway/internal/security/audit"
	"medchat-gateway/internal/security/encryption"
	"medchat-gateway/internal/security/keymanager"
	"medchat-gateway/internal/storage/database"

	"github.com/joho/godotenv"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// .env 不存在時忽略
	_ = godotenv.Load()

	// APP_ENV 決定讀取 configs/<env>.yaml，預設 local
	if env := os.Getenv("APP_ENV"); env != "" {
		config.SetEnv(env)
	}
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof(ctx, "正在啟動 %s，環境: %s", cfg.App.Name, config.GetEnv())

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	repos := database.NewRepositories(ctx, driver.GetMongoDatabase())
	if repos == nil {
		return fmt.Errorf("database initialization failed")
	}

	auditor := audit.NewAuditService(cfg.Security.Audit.Enabled)

	// 訊息內容加密
	var km *keymanager.KeyManager
	if cfg.Security.Encryption.Enabled {
		masterKey, err := keymanager.LoadMasterKey(ctx)
		if err != nil {
			return fmt.Errorf("encryption initialization failed: %w", err)
		}
		if km, err = keymanager.NewKeyManager(masterKey); err != nil {
			return fmt.Errorf("encryption initialization failed: %w", err)
		}
	}
	sealer := encryption.NewMessageEncryption(cfg.Security.Encryption.Enabled, km)

	// 附件簽名
	signer, err := attachment.NewSigner(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("attachment signer initialization failed: %w", err)
	}
	attachments := attachment.NewResolver(repos.Reports, signer)

	// 即時推送；啟用 Redis 時跨實例轉發
	var (
		hubOpts    []realtime.HubOption
		relayCheck health.Checker
	)
	if cfg.Redis.Enabled {
		relay, err := realtime.NewRedisRelay(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis relay initialization failed: %w", err)
		}
		hubOpts = append(hubOpts, realtime.WithRelay(relay))
		relayCheck = relay.Ping
	}
	hub := realtime.NewHub(hubOpts...)
	hub.Start(ctx)

	// 訊息事件
	publisher, err := events.New(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("event publisher initialization failed: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Errorf(ctx, "關閉事件發佈失敗: %v", err)
		}
	}()

	resolver := contacts.NewResolver(repos.Users, repos.Appointments, repos.Messages, contacts.Options{
		AdminLimit:        cfg.Limits.Contacts.AdminLimit,
		SearchLimit:       cfg.Limits.Contacts.SearchLimit,
		UnreadConcurrency: cfg.Limits.Contacts.UnreadConcurrency,
	})

	svc := messaging.NewService(repos.Messages, repos.Users, attachments, resolver,
		messaging.Options{
			MaxLength:     cfg.Limits.Message.MaxLength,
			UnreadPreview: cfg.Limits.Message.UnreadPreview,
			DeliverOnSend: cfg.Realtime.DeliverOnSend,
		},
		messaging.WithSealer(sealer),
		messaging.WithPublisher(publisher),
		messaging.WithNotifier(hub),
		messaging.WithAudit(auditor),
	)

	auth := middleware.NewJWTMiddleware(cfg.Security.Authentication, repos.Users, auditor)

	// gRPC：健康檢查 + 內部即時投遞
	grpcServer, err := gatewaygrpc.NewServer(hub, driver.Ping, auth, gatewaygrpc.Options{
		TLS:              cfg.Security.TLS,
		MaxMessageLength: cfg.Limits.Message.MaxLength,
	})
	if err != nil {
		logger.Error(ctx, "gRPC 服務器創建失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("server initialization failed")
	}
	go func() {
		if err := grpcServer.Start(cfg.GRPC.Port); err != nil {
			logger.Errorf(ctx, "gRPC 服務器啟動失敗: %v", err)
			stop()
		}
	}()

	connLimiter := server.NewConnectionLimiter(cfg.Realtime)
	httpServer := server.New(cfg, server.Dependencies{
		Auth:     auth,
		Messages: messaging.NewHandler(svc),
		Realtime: realtime.NewHandler(hub, auth, auditor,
			realtime.SettingsFromConfig(cfg.Realtime), cfg.Server.AllowedOrigins),
		Health: health.NewHealthHandler(health.Options{
			AppName:  cfg.App.Name,
			Debug:    cfg.App.Debug,
			Database: driver.Ping,
			Relay:    relayCheck,
			Realtime: func() interface{} {
				return map[string]interface{}{"hub": hub.Stats(), "limiter": connLimiter.Stats()}
			},
		}),
		RateLimiter: server.NewRateLimiter(cfg.Limits.RateLimiting, auditor),
		ConnLimiter: connLimiter,
	})

	logger.Notice(ctx, "[System] 服務器啟動完成", logger.WithDetails(map[string]interface{}{
		"http_port":  cfg.Server.Port,
		"grpc_port":  cfg.GRPC.Port,
		"redis":      cfg.Redis.Enabled,
		"kafka":      cfg.Kafka.Enabled,
		"encryption": cfg.Security.Encryption.Enabled,
	}))
	runErr := httpServer.Run(ctx)

	logger.Info(context.Background(), "正在關閉服務器...", logger.WithAction("shutdown"))
	stop()
	grpcServer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(shutdownCtx, "關閉即時推送失敗: %v", err)
	}

	return runErr
}
