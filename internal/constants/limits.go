package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 1 << 20 // 1MB
	DefaultRequestTimeout     = 30      // 秒
)

// 訊息相關常數
const (
	DefaultMaxMessageLength   = 10000
	DefaultUnreadPreviewLimit = 5
)

// 聯絡人相關常數
const (
	DefaultAdminContactLimit = 100
	DefaultSearchLimit       = 20
	DefaultUnreadConcurrency = 8
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultSendRateLimit        = 30
	DefaultSearchRateLimit      = 60
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// 即時連線相關常數
const (
	DefaultWSMaxConnectionsPerIP   = 10
	DefaultWSMaxTotalConnections   = 5000
	DefaultWSPingIntervalSeconds   = 25
	DefaultWSPongWaitSeconds       = 60
	DefaultWSWriteWaitSeconds      = 10
	DefaultWSSendBuffer            = 64
	DefaultWSMaxMessageBytes       = 16 << 10
	WSConnectionCleanupIntervalMin = 10 // 分鐘
)

// 附件簽名相關常數
const (
	DefaultPresignTTLSeconds = 900
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)
