package server

import (
	"medchat-gateway/internal/messaging"
	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/health"
	"medchat-gateway/internal/platform/metrics"
	"medchat-gateway/internal/platform/middleware"
	"medchat-gateway/internal/realtime"
	"medchat-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
)

const (
	messagesPrefix = "/api/v1/messages"
	sendRoute      = messagesPrefix + "/send"
	searchRoute    = messagesPrefix + "/search"
)

// Dependencies 路由需要的處理器和中間件.
type Dependencies struct {
	Auth        *middleware.JWTMiddleware
	Messages    *messaging.Handler
	Realtime    *realtime.Handler
	Health      *health.Handler
	RateLimiter *middleware.PerEndpointRateLimiter // nil 表示不限流
	ConnLimiter *middleware.ConnectionLimiter      // nil 表示不限制連線
}

// NewRateLimiter 依配置建立每端點限流器；未啟用時回傳 nil.
func NewRateLimiter(cfg config.RateLimitingConfig, auditor *audit.AuditService) *middleware.PerEndpointRateLimiter {
	if !cfg.Enabled {
		return nil
	}
	rl := middleware.NewPerEndpointRateLimiter(cfg.DefaultPerMinute, auditor)
	if cfg.SendPerMinute > 0 {
		rl.SetLimit(sendRoute, cfg.SendPerMinute)
	}
	if cfg.SearchPerMinute > 0 {
		rl.SetLimit(searchRoute, cfg.SearchPerMinute)
	}
	return rl
}

// Router 設定路由.
func Router(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RecoveryMiddleware(),
		middleware.RequestIDMiddleware(),
		middleware.AccessLogMiddleware(),
		metrics.GinMiddleware(),
		middleware.CORSMiddleware(cfg.Server.AllowedOrigins),
		middleware.SecurityHeadersMiddleware(),
		middleware.RequestMetadataMiddleware(),
		middleware.RequestSizeLimiter(cfg.Limits.Request.MaxBodySize),
	)

	r.GET("/health", deps.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// WebSocket 在升級前檢查連線數
	ws := []gin.HandlerFunc{}
	if deps.ConnLimiter != nil {
		ws = append(ws, deps.ConnLimiter.Middleware())
	}
	ws = append(ws, deps.Realtime.ServeWS)
	r.GET("/ws", ws...)

	api := r.Group(messagesPrefix)
	api.Use(deps.Auth.GinMiddleware())
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.Middleware())
	}
	deps.Messages.Register(api)

	return r
}
