package middleware

import (
	"fmt"
	"net/http"
	"time"

	"medchat-gateway/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware 只允許配置中的來源
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] || allowed["*"] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
		c.Header("Access-Control-Max-Age", "86400") // 預檢請求緩存 24 小時

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SecurityHeadersMiddleware 添加安全標頭
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// AccessLogMiddleware 以 GCP httpRequest 格式記錄每個請求
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		req := &logger.HTTPRequest{
			RequestMethod: c.Request.Method,
			RequestURL:    c.Request.URL.Path,
			Status:        status,
			UserAgent:     c.Request.UserAgent(),
			RemoteIP:      GetClientIP(c),
			Latency:       fmt.Sprintf("%.3fs", time.Since(start).Seconds()),
		}

		severity := logger.SeverityInfo
		switch {
		case status >= 500:
			severity = logger.SeverityError
		case status >= 400:
			severity = logger.SeverityWarning
		}
		logger.Log(c.Request.Context(), severity, "HTTP 請求",
			logger.WithHTTPRequest(req),
			logger.WithUserID(GetUserID(c)))
	}
}

// RecoveryMiddleware 捕捉 panic，記錄後返回 500
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Critical(c.Request.Context(), fmt.Sprintf("panic recovered: %v", r),
					logger.WithDetails(map[string]interface{}{
						"path":   c.Request.URL.Path,
						"method": c.Request.Method,
					}))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "服務器內部錯誤，請稍後再試",
					"success":    false,
					"request_id": GetRequestID(c),
				})
			}
		}()
		c.Next()
	}
}
