package middleware

import (
	"strings"

	"medchat-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
)

// RequestMetadataMiddleware 提取請求來源（IP、User-Agent）存入 context，供審計使用
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := audit.RequestInfo{
			IPAddress: GetClientIP(c),
			UserAgent: c.Request.UserAgent(),
		}
		c.Request = c.Request.WithContext(audit.WithRequestInfo(c.Request.Context(), info))

		c.Next()
	}
}

// GetClientIP 獲取客戶端真實 IP
func GetClientIP(c *gin.Context) string {
	// 反向代理時 X-Forwarded-For 可能包含多個 IP，取第一個
	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := c.Request.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return c.ClientIP()
}
