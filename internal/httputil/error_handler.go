package httputil

import (
	"fmt"
	"net/http"
	"strings"

	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// SafeError 安全的錯誤響應（不洩露內部信息）
func SafeError(c *gin.Context, statusCode, code int, err error, userMessage string) {
	// 記錄真實錯誤到日誌
	logger.Error(c.Request.Context(), fmt.Sprintf("API Error: %v", err),
		logger.WithUserID(middleware.GetUserID(c)),
		logger.WithDetails(map[string]interface{}{
			"request_id": middleware.GetRequestID(c),
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
		}))

	message := userMessage
	if shouldShowError(err) {
		message = err.Error()
	}

	abortJSON(c, statusCode, code, message)
}

// shouldShowError 判斷是否可以向用戶顯示錯誤詳情
func shouldShowError(err error) bool {
	if err == nil {
		return false
	}

	// 不應顯示的錯誤關鍵字（可能洩露敏感信息）
	dangerousKeywords := []string{
		"mongo",
		"database",
		"connection",
		"password",
		"token",
		"secret",
		"credential",
		"grpc",
		"redis",
		"kafka",
		"s3",
		"internal",
		"stack",
		"panic",
		"upstream",
	}

	lowerMsg := strings.ToLower(err.Error())
	for _, keyword := range dangerousKeywords {
		if strings.Contains(lowerMsg, keyword) {
			return false
		}
	}

	return true
}

func abortJSON(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      message,
		"code":       code,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// InternalServerError 內部服務器錯誤
func InternalServerError(c *gin.Context, err error) {
	SafeError(c, http.StatusInternalServerError, ErrorCodeProcessingFailed, err, "服務器內部錯誤，請稍後再試")
}

// ServiceUnavailable 依賴的外部服務暫時不可用
func ServiceUnavailable(c *gin.Context, err error) {
	SafeError(c, http.StatusServiceUnavailable, ErrorCodeUpstreamUnavailable, err, "服務暫時不可用，請稍後再試")
}

// BadRequest 錯誤的請求
func BadRequest(c *gin.Context, message string) {
	abortJSON(c, http.StatusBadRequest, ErrorCodeInvalidParameter, message)
}

// ValidationError 驗證錯誤
func ValidationError(c *gin.Context, field string, message string) {
	abortJSON(c, http.StatusBadRequest, ErrorCodeValidationFailed, fmt.Sprintf("%s: %s", field, message))
}
