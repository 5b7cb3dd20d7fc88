package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"medchat-gateway/internal/constants"
	"medchat-gateway/internal/storage/database/filter"

	"github.com/gin-gonic/gin"
)

// ValidateMessageContent 驗證訊息內容長度與非法字符；空內容由呼叫方決定是否允許
func ValidateMessageContent(content string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = constants.DefaultMaxMessageLength
	}

	if len([]rune(content)) > maxLength {
		return fmt.Errorf("訊息內容超過最大長度限制 (%d 字符)", maxLength)
	}

	return nil
}

// ValidateUserID 驗證用戶 ID 格式
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("用戶 ID 不能為空")
	}

	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("用戶 ID 格式錯誤")
	}

	// 防止 NULL 字符注入和 MongoDB 運算子
	if strings.ContainsAny(userID, "\x00${}[]") {
		return fmt.Errorf("用戶 ID 包含非法字符")
	}

	return nil
}

// ValidateAttachmentID 驗證附件（報告）ID 格式（MongoDB ObjectID）
func ValidateAttachmentID(id string) error {
	if err := filter.ValidateObjectID(id); err != nil {
		return fmt.Errorf("附件 ID 格式錯誤")
	}
	return nil
}

// SanitizeInput 消毒輸入（移除危險字符）
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	// 移除控制字符（除了換行和 Tab）
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// RequestSizeLimiter 限制請求體大小的中間件
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":      fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		c.Next()
	}
}
