package filter

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var objectIDPattern = regexp.MustCompile("^[a-fA-F0-9]{24}$")

// ValidateObjectID 驗證 MongoDB ObjectID 格式
func ValidateObjectID(id string) error {
	if !objectIDPattern.MatchString(id) {
		return fmt.Errorf("無效的 ObjectID 格式")
	}
	return nil
}

// SafeRegexQuery 創建安全的正則表達式查詢（防止 ReDoS 與操作符注入）
func SafeRegexQuery(pattern string) bson.M {
	return bson.M{
		"$regex":   regexp.QuoteMeta(pattern),
		"$options": "i", // 不區分大小寫
	}
}

// ValidateLimit 驗證並限制查詢數量
func ValidateLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
