package keymanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"medchat-gateway/internal/platform/logger"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyLength 主密鑰長度 (256 bits).
const MasterKeyLength = 32

const conversationInfo = "medchat/conversation/v1|"

// KeyManager 從主密鑰為每段對話導出獨立密鑰，不需持久化.
type KeyManager struct {
	masterKey []byte
}

// NewKeyManager 創建密鑰管理器.
func NewKeyManager(masterKey []byte) (*KeyManager, error) {
	if len(masterKey) != MasterKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeyLength, len(masterKey))
	}
	key := make([]byte, MasterKeyLength)
	copy(key, masterKey)
	return &KeyManager{masterKey: key}, nil
}

// ConversationID 兩個用戶之間對話的穩定 ID（與順序無關）.
func ConversationID(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// ConversationKey 以 HKDF-SHA256 導出對話密鑰.
func (km *KeyManager) ConversationKey(userA, userB string) ([]byte, error) {
	info := []byte(conversationInfo + ConversationID(userA, userB))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, km.masterKey, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive conversation key: %w", err)
	}
	return key, nil
}

// LoadMasterKey 載入主密鑰
// 從環境變量 MASTER_KEY 讀取 base64 編碼的 32 bytes 密鑰
// 如果未設置，生成臨時隨機密鑰（開發環境）
func LoadMasterKey(ctx context.Context) ([]byte, error) {
	masterKeyEnv := os.Getenv("MASTER_KEY")

	if masterKeyEnv != "" {
		masterKey, err := base64.StdEncoding.DecodeString(masterKeyEnv)
		if err != nil {
			logger.Error(ctx, "Master Key 格式錯誤", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return nil, fmt.Errorf("invalid master key configuration")
		}
		if len(masterKey) != MasterKeyLength {
			logger.Error(ctx, "Master Key 長度錯誤", logger.WithDetails(map[string]interface{}{"expected": MasterKeyLength, "got": len(masterKey)}))
			return nil, fmt.Errorf("invalid master key configuration")
		}

		logger.Info(ctx, "[SUCCESS] 成功從環境變量載入主密鑰", logger.WithDetails(map[string]interface{}{
			"masked": fmt.Sprintf("%x****", masterKey[:2]),
			"source": "MASTER_KEY environment variable",
		}))
		return masterKey, nil
	}

	masterKey := make([]byte, MasterKeyLength)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, fmt.Errorf("master key initialization failed")
	}

	logger.Warning(ctx, "[WARNING] 開發模式：使用臨時主密鑰（重啟後舊訊息將無法解密）", logger.WithDetails(map[string]interface{}{
		"masked": fmt.Sprintf("%x****", masterKey[:2]),
		"source": "randomly generated",
	}))
	logger.Info(ctx, "生成方式：export MASTER_KEY=$(openssl rand -base64 32)")

	return masterKey, nil
}
