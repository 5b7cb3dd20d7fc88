package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"medchat-gateway/internal/security/keymanager"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealedPrefix 加密內容的前綴；沒有前綴的內容視為舊的明文資料.
const SealedPrefix = "xc20p:"

// ErrKeysUnavailable 內容已加密但未設定密鑰.
var ErrKeysUnavailable = errors.New("message is sealed but encryption keys are not configured")

// MessageEncryption 消息加密服務
// 使用 XChaCha20-Poly1305，每段對話一把 HKDF 導出的密鑰，對話 ID 作為附加資料
type MessageEncryption struct {
	enabled    bool
	keyManager *keymanager.KeyManager
}

// NewMessageEncryption 創建消息加密服務；km 為 nil 時只能讀取明文.
func NewMessageEncryption(enabled bool, km *keymanager.KeyManager) *MessageEncryption {
	if km == nil {
		enabled = false
	}
	return &MessageEncryption{
		enabled:    enabled,
		keyManager: km,
	}
}

// Enabled 是否會加密新訊息.
func (m *MessageEncryption) Enabled() bool {
	return m.enabled
}

// Seal 加密訊息內容；未啟用時原樣返回.
func (m *MessageEncryption) Seal(senderID, receiverID, content string) (string, error) {
	if !m.enabled {
		return content, nil
	}

	aead, err := m.aead(senderID, receiverID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(content)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ad := []byte(keymanager.ConversationID(senderID, receiverID))
	sealed := aead.Seal(nonce, nonce, []byte(content), ad)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open 解密訊息內容；沒有前綴的舊資料原樣返回.
func (m *MessageEncryption) Open(senderID, receiverID, stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if m.keyManager == nil {
		return "", ErrKeysUnavailable
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed content: %w", err)
	}

	aead, err := m.aead(senderID, receiverID)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("sealed content too short")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	ad := []byte(keymanager.ConversationID(senderID, receiverID))
	plain, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plain), nil
}

// IsSealed 檢查內容是否已加密
func IsSealed(content string) bool {
	return strings.HasPrefix(content, SealedPrefix)
}

func (m *MessageEncryption) aead(senderID, receiverID string) (cipher.AEAD, error) {
	key, err := m.keyManager.ConversationKey(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}
