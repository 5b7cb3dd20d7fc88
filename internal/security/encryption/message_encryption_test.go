package encryption

import (
	"bytes"
	"strings"
	"testing"

	"medchat-gateway/internal/security/keymanager"
)

func newTestEncryption(t *testing.T, enabled bool) *MessageEncryption {
	t.Helper()
	km, err := keymanager.NewKeyManager(bytes.Repeat([]byte{1}, keymanager.MasterKeyLength))
	if err != nil {
		t.Fatal(err)
	}
	return NewMessageEncryption(enabled, km)
}

func TestSealOpenRoundTrip(t *testing.T) {
	enc := newTestEncryption(t, true)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Simple text", "Hello"},
		{"Unicode", "你好，醫生！🩺"},
		{"Long text", strings.Repeat("This is a long message. ", 100)},
		{"Empty", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := enc.Seal("PAT001", "DOC001", tc.plaintext)
			if err != nil {
				t.Fatalf("Encryption failed: %v", err)
			}
			if !IsSealed(sealed) {
				t.Errorf("Invalid ciphertext format: missing prefix")
			}

			// 任一方向讀取都能解密
			plain, err := enc.Open("DOC001", "PAT001", sealed)
			if err != nil {
				t.Fatalf("Decryption failed: %v", err)
			}
			if plain != tc.plaintext {
				t.Errorf("Decryption mismatch.\nWant: %s\nGot: %s", tc.plaintext, plain)
			}
		})
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	enc := newTestEncryption(t, true)
	a, _ := enc.Seal("PAT001", "DOC001", "same")
	b, _ := enc.Seal("PAT001", "DOC001", "same")
	if a == b {
		t.Error("相同明文兩次加密結果不應相同")
	}
}

func TestOpenRejectsOtherConversation(t *testing.T) {
	enc := newTestEncryption(t, true)
	sealed, _ := enc.Seal("PAT001", "DOC001", "secret")
	if _, err := enc.Open("PAT001", "DOC002", sealed); err == nil {
		t.Error("其他對話的密鑰不應能解密")
	}
}

func TestLegacyPlaintextPassesThrough(t *testing.T) {
	enc := newTestEncryption(t, true)
	got, err := enc.Open("PAT001", "DOC001", "plain old message")
	if err != nil || got != "plain old message" {
		t.Errorf("舊明文應原樣返回，got %q err %v", got, err)
	}
}

func TestDisabledStoresPlaintext(t *testing.T) {
	enc := NewMessageEncryption(true, nil)
	if enc.Enabled() {
		t.Fatal("沒有密鑰管理器時不應啟用加密")
	}
	got, _ := enc.Seal("a", "b", "hi")
	if got != "hi" {
		t.Errorf("未啟用時應存明文，實際為 %q", got)
	}
	if _, err := enc.Open("a", "b", SealedPrefix+"AAAA"); err != ErrKeysUnavailable {
		t.Errorf("期望 ErrKeysUnavailable，實際為 %v", err)
	}
}
