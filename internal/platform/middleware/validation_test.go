package middleware

import (
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"PAT001", false},
		{"DOC_42", false},
		{"", true},
		{"   ", true},
		{"PAT$ne", true},
		{"a{b}", true},
		{strings.Repeat("x", 101), true},
	}
	for _, tt := range tests {
		if err := ValidateUserID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateUserID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestValidateMessageContent(t *testing.T) {
	if err := ValidateMessageContent("你好", 2); err != nil {
		t.Errorf("以字符計算長度，不應報錯: %v", err)
	}
	if err := ValidateMessageContent("abc", 2); err == nil {
		t.Error("超過長度應報錯")
	}
}

func TestSanitizeInput(t *testing.T) {
	got := SanitizeInput("a\x00b\x07c\nd\te")
	if got != "abc\nd\te" {
		t.Errorf("SanitizeInput 結果錯誤: %q", got)
	}
}
