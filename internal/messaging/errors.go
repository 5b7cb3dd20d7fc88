package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 請求內容不合法，不會寫入任何資料.
	ErrValidation = errors.New("validation failed")
	// ErrUpstreamUnavailable 依賴的目錄、附件或預約存儲無法使用.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ValidationError 帶欄位的驗證錯誤.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap 讓 errors.Is(err, ErrValidation) 成立.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}
