package attachment

import (
	"context"
	"fmt"
	"time"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/storage/database/report"
)

// Object 要簽名的物件參照.
type Object struct {
	Key   string // 物件儲存中的 key / public id
	URL   string // 上傳時記錄的原始 URL
	Class report.ResourceType
}

// Signer 產生有時效的存取 URL，純本地計算.
type Signer interface {
	Sign(ctx context.Context, obj Object) (string, error)
}

// PassthroughSigner 不簽名，直接回傳原始 URL.
type PassthroughSigner struct{}

// Sign 回傳原始 URL.
func (PassthroughSigner) Sign(_ context.Context, obj Object) (string, error) {
	return obj.URL, nil
}

// NewSigner 依配置建立簽名器.
func NewSigner(ctx context.Context, cfg config.StorageConfig) (Signer, error) {
	ttl := time.Duration(cfg.PresignTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	switch cfg.Provider {
	case "", "none":
		return PassthroughSigner{}, nil
	case "s3":
		return NewS3Signer(ctx, cfg.S3, ttl)
	case "cloudinary":
		return NewCloudinarySigner(cfg.Cloudinary)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}
