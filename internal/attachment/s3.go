package attachment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/storage/database/report"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var errMissingKey = errors.New("object key is empty")

// S3Signer 以 S3 presigned GET 產生附件 URL（支援 MinIO 等相容端點）.
type S3Signer struct {
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
}

// NewS3Signer 從配置建立 S3 簽名器.
func NewS3Signer(ctx context.Context, cfg config.S3Config, ttl time.Duration) (*S3Signer, error) {
	opts := []func(*awscfg.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3SignerFromConfig(awsConfig, cfg, ttl), nil
}

// NewS3SignerFromConfig 使用既有 aws.Config 建立簽名器.
func NewS3SignerFromConfig(awsConfig aws.Config, cfg config.S3Config, ttl time.Duration) *S3Signer {
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Signer{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		ttl:       ttl,
	}
}

// Sign 產生 presigned GET URL；raw 檔案以下載方式回應，圖片內嵌顯示.
func (s *S3Signer) Sign(ctx context.Context, obj Object) (string, error) {
	if obj.Key == "" {
		return "", errMissingKey
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(obj.Key),
	}
	if obj.Class == report.ResourceRaw {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(obj.Key)))
	} else {
		input.ResponseContentDisposition = aws.String("inline")
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", obj.Key, err)
	}
	return req.URL, nil
}
