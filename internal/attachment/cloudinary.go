package attachment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/storage/database/report"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/asset"
)

// CloudinarySigner 產生 Cloudinary 簽名的交付 URL（s--<sig>--）.
type CloudinarySigner struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinarySigner 建立 Cloudinary 簽名器；只做本地計算，不呼叫 API.
func NewCloudinarySigner(cfg config.CloudinaryConfig) (*CloudinarySigner, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true
	cld.Config.URL.SignURL = true
	return &CloudinarySigner{cld: cld}, nil
}

// Sign 簽名；沒有 key 的舊資料從 URL 取出 public id，非 Cloudinary 的 URL 原樣回傳.
func (s *CloudinarySigner) Sign(_ context.Context, obj Object) (string, error) {
	publicID, version := obj.Key, 0
	if publicID == "" {
		if !strings.Contains(obj.URL, "cloudinary.com") {
			return obj.URL, nil
		}
		var ok bool
		publicID, version, ok = publicIDFromURL(obj.URL)
		if !ok {
			return "", fmt.Errorf("cannot extract public id from %q", obj.URL)
		}
	}

	var (
		a   *asset.Asset
		err error
	)
	if obj.Class == report.ResourceImage {
		a, err = s.cld.Image(publicID)
	} else {
		a, err = s.cld.File(publicID)
	}
	if err != nil {
		return "", fmt.Errorf("build cloudinary asset %s: %w", publicID, err)
	}
	a.Version = version
	return a.String()
}

// publicIDFromURL 取出 /upload/ 之後的 public id 與版本號.
func publicIDFromURL(url string) (string, int, bool) {
	_, after, found := strings.Cut(url, "/upload/")
	if !found || after == "" {
		return "", 0, false
	}

	parts := strings.Split(after, "/")
	version := 0
	if v, ok := versionSegment(parts[0]); ok {
		version = v
		parts = parts[1:]
	}
	if len(parts) == 0 || parts[0] == "" {
		return "", 0, false
	}
	return strings.Join(parts, "/"), version, true
}

func versionSegment(seg string) (int, bool) {
	if len(seg) < 2 || seg[0] != 'v' {
		return 0, false
	}
	v, err := strconv.Atoi(seg[1:])
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
