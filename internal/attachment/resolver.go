package attachment

import (
	"context"
	"errors"
	"time"

	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/metrics"
	"medchat-gateway/internal/storage/database/report"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrNotFound 附件不存在.
	ErrNotFound = errors.New("attachment not found")
	// ErrUnavailable 附件存儲暫時無法使用.
	ErrUnavailable = errors.New("attachment store unavailable")
)

// Attachment 回傳給客戶端的附件檢視（URL 已簽名）.
type Attachment struct {
	ID           string              `json:"_id"`
	Title        string              `json:"title"`
	URL          string              `json:"fileUrl"`
	ResourceType report.ResourceType `json:"resourceType"`
	FileType     string              `json:"fileType,omitempty"`
	MimeType     string              `json:"mimeType,omitempty"`
	UploadedAt   time.Time           `json:"uploadedAt"`
}

// Resolver 查找報告並產生簽名 URL.
type Resolver struct {
	reports report.Repository
	signer  Signer
	breaker *gobreaker.CircuitBreaker[*report.StoredFile]
}

// NewResolver 創建附件解析器，報告查詢經過熔斷器.
func NewResolver(reports report.Repository, signer Signer) *Resolver {
	if signer == nil {
		signer = PassthroughSigner{}
	}
	st := gobreaker.Settings{
		Name:        "attachment-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, report.ErrReportNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warning(context.Background(), "熔斷器狀態變更", logger.WithDetails(map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}))
		},
	}
	return &Resolver{
		reports: reports,
		signer:  signer,
		breaker: gobreaker.NewCircuitBreaker[*report.StoredFile](st),
	}
}

// Lookup 查找附件；不存在回傳 ErrNotFound，存儲故障回傳 ErrUnavailable.
func (r *Resolver) Lookup(ctx context.Context, id string) (*report.StoredFile, error) {
	file, err := r.breaker.Execute(func() (*report.StoredFile, error) {
		return r.reports.FindByID(ctx, id)
	})
	switch {
	case err == nil:
		return file, nil
	case errors.Is(err, report.ErrReportNotFound):
		return nil, ErrNotFound
	default:
		return nil, errors.Join(ErrUnavailable, err)
	}
}

// View 產生附件檢視；簽名失敗時回退為原始 URL，不會失敗.
func (r *Resolver) View(ctx context.Context, file *report.StoredFile) *Attachment {
	obj := Object{Key: file.ObjectKey, URL: file.FileURL, Class: file.Class()}

	url, err := r.signer.Sign(ctx, obj)
	if err != nil || url == "" {
		metrics.AttachmentSignFailures.Inc()
		logger.Warning(ctx, "附件簽名失敗，使用原始 URL", logger.WithDetails(map[string]interface{}{
			"report_id": file.ID.Hex(),
			"error":     errString(err),
		}))
		url = file.FileURL
	}

	return &Attachment{
		ID:           file.ID.Hex(),
		Title:        file.Title,
		URL:          url,
		ResourceType: obj.Class,
		FileType:     file.FileType,
		MimeType:     file.MimeType,
		UploadedAt:   file.UploadedAt,
	}
}

// Resolve 查找並簽名；任何失敗都回傳 nil（訊息仍可顯示）.
func (r *Resolver) Resolve(ctx context.Context, id string) *Attachment {
	if id == "" {
		return nil
	}
	file, err := r.Lookup(ctx, id)
	if err != nil {
		logger.Warning(ctx, "附件無法解析", logger.WithDetails(map[string]interface{}{
			"report_id": id,
			"error":     err.Error(),
		}))
		return nil
	}
	return r.View(ctx, file)
}

// ListForPatient 病患自己的報告（新的在前，URL 已簽名）.
func (r *Resolver) ListForPatient(ctx context.Context, patientID string) ([]*Attachment, error) {
	files, err := r.reports.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	views := make([]*Attachment, 0, len(files))
	for _, f := range files {
		views = append(views, r.View(ctx, f))
	}
	return views, nil
}

func errString(err error) string {
	if err == nil {
		return "empty url"
	}
	return err.Error()
}
