package attachment

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/storage/database/report"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeReports struct {
	files map[string]*report.StoredFile
	err   error
	calls int
}

func (f *fakeReports) FindByID(_ context.Context, id string) (*report.StoredFile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	file, ok := f.files[id]
	if !ok {
		return nil, report.ErrReportNotFound
	}
	return file, nil
}

func (f *fakeReports) ListByPatient(_ context.Context, patientID string) ([]*report.StoredFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*report.StoredFile
	for _, file := range f.files {
		if file.PatientID == patientID {
			out = append(out, file)
		}
	}
	return out, nil
}

type failingSigner struct{}

func (failingSigner) Sign(context.Context, Object) (string, error) {
	return "", errors.New("boom")
}

func newFile(mime, key string) *report.StoredFile {
	return &report.StoredFile{
		ID:         bson.NewObjectID(),
		PatientID:  "PAT001",
		Title:      "Blood test",
		FileURL:    "https://res.cloudinary.com/demo/raw/upload/v1712345/reports/blood.pdf",
		ObjectKey:  key,
		MimeType:   mime,
		UploadedAt: time.Now(),
	}
}

func newCloudinary(t *testing.T, secret string) *CloudinarySigner {
	t.Helper()
	s, err := NewCloudinarySigner(config.CloudinaryConfig{CloudName: "demo", APIKey: "123456", APISecret: secret})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// cloudinaryPath 拆出 /<cloud>/<type>/upload/s--<sig>--/<rest>.
func cloudinaryPath(t *testing.T, raw string) (resourceType, sig, rest string) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("URL 無法解析: %s", raw)
	}
	if u.Scheme != "https" || u.Host != "res.cloudinary.com" {
		t.Errorf("應使用 https://res.cloudinary.com: %s", raw)
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 5)
	if len(parts) != 5 || parts[0] != "demo" || parts[2] != "upload" {
		t.Fatalf("URL 路徑錯誤: %s", u.Path)
	}
	if !strings.HasPrefix(parts[3], "s--") || !strings.HasSuffix(parts[3], "--") {
		t.Fatalf("缺少簽名段: %s", u.Path)
	}
	return parts[1], strings.TrimSuffix(strings.TrimPrefix(parts[3], "s--"), "--"), parts[4]
}

func TestCloudinarySignerRawFromLegacyURL(t *testing.T) {
	s := newCloudinary(t, "secret")
	got, err := s.Sign(context.Background(), Object{
		URL:   "https://res.cloudinary.com/demo/raw/upload/v1712345/reports/blood.pdf",
		Class: report.ResourceRaw,
	})
	if err != nil {
		t.Fatalf("簽名失敗: %v", err)
	}
	resourceType, sig, rest := cloudinaryPath(t, got)
	if resourceType != "raw" {
		t.Errorf("期望 raw，實際為 %s", resourceType)
	}
	if rest != "v1712345/reports/blood.pdf" {
		t.Errorf("應保留版本與 public id，實際為 %s", rest)
	}
	if len(sig) != 8 {
		t.Errorf("簽名長度應為 8，實際為 %d (%s)", len(sig), sig)
	}

	other, err := newCloudinary(t, "another").Sign(context.Background(), Object{
		URL:   "https://res.cloudinary.com/demo/raw/upload/v1712345/reports/blood.pdf",
		Class: report.ResourceRaw,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, otherSig, _ := cloudinaryPath(t, other); otherSig == sig {
		t.Error("不同密鑰應產生不同簽名")
	}
}

func TestCloudinarySignerImageAndForeignURL(t *testing.T) {
	s := newCloudinary(t, "secret")

	got, err := s.Sign(context.Background(), Object{Key: "scans/xray", Class: report.ResourceImage})
	if err != nil {
		t.Fatal(err)
	}
	if resourceType, _, rest := cloudinaryPath(t, got); resourceType != "image" || !strings.HasSuffix(rest, "scans/xray") {
		t.Errorf("圖片應使用 image 資源類型: %s", got)
	}

	foreign := "https://files.example.com/a.pdf"
	got, err = s.Sign(context.Background(), Object{URL: foreign, Class: report.ResourceRaw})
	if err != nil || got != foreign {
		t.Errorf("非 Cloudinary URL 應原樣回傳，got %s err %v", got, err)
	}

	if _, err := s.Sign(context.Background(), Object{URL: "https://res.cloudinary.com/demo/raw/upload/", Class: report.ResourceRaw}); err == nil {
		t.Error("取不出 public id 時應返回錯誤")
	}
}

func TestPublicIDFromURL(t *testing.T) {
	tests := []struct {
		url         string
		wantID      string
		wantVersion int
		wantOK      bool
	}{
		{"https://res.cloudinary.com/demo/raw/upload/v1712345/reports/blood.pdf", "reports/blood.pdf", 1712345, true},
		{"https://res.cloudinary.com/demo/image/upload/scans/xray.png", "scans/xray.png", 0, true},
		{"https://res.cloudinary.com/demo/image/upload/vacation.png", "vacation.png", 0, true},
		{"https://res.cloudinary.com/demo/raw/upload/", "", 0, false},
		{"https://files.example.com/a.pdf", "", 0, false},
	}
	for _, tt := range tests {
		id, version, ok := publicIDFromURL(tt.url)
		if id != tt.wantID || version != tt.wantVersion || ok != tt.wantOK {
			t.Errorf("%s: 期望 (%s, %d, %v)，實際為 (%s, %d, %v)", tt.url, tt.wantID, tt.wantVersion, tt.wantOK, id, version, ok)
		}
	}
}

func TestS3SignerPresignsOffline(t *testing.T) {
	awsConfig := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "SECRET", ""),
	}
	s := NewS3SignerFromConfig(awsConfig, config.S3Config{
		Bucket:       "medchat-reports",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
	}, 5*time.Minute)

	raw, err := s.Sign(context.Background(), Object{Key: "reports/blood.pdf", Class: report.ResourceRaw})
	if err != nil {
		t.Fatalf("presign 失敗: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/medchat-reports/reports/blood.pdf" {
		t.Errorf("路徑錯誤: %s", u.Path)
	}
	q := u.Query()
	if q.Get("X-Amz-Expires") != "300" {
		t.Errorf("期望有效期 300 秒，實際為 %s", q.Get("X-Amz-Expires"))
	}
	if !strings.HasPrefix(q.Get("response-content-disposition"), "attachment") {
		t.Errorf("raw 檔案應以下載方式回應: %s", q.Get("response-content-disposition"))
	}

	img, err := s.Sign(context.Background(), Object{Key: "scans/x.png", Class: report.ResourceImage})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(img, "response-content-disposition=inline") {
		t.Errorf("圖片應內嵌顯示: %s", img)
	}

	if _, err := s.Sign(context.Background(), Object{URL: "x"}); err == nil {
		t.Error("缺少 key 應返回錯誤")
	}
}

func TestResolverLookupErrors(t *testing.T) {
	file := newFile("application/pdf", "")
	repo := &fakeReports{files: map[string]*report.StoredFile{file.ID.Hex(): file}}
	r := NewResolver(repo, PassthroughSigner{})

	if _, err := r.Lookup(context.Background(), bson.NewObjectID().Hex()); !errors.Is(err, ErrNotFound) {
		t.Errorf("期望 ErrNotFound，實際為 %v", err)
	}
	got, err := r.Lookup(context.Background(), file.ID.Hex())
	if err != nil || got != file {
		t.Fatalf("查找失敗: %v", err)
	}

	repo.err = errors.New("connection refused")
	if _, err := r.Lookup(context.Background(), file.ID.Hex()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("期望 ErrUnavailable，實際為 %v", err)
	}
}

func TestResolverBreakerOpensAfterFailures(t *testing.T) {
	repo := &fakeReports{err: errors.New("timeout")}
	r := NewResolver(repo, PassthroughSigner{})

	for i := 0; i < 5; i++ {
		_, _ = r.Lookup(context.Background(), "x")
	}
	calls := repo.calls
	if _, err := r.Lookup(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("熔斷後期望 ErrUnavailable，實際為 %v", err)
	}
	if repo.calls != calls {
		t.Error("熔斷器開啟時不應再呼叫存儲")
	}
}

func TestResolverViewFallsBackToOriginalURL(t *testing.T) {
	file := newFile("image/png", "scans/x.png")
	r := NewResolver(&fakeReports{}, failingSigner{})

	view := r.View(context.Background(), file)
	if view.URL != file.FileURL {
		t.Errorf("簽名失敗應回退到原始 URL，實際為 %s", view.URL)
	}
	if view.ResourceType != report.ResourceImage {
		t.Errorf("期望 image，實際為 %s", view.ResourceType)
	}
}

func TestResolveMissingReturnsNil(t *testing.T) {
	r := NewResolver(&fakeReports{files: map[string]*report.StoredFile{}}, nil)
	if got := r.Resolve(context.Background(), bson.NewObjectID().Hex()); got != nil {
		t.Errorf("不存在的附件應回傳 nil，實際為 %+v", got)
	}
	if got := r.Resolve(context.Background(), ""); got != nil {
		t.Error("空 ID 應回傳 nil")
	}
}

func TestListForPatient(t *testing.T) {
	file := newFile("application/pdf", "")
	r := NewResolver(&fakeReports{files: map[string]*report.StoredFile{file.ID.Hex(): file}}, newCloudinary(t, "s"))

	views, err := r.ListForPatient(context.Background(), "PAT001")
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || !strings.Contains(views[0].URL, "/raw/upload/s--") {
		t.Errorf("報告列表錯誤: %+v", views)
	}
}

func TestNewSignerProviders(t *testing.T) {
	s, err := NewSigner(context.Background(), config.StorageConfig{Provider: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(PassthroughSigner); !ok {
		t.Errorf("期望 PassthroughSigner，實際為 %T", s)
	}
	if _, err := NewSigner(context.Background(), config.StorageConfig{Provider: "ftp"}); err == nil {
		t.Error("未知提供者應返回錯誤")
	}
}
