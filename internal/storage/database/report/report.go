package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrReportNotFound 報告不存在.
var ErrReportNotFound = errors.New("report not found")

// ResourceType 物件儲存的資源分類.
type ResourceType string

const (
	ResourceRaw   ResourceType = "raw"
	ResourceImage ResourceType = "image"
)

// StoredFile 病患上傳的報告檔案參照.
type StoredFile struct {
	ID           bson.ObjectID `bson:"_id"`
	PatientID    string        `bson:"patientId"`
	DoctorID     string        `bson:"doctorId,omitempty"`
	Title        string        `bson:"title"`
	FileURL      string        `bson:"fileUrl"`
	ObjectKey    string        `bson:"objectKey,omitempty"`
	ResourceType ResourceType  `bson:"resourceType,omitempty"`
	FileType     string        `bson:"fileType,omitempty"`
	MimeType     string        `bson:"mimeType,omitempty"`
	UploadedAt   time.Time     `bson:"uploadedAt"`
}

// Class 回傳檔案分類；舊資料沒有 resourceType 時依 mimeType 判斷.
func (f *StoredFile) Class() ResourceType {
	switch f.ResourceType {
	case ResourceRaw, ResourceImage:
		return f.ResourceType
	}
	if strings.HasPrefix(strings.ToLower(f.MimeType), "image/") {
		return ResourceImage
	}
	return ResourceRaw
}

// Repository 報告查詢接口
type Repository interface {
	FindByID(ctx context.Context, id string) (*StoredFile, error)
	ListByPatient(ctx context.Context, patientID string) ([]*StoredFile, error)
}

// ReportStore 報告唯讀存儲
type ReportStore struct {
	collection *mongo.Collection
}

// NewReportStore 創建報告存儲
func NewReportStore(db *mongo.Database) *ReportStore {
	return &ReportStore{
		collection: db.Collection("reports"),
	}
}

// FindByID 根據 ID 獲取報告
func (s *ReportStore) FindByID(ctx context.Context, id string) (*StoredFile, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrReportNotFound
	}

	var file StoredFile
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&file)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// ListByPatient 列出病患的報告（新的在前）
func (s *ReportStore) ListByPatient(ctx context.Context, patientID string) ([]*StoredFile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}})
	cursor, err := s.collection.Find(ctx, bson.M{"patientId": patientID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	files := []*StoredFile{}
	if err := cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}
