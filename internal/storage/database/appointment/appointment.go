package appointment

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repository 預約查詢接口（預約本身由其他服務維護）
type Repository interface {
	DistinctPatientIDsForDoctor(ctx context.Context, doctorID string) ([]string, error)
}

// AppointmentStore 預約唯讀存儲
type AppointmentStore struct {
	collection *mongo.Collection
}

// NewAppointmentStore 創建預約存儲
func NewAppointmentStore(db *mongo.Database) *AppointmentStore {
	return &AppointmentStore{
		collection: db.Collection("appointments"),
	}
}

// DistinctPatientIDsForDoctor 列出與該醫師有過任何狀態預約的病患 ID
func (s *AppointmentStore) DistinctPatientIDsForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	var ids []string
	res := s.collection.Distinct(ctx, "patientId", bson.M{"doctorId": doctorID})
	if err := res.Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}
