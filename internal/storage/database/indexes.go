package database

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建聊天相關查詢的索引
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	messages := db.Collection("messages")

	messageIndexes := []mongo.IndexModel{
		// 對話查詢與已讀標記：(sender, receiver) + 時間
		{
			Keys: bson.D{
				{Key: "senderId", Value: 1},
				{Key: "receiverId", Value: 1},
				{Key: "timestamp", Value: 1},
			},
			Options: options.Index().SetName("conversation_time_idx"),
		},
		// 未讀統計與未讀預覽
		{
			Keys: bson.D{
				{Key: "receiverId", Value: 1},
				{Key: "read", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("receiver_unread_idx"),
		},
	}
	if _, err := messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	users := db.Collection("users")
	if _, err := users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "role", Value: 1}},
		Options: options.Index().SetName("role_idx"),
	}); err != nil {
		return err
	}

	reports := db.Collection("reports")
	if _, err := reports.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "patientId", Value: 1},
			{Key: "uploadedAt", Value: -1},
		},
		Options: options.Index().SetName("patient_uploaded_idx"),
	}); err != nil {
		return err
	}

	appointments := db.Collection("appointments")
	_, err := appointments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "doctorId", Value: 1}},
		Options: options.Index().SetName("doctor_idx"),
	})
	return err
}
