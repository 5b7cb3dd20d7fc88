package database

import (
	"context"

	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/storage/database/appointment"
	"medchat-gateway/internal/storage/database/directory"
	"medchat-gateway/internal/storage/database/message"
	"medchat-gateway/internal/storage/database/report"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Users        *directory.UserStore
	Appointments *appointment.AppointmentStore
	Messages     *message.MessageStore
	Reports      *report.ReportStore
}

// NewRepositories 創建倉儲集合.
func NewRepositories(ctx context.Context, db *mongo.Database) *Repositories {
	if db == nil {
		return nil
	}

	// 索引失敗不中斷服務啟動
	if err := CreateIndexes(ctx, db); err != nil {
		logger.Warning(ctx, "創建索引失敗", logger.WithDetails(map[string]interface{}{
			"error": err.Error(),
		}))
	}

	return &Repositories{
		Users:        directory.NewUserStore(db),
		Appointments: appointment.NewAppointmentStore(db),
		Messages:     message.NewMessageStore(db),
		Reports:      report.NewReportStore(db),
	}
}
