package message

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MessageRepository message 倉儲接口.
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	FindConversation(ctx context.Context, userA, userB string) ([]*Message, error)
	MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
	CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error)
	RecentUnread(ctx context.Context, receiverID string, limit int) ([]*Message, error)
	DistinctSendersTo(ctx context.Context, receiverID string) ([]string, error)
}

// Message 一對一訊息數據模型；建立後只有 read 會變動.
type Message struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	SenderID   string        `bson:"senderId"`
	ReceiverID string        `bson:"receiverId"`
	Content    string        `bson:"content"`
	Attachment string        `bson:"attachment,omitempty"` // 報告 ID
	Timestamp  time.Time     `bson:"timestamp"`
	Read       bool          `bson:"read"`
}

// NewMessage 創建新的未讀 Message.
func NewMessage(senderID, receiverID, content, attachment string) *Message {
	return &Message{
		ID:         bson.NewObjectID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Attachment: attachment,
		Timestamp:  time.Now().UTC(),
		Read:       false,
	}
}
