package message

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessageStore message 存儲實作.
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建新的 message 存儲.
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Create 創建消息.
func (s *MessageStore) Create(ctx context.Context, message *Message) error {
	if message.ID.IsZero() {
		message.ID = bson.NewObjectID()
	}
	_, err := s.collection.InsertOne(ctx, message)
	return err
}

// conversationFilter 兩人之間雙向的訊息.
func conversationFilter(userA, userB string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"senderId": userA, "receiverId": userB},
		bson.M{"senderId": userB, "receiverId": userA},
	}}
}

// unreadFromFilter 單一方向 sender -> receiver 的未讀訊息.
func unreadFromFilter(senderID, receiverID string) bson.M {
	return bson.M{
		"senderId":   senderID,
		"receiverId": receiverID,
		"read":       false,
	}
}

// inboxUnreadFilter 用戶收到的所有未讀訊息.
func inboxUnreadFilter(receiverID string) bson.M {
	return bson.M{"receiverId": receiverID, "read": false}
}

var (
	// 同一時間戳以 _id 決定順序
	conversationSort = bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}
	recentUnreadSort = bson.D{{Key: "timestamp", Value: -1}}
	markReadUpdate   = bson.M{"$set": bson.M{"read": true}}
)

// FindConversation 獲取兩人對話（按時間正序）.
func (s *MessageStore) FindConversation(ctx context.Context, userA, userB string) ([]*Message, error) {
	opts := options.Find().SetSort(conversationSort)
	return s.find(ctx, conversationFilter(userA, userB), opts)
}

// MarkConversationRead 將 sender -> receiver 方向的未讀訊息標記為已讀，只影響這一個方向.
func (s *MessageStore) MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	res, err := s.collection.UpdateMany(ctx, unreadFromFilter(senderID, receiverID), markReadUpdate)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// CountUnread 統計用戶的未讀訊息總數.
func (s *MessageStore) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	return s.collection.CountDocuments(ctx, inboxUnreadFilter(receiverID))
}

// CountUnreadFrom 統計來自特定用戶的未讀訊息數.
func (s *MessageStore) CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error) {
	return s.collection.CountDocuments(ctx, unreadFromFilter(senderID, receiverID))
}

// RecentUnread 最新的未讀訊息（新的在前）.
func (s *MessageStore) RecentUnread(ctx context.Context, receiverID string, limit int) ([]*Message, error) {
	opts := options.Find().
		SetSort(recentUnreadSort).
		SetLimit(int64(limit))
	return s.find(ctx, inboxUnreadFilter(receiverID), opts)
}

// DistinctSendersTo 曾發訊息給該用戶的所有發送者.
func (s *MessageStore) DistinctSendersTo(ctx context.Context, receiverID string) ([]string, error) {
	var ids []string
	if err := s.collection.Distinct(ctx, "senderId", bson.M{"receiverId": receiverID}).Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *MessageStore) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*Message, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	for cursor.Next(ctx) {
		var message Message
		if err := cursor.Decode(&message); err != nil {
			return nil, err
		}
		messages = append(messages, &message)
	}
	return messages, cursor.Err()
}
