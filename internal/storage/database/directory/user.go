package directory

import (
	"context"
	"errors"

	"medchat-gateway/internal/storage/database/filter"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrUserNotFound 用戶不存在.
var ErrUserNotFound = errors.New("user not found")

// Role 用戶角色，封閉集合.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// 列表查詢數量上限
const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// User 用戶帳號（唯讀），_id 為 PAT/DOC/ADM 前綴的自訂字串.
type User struct {
	ID         string `bson:"_id" json:"_id"`
	FullName   string `bson:"fullName" json:"fullName"`
	Email      string `bson:"email,omitempty" json:"-"`
	Role       Role   `bson:"role" json:"role"`
	ProfilePic string `bson:"profilePic,omitempty" json:"profilePic,omitempty"`
	Speciality string `bson:"speciality,omitempty" json:"speciality,omitempty"`
	IsBlocked  bool   `bson:"isBlocked" json:"-"`
}

// Repository 用戶目錄接口
type Repository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByRoles(ctx context.Context, excludeID string, roles ...Role) ([]*User, error)
	FindByIDs(ctx context.Context, ids []string) ([]*User, error)
	ListExcept(ctx context.Context, excludeID string, limit int) ([]*User, error)
	Search(ctx context.Context, fragment string, limit int) ([]*User, error)
}

// UserStore 用戶目錄存儲實作
type UserStore struct {
	collection *mongo.Collection
}

// NewUserStore 創建新的用戶目錄存儲
func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{
		collection: db.Collection("users"),
	}
}

// publicProjection 只選擇聊天需要的欄位（排除密碼等敏感資料）
var publicProjection = bson.M{
	"_id":        1,
	"fullName":   1,
	"email":      1,
	"role":       1,
	"profilePic": 1,
	"speciality": 1,
	"isBlocked":  1,
}

// FindByID 根據 ID 獲取用戶
func (s *UserStore) FindByID(ctx context.Context, id string) (*User, error) {
	var user User
	opts := options.FindOne().SetProjection(publicProjection)
	err := s.collection.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByRoles 列出指定角色的用戶，excludeID 非空時排除該用戶
func (s *UserStore) FindByRoles(ctx context.Context, excludeID string, roles ...Role) ([]*User, error) {
	query := bson.M{"role": bson.M{"$in": roles}}
	if excludeID != "" {
		query["_id"] = bson.M{"$ne": excludeID}
	}
	return s.find(ctx, query, options.Find().SetProjection(publicProjection))
}

// FindByIDs 根據 ID 列表獲取用戶
func (s *UserStore) FindByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return []*User{}, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(publicProjection))
}

// ListExcept 列出除指定用戶以外的用戶（存儲順序）
func (s *UserStore) ListExcept(ctx context.Context, excludeID string, limit int) ([]*User, error) {
	limit = filter.ValidateLimit(limit, defaultListLimit, maxListLimit)
	opts := options.Find().SetProjection(publicProjection).SetLimit(int64(limit))
	return s.find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
}

// Search 依姓名或 ID 片段搜尋用戶（不區分大小寫）
func (s *UserStore) Search(ctx context.Context, fragment string, limit int) ([]*User, error) {
	limit = filter.ValidateLimit(limit, defaultListLimit, maxListLimit)
	regex := filter.SafeRegexQuery(fragment)
	query := bson.M{"$or": bson.A{
		bson.M{"fullName": regex},
		bson.M{"_id": regex},
	}}
	opts := options.Find().SetProjection(publicProjection).SetLimit(int64(limit))
	return s.find(ctx, query, opts)
}

func (s *UserStore) find(ctx context.Context, query bson.M, opts *options.FindOptionsBuilder) ([]*User, error) {
	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []*User{}
	for cursor.Next(ctx) {
		var user User
		if err := cursor.Decode(&user); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}
	return users, cursor.Err()
}
