package message

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestConversationFilterCoversBothDirections(t *testing.T) {
	got := conversationFilter("PAT001", "DOC001")
	want := bson.M{"$or": bson.A{
		bson.M{"senderId": "PAT001", "receiverId": "DOC001"},
		bson.M{"senderId": "DOC001", "receiverId": "PAT001"},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("對話過濾條件錯誤:\n期望 %v\n實際 %v", want, got)
	}

	// 參數順序不影響涵蓋範圍
	reversed := conversationFilter("DOC001", "PAT001")["$or"].(bson.A)
	if !reflect.DeepEqual(reversed[0], want["$or"].(bson.A)[1]) || !reflect.DeepEqual(reversed[1], want["$or"].(bson.A)[0]) {
		t.Errorf("交換參數後應涵蓋相同的兩個方向: %v", reversed)
	}
}

func TestUnreadFiltersAreDirectionScoped(t *testing.T) {
	tests := []struct {
		name string
		got  bson.M
		want bson.M
	}{
		{
			"單一方向未讀",
			unreadFromFilter("PAT001", "DOC001"),
			bson.M{"senderId": "PAT001", "receiverId": "DOC001", "read": false},
		},
		{
			"收件匣未讀",
			inboxUnreadFilter("DOC001"),
			bson.M{"receiverId": "DOC001", "read": false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("期望 %v，實際為 %v", tt.want, tt.got)
			}
			if _, ok := tt.got["$or"]; ok {
				t.Error("未讀條件不應包含反方向")
			}
		})
	}

	want := bson.M{"$set": bson.M{"read": true}}
	if !reflect.DeepEqual(markReadUpdate, want) {
		t.Errorf("已讀更新只應設定 read=true，實際為 %v", markReadUpdate)
	}
}

func TestSortOrders(t *testing.T) {
	wantConversation := bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}
	if !reflect.DeepEqual(conversationSort, wantConversation) {
		t.Errorf("對話應依時間升冪，實際為 %v", conversationSort)
	}
	wantRecent := bson.D{{Key: "timestamp", Value: -1}}
	if !reflect.DeepEqual(recentUnreadSort, wantRecent) {
		t.Errorf("未讀預覽應依時間降冪，實際為 %v", recentUnreadSort)
	}
}

func TestFilterKeysMatchStoredFields(t *testing.T) {
	raw, err := bson.Marshal(NewMessage("PAT001", "DOC001", "hi", ""))
	if err != nil {
		t.Fatal(err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"senderId", "receiverId", "read", "timestamp"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("存儲的文件缺少查詢欄位 %s: %v", key, doc)
		}
	}
	if doc["read"] != false {
		t.Errorf("新訊息應為未讀，實際為 %v", doc["read"])
	}
}
