package realtime

import (
	"encoding/json"
	"time"
)

// 事件名稱.
const (
	EventJoin           = "join"
	EventPrivateMessage = "private_message"
	EventReceiveMessage = "receive_message"
)

// Frame 線上格式 {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PrivateMessage 客戶端送出的即時訊息.
type PrivateMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
}

// ReceivePayload 投遞給接收者的內容.
type ReceivePayload struct {
	SenderID   string    `json:"senderId"`
	Content    string    `json:"content"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
