package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"medchat-gateway/internal/constants"
	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/security/audit"
	"medchat-gateway/internal/storage/database/directory"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Settings 連線參數.
type Settings struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// SettingsFromConfig 從配置建立連線參數，未設定的項目使用預設值.
func SettingsFromConfig(cfg config.RealtimeConfig) Settings {
	s := Settings{
		PingInterval:    seconds(cfg.PingIntervalSeconds, constants.DefaultWSPingIntervalSeconds),
		PongWait:        seconds(cfg.PongWaitSeconds, constants.DefaultWSPongWaitSeconds),
		WriteWait:       seconds(cfg.WriteWaitSeconds, constants.DefaultWSWriteWaitSeconds),
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = constants.DefaultWSSendBuffer
	}
	if s.MaxMessageBytes <= 0 {
		s.MaxMessageBytes = constants.DefaultWSMaxMessageBytes
	}
	// ping 必須早於 pong 逾時
	if s.PingInterval >= s.PongWait {
		s.PingInterval = s.PongWait * 9 / 10
	}
	return s
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Conn 一條 WebSocket 連線.
type Conn struct {
	id       string
	ws       *websocket.Conn
	hub      *Hub
	user     *directory.User // 已驗證的身份；未啟用認證時可能為 nil
	enforce  bool
	audit    *audit.AuditService
	settings Settings

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, hub *Hub, user *directory.User, enforce bool, auditor *audit.AuditService, settings Settings) *Conn {
	return &Conn{
		id:       uuid.New().String(),
		ws:       ws,
		hub:      hub,
		user:     user,
		enforce:  enforce,
		audit:    auditor,
		settings: settings,
		send:     make(chan []byte, settings.SendBuffer),
		done:     make(chan struct{}),
	}
}

// ID 連線 ID.
func (c *Conn) ID() string { return c.id }

// Send 非阻塞送出；緩衝已滿時丟棄這個事件.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close 關閉連線，可重複呼叫.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) userID() string {
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

// readPump 讀取客戶端事件直到連線中斷，結束時離開所有群組.
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(c)
		c.Close()
	}()

	c.ws.SetReadLimit(c.settings.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug(ctx, "連線異常關閉", logger.WithConnectionID(c.id),
					logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debug(ctx, "忽略無法解析的事件", logger.WithConnectionID(c.id))
			continue
		}
		c.handle(ctx, &frame)
	}
}

func (c *Conn) handle(ctx context.Context, frame *Frame) {
	switch frame.Event {
	case EventJoin:
		var userID string
		if err := json.Unmarshal(frame.Data, &userID); err != nil || userID == "" {
			return
		}
		if c.enforce && userID != c.userID() {
			c.audit.LogRealtimeImpersonation(ctx, c.id, c.userID(), userID, EventJoin)
			return
		}
		c.hub.Join(c, userID)

	case EventPrivateMessage:
		var msg PrivateMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil || msg.ReceiverID == "" {
			return
		}
		if c.enforce {
			if msg.SenderID != c.userID() {
				c.audit.LogRealtimeImpersonation(ctx, c.id, c.userID(), msg.SenderID, EventPrivateMessage)
				return
			}
			if msg.SenderName == "" {
				msg.SenderName = c.user.FullName
			}
		}
		c.hub.Deliver(ctx, msg.SenderID, msg.ReceiverID, msg.Content, msg.SenderName)

	default:
		logger.Debug(ctx, "忽略未知事件", logger.WithConnectionID(c.id),
			logger.WithDetails(map[string]interface{}{"event": frame.Event}))
	}
}

// writePump 將緩衝中的事件寫出並定期 ping.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.settings.WriteWait)); err != nil {
				return
			}
		}
	}
}

// Authenticator 識別升級請求的用戶.
type Authenticator interface {
	Authenticate(r *http.Request) (*directory.User, error)
	Enabled() bool
}
