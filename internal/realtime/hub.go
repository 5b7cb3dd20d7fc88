package realtime

import (
	"context"
	"sync"
	"time"

	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/metrics"

	"github.com/google/uuid"
)

// Peer 一條即時連線.
type Peer interface {
	ID() string
	// Send 非阻塞送出；緩衝已滿或連線已關閉時回傳 false.
	Send(frame []byte) bool
	Close()
}

// HubStats 目前的連線統計.
type HubStats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// Hub 即時在線狀態：用戶 ID → 連線集合.
// 一個用戶可以有多條連線，一條連線也可以加入多個用戶群組.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[Peer]struct{}
	joined map[Peer]map[string]struct{}
	closed bool

	relay      Relay
	instanceID string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// HubOption Hub 設定.
type HubOption func(*Hub)

// WithRelay 跨實例轉發.
func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

// NewHub 創建 Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      make(map[string]map[Peer]struct{}),
		joined:     make(map[Peer]map[string]struct{}),
		instanceID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start 啟動跨實例訂閱；沒有 relay 時不做任何事.
func (h *Hub) Start(ctx context.Context) {
	if h.relay == nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := h.relay.Subscribe(runCtx, func(env *Envelope) {
			// 忽略自己發佈的事件
			if env.Origin == h.instanceID {
				return
			}
			h.deliverLocal(env.ReceiverID, env.Payload)
		})
		if err != nil && runCtx.Err() == nil {
			logger.Error(runCtx, "跨實例訂閱中斷", logger.WithDetails(map[string]interface{}{
				"error": err.Error(),
			}))
		}
	}()
	logger.Info(ctx, "即時跨實例轉發已啟動", logger.WithDetails(map[string]interface{}{
		"instance_id": h.instanceID,
	}))
}

// Shutdown 關閉所有連線並停止訂閱.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	peers := make([]Peer, 0, len(h.joined))
	for p := range h.joined {
		peers = append(peers, p)
	}
	h.rooms = make(map[string]map[Peer]struct{})
	h.joined = make(map[Peer]map[string]struct{})
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	if h.cancel != nil {
		h.cancel()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if h.relay != nil {
		return h.relay.Close()
	}
	return nil
}

// Attach 登記一條新連線（尚未加入任何群組）；Hub 已關閉時回傳 false.
func (h *Hub) Attach(p Peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, ok := h.joined[p]; !ok {
		h.joined[p] = make(map[string]struct{})
	}
	return true
}

// Join 將連線加入用戶群組；Hub 已關閉時回傳 false.
func (h *Hub) Join(p Peer, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[Peer]struct{})
		h.rooms[userID] = room
	}
	room[p] = struct{}{}

	groups, ok := h.joined[p]
	if !ok {
		groups = make(map[string]struct{})
		h.joined[p] = groups
	}
	groups[userID] = struct{}{}
	return true
}

// Leave 將連線移出所有群組.
func (h *Hub) Leave(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID := range h.joined[p] {
		if room, ok := h.rooms[userID]; ok {
			delete(room, p)
			if len(room) == 0 {
				delete(h.rooms, userID)
			}
		}
	}
	delete(h.joined, p)
}

// Connections 用戶目前的連線數.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Stats 連線統計.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{Users: len(h.rooms), Connections: len(h.joined)}
}

// Deliver 將 receive_message 投遞給接收者的所有連線；沒有連線時靜默丟棄.
// 啟用 relay 時同時發佈給其他實例.
func (h *Hub) Deliver(ctx context.Context, senderID, receiverID, content, senderName string) {
	payload := ReceivePayload{
		SenderID:   senderID,
		Content:    content,
		SenderName: senderName,
		Timestamp:  time.Now().UTC(),
	}
	h.deliverLocal(receiverID, payload)

	if h.relay != nil {
		env := &Envelope{Origin: h.instanceID, ReceiverID: receiverID, Payload: payload}
		if err := h.relay.Publish(ctx, env); err != nil {
			logger.Warning(ctx, "跨實例發佈失敗",
				logger.WithUserID(senderID),
				logger.WithCounterpartID(receiverID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		}
	}
}

func (h *Hub) deliverLocal(receiverID string, payload ReceivePayload) int {
	// 在讀鎖下取快照，送出時不持有鎖
	h.mu.RLock()
	peers := make([]Peer, 0, len(h.rooms[receiverID]))
	for p := range h.rooms[receiverID] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	if len(peers) == 0 {
		metrics.RealtimeDeliveries.WithLabelValues("no_recipient").Inc()
		return 0
	}

	frame, err := encodeFrame(EventReceiveMessage, payload)
	if err != nil {
		logger.Error(context.Background(), "編碼即時事件失敗", logger.WithDetails(map[string]interface{}{
			"error": err.Error(),
		}))
		return 0
	}

	delivered := 0
	for _, p := range peers {
		if p.Send(frame) {
			delivered++
			metrics.RealtimeDeliveries.WithLabelValues("delivered").Inc()
		} else {
			metrics.RealtimeDeliveries.WithLabelValues("dropped_full").Inc()
			logger.Debug(context.Background(), "連線緩衝已滿，丟棄事件", logger.WithConnectionID(p.ID()))
		}
	}
	return delivered
}
