package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Envelope 跨實例轉發的投遞.
type Envelope struct {
	Origin     string         `json:"origin"`
	ReceiverID string         `json:"receiverId"`
	Payload    ReceivePayload `json:"payload"`
}

// Relay 跨實例 pub/sub.
type Relay interface {
	Publish(ctx context.Context, env *Envelope) error
	// Subscribe 阻塞直到 ctx 結束.
	Subscribe(ctx context.Context, handle func(*Envelope)) error
	Close() error
}

// RedisRelay 以 Redis pub/sub 實作的 Relay.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay 連接 Redis 並確認可用.
func NewRedisRelay(ctx context.Context, cfg config.RedisConfig) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisRelayFromClient(client, cfg.Channel), nil
}

// NewRedisRelayFromClient 使用既有的 client.
func NewRedisRelayFromClient(client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel}
}

// Publish 發佈投遞.
func (r *RedisRelay) Publish(ctx context.Context, env *Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Subscribe 訂閱頻道並處理每個投遞.
func (r *RedisRelay) Subscribe(ctx context.Context, handle func(*Envelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warning(ctx, "忽略無法解析的跨實例事件")
				continue
			}
			handle(&env)
		}
	}
}

// Ping 健康檢查.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 關閉連接.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
