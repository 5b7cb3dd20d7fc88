package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medchat-gateway/internal/messaging"
	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/metrics"

	"github.com/segmentio/kafka-go"
)

// EventTypeMessageSent 訊息已持久化事件類型.
const EventTypeMessageSent = "message.sent"

const writeTimeout = 5 * time.Second

// messageWriter *kafka.Writer 的子集.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope broker 上的事件格式.
type envelope struct {
	Type string                      `json:"type"`
	Data *messaging.MessageSentEvent `json:"data"`
}

// KafkaPublisher 把訊息事件寫入 Kafka，以接收者 ID 作為 key.
// writer 為非同步模式，送出結果由 recordCompletion 統計，不阻塞 /send.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher 依配置建立 publisher.
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers 和 topic 不能為空")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		Async:        true,
		Completion:   recordCompletion(cfg.Topic),
	}
	logger.Info(context.Background(), "Kafka 事件發佈已啟用", logger.WithDetails(map[string]interface{}{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}))
	return &KafkaPublisher{writer: w, topic: cfg.Topic}, nil
}

func newKafkaPublisherWithWriter(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

// PublishMessageSent 排入 message.sent；同一接收者的事件落在同一分區.
// 只回報排入失敗，broker 端的結果見 recordCompletion.
func (p *KafkaPublisher) PublishMessageSent(ctx context.Context, event *messaging.MessageSentEvent) error {
	b, err := json.Marshal(envelope{Type: EventTypeMessageSent, Data: event})
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ReceiverID),
		Value: b,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventTypeMessageSent)},
			{Key: "trace_id", Value: []byte(logger.GetTraceID(ctx))},
		},
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("write %s: %w", p.topic, err)
	}
	return nil
}

// recordCompletion 非同步批次寫入完成後的回呼.
func recordCompletion(topic string) func(msgs []kafka.Message, err error) {
	return func(msgs []kafka.Message, err error) {
		if len(msgs) == 0 {
			return
		}
		if err != nil {
			metrics.EventsPublished.WithLabelValues("error").Add(float64(len(msgs)))
			logger.Warning(context.Background(), "訊息事件寫入 Kafka 失敗", logger.WithDetails(map[string]interface{}{
				"topic": topic,
				"count": len(msgs),
				"error": err.Error(),
			}))
			return
		}
		metrics.EventsPublished.WithLabelValues("ok").Add(float64(len(msgs)))
	}
}

// Close 關閉 writer，送出尚未寫入的事件.
func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NoopPublisher 未啟用 Kafka 時使用.
type NoopPublisher struct{}

// PublishMessageSent 不做任何事.
func (NoopPublisher) PublishMessageSent(context.Context, *messaging.MessageSentEvent) error {
	return nil
}

// Close 不做任何事.
func (NoopPublisher) Close() error { return nil }

// Publisher messaging.Publisher 加上關閉.
type Publisher interface {
	messaging.Publisher
	Close() error
}

// New 依配置選擇 Kafka 或 Noop publisher.
func New(cfg config.KafkaConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg)
}
