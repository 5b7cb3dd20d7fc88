package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medchat"

// Registry 服務專用的 Prometheus registry.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// RequestsTotal HTTP 請求數.
	RequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by method, route, and status code.",
	}, []string{"method", "route", "status"})

	// RequestDuration HTTP 請求延遲.
	RequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency distribution.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"method", "route"})

	// MessagesSent 成功持久化的訊息數.
	MessagesSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "messages",
		Name:      "sent_total",
		Help:      "Messages persisted, by whether they carry an attachment.",
	}, []string{"attachment"})

	// ConversationsRead 標記為已讀的訊息數.
	ConversationsRead = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "messages",
		Name:      "marked_read_total",
		Help:      "Messages flipped from unread to read by history reads.",
	})

	// RealtimeConnections 目前的即時連線數.
	RealtimeConnections = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open realtime connections on this instance.",
	})

	// RealtimeDeliveries 即時事件投遞結果.
	RealtimeDeliveries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "deliveries_total",
		Help:      "Realtime events by outcome: delivered, dropped_full, no_recipient.",
	}, []string{"outcome"})

	// AttachmentSignFailures 附件簽名失敗次數（已回退到原始 URL）.
	AttachmentSignFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "attachments",
		Name:      "sign_failures_total",
		Help:      "Attachment signing failures that fell back to the unsigned URL.",
	})

	// EventsPublished 訊息事件發佈結果.
	EventsPublished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Message events published to the broker, by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler /metrics 端點.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// GinMiddleware 記錄每個路由的請求數與延遲.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
