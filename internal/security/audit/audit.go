package audit

import (
	"context"

	"medchat-gateway/internal/platform/logger"
)

// AuditService 審計服務
// 審計事件經由結構化日誌輸出，並帶上 audit 標籤以便日誌平台分流
type AuditService struct {
	enabled bool
}

// RequestInfo 請求來源，由 HTTP 中間件放入 context.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

type requestInfoKey struct{}

// WithRequestInfo 將請求來源存入 context.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom 取出請求來源；不存在時回傳零值.
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{enabled: enabled}
}

// Event 審計事件
type Event struct {
	EventType     string
	UserID        string
	CounterpartID string
	MessageID     string
	Action        string
	Result        string // success, failure, denied
	IPAddress     string
	Details       map[string]interface{}
}

// LogMessageSent 記錄消息發送
func (a *AuditService) LogMessageSent(ctx context.Context, senderID, receiverID, messageID string, hasAttachment bool) {
	a.log(ctx, Event{
		EventType:     "message_sent",
		UserID:        senderID,
		CounterpartID: receiverID,
		MessageID:     messageID,
		Action:        "send_message",
		Result:        "success",
		Details: map[string]interface{}{
			"has_attachment": hasAttachment,
		},
	})
}

// LogConversationRead 記錄對話已讀
func (a *AuditService) LogConversationRead(ctx context.Context, readerID, counterpartID string, marked int64) {
	a.log(ctx, Event{
		EventType:     "conversation_read",
		UserID:        readerID,
		CounterpartID: counterpartID,
		Action:        "mark_as_read",
		Result:        "success",
		Details: map[string]interface{}{
			"marked": marked,
		},
	})
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, ipAddress, reason string) {
	a.log(ctx, Event{
		EventType: "authentication",
		Action:    "authenticate",
		Result:    "failure",
		IPAddress: ipAddress,
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogAccessDenied 記錄訪問被拒絕
func (a *AuditService) LogAccessDenied(ctx context.Context, userID, resource, reason string) {
	a.log(ctx, Event{
		EventType: "access_denied",
		UserID:    userID,
		Action:    "access_resource",
		Result:    "denied",
		Details: map[string]interface{}{
			"resource": resource,
			"reason":   reason,
		},
	})
}

// LogRealtimeImpersonation 記錄即時連線冒用他人身份
func (a *AuditService) LogRealtimeImpersonation(ctx context.Context, connectionID, tokenUserID, claimedUserID, event string) {
	a.log(ctx, Event{
		EventType:     "suspicious_activity",
		UserID:        tokenUserID,
		CounterpartID: claimedUserID,
		Action:        event,
		Result:        "denied",
		Details: map[string]interface{}{
			"connection_id": connectionID,
			"reason":        "identity_mismatch",
		},
	})
}

// LogRateLimitExceeded 記錄速率限制超過
func (a *AuditService) LogRateLimitExceeded(ctx context.Context, ipAddress, endpoint string) {
	a.log(ctx, Event{
		EventType: "rate_limit",
		Action:    "api_request",
		Result:    "blocked",
		IPAddress: ipAddress,
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	})
}

// IsEnabled 檢查審計是否啟用
func (a *AuditService) IsEnabled() bool {
	return a != nil && a.enabled
}

func (a *AuditService) log(ctx context.Context, event Event) {
	if !a.IsEnabled() {
		return
	}

	details := map[string]interface{}{
		"event_type": event.EventType,
		"result":     event.Result,
	}
	info := RequestInfoFrom(ctx)
	if event.IPAddress == "" {
		event.IPAddress = info.IPAddress
	}
	if event.IPAddress != "" {
		details["ip_address"] = event.IPAddress
	}
	if info.UserAgent != "" {
		details["user_agent"] = info.UserAgent
	}
	for k, v := range event.Details {
		details[k] = v
	}

	opts := []logger.LogOption{
		logger.WithLabels(map[string]string{"audit": "true"}),
		logger.WithAction(event.Action),
		logger.WithDetails(details),
	}
	if event.UserID != "" {
		opts = append(opts, logger.WithUserID(event.UserID))
	}
	if event.CounterpartID != "" {
		opts = append(opts, logger.WithCounterpartID(event.CounterpartID))
	}
	if event.MessageID != "" {
		opts = append(opts, logger.WithMessageID(event.MessageID))
	}

	severity := logger.SeverityInfo
	if event.Result != "success" {
		severity = logger.SeverityWarning
	}
	logger.Log(ctx, severity, "[AUDIT] "+event.EventType, opts...)
}
