package messaging

import (
	"context"
	"errors"
	"strconv"
	"time"

	"medchat-gateway/internal/attachment"
	"medchat-gateway/internal/constants"
	"medchat-gateway/internal/contacts"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/metrics"
	"medchat-gateway/internal/platform/middleware"
	"medchat-gateway/internal/security/audit"
	"medchat-gateway/internal/storage/database/directory"
	"medchat-gateway/internal/storage/database/message"
	"medchat-gateway/internal/storage/database/report"
)

// Users 用戶目錄查詢.
type Users interface {
	FindByID(ctx context.Context, id string) (*directory.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]*directory.User, error)
}

// Attachments 附件解析.
type Attachments interface {
	Lookup(ctx context.Context, id string) (*report.StoredFile, error)
	View(ctx context.Context, file *report.StoredFile) *attachment.Attachment
	Resolve(ctx context.Context, id string) *attachment.Attachment
	ListForPatient(ctx context.Context, patientID string) ([]*attachment.Attachment, error)
}

// Contacts 聯絡人解析.
type Contacts interface {
	ContactsFor(ctx context.Context, requester *directory.User) ([]*contacts.Contact, error)
	Search(ctx context.Context, requesterID, fragment string) ([]*contacts.Profile, error)
}

// Sealer 訊息內容靜態加密.
type Sealer interface {
	Seal(senderID, receiverID, content string) (string, error)
	Open(senderID, receiverID, stored string) (string, error)
}

// Publisher 發布訊息事件給下游（通知服務等）.
type Publisher interface {
	PublishMessageSent(ctx context.Context, event *MessageSentEvent) error
}

// Notifier 即時投遞；與持久化是兩個獨立呼叫.
type Notifier interface {
	Deliver(ctx context.Context, senderID, receiverID, content, senderName string)
}

// MessageSentEvent 訊息已持久化事件.
type MessageSentEvent struct {
	MessageID     string    `json:"messageId"`
	SenderID      string    `json:"senderId"`
	ReceiverID    string    `json:"receiverId"`
	HasAttachment bool      `json:"hasAttachment"`
	Timestamp     time.Time `json:"timestamp"`
}

// Options 服務參數.
type Options struct {
	MaxLength     int
	UnreadPreview int
	DeliverOnSend bool
}

// Service 訊息服務
type Service struct {
	messages    message.MessageRepository
	users       Users
	attachments Attachments
	contacts    Contacts
	sealer      Sealer
	publisher   Publisher
	notifier    Notifier
	audit       *audit.AuditService
	opts        Options
}

// Option 設定可選的協作者.
type Option func(*Service)

// WithSealer 啟用內容加密.
func WithSealer(s Sealer) Option { return func(svc *Service) { svc.sealer = s } }

// WithPublisher 設定事件發布.
func WithPublisher(p Publisher) Option { return func(svc *Service) { svc.publisher = p } }

// WithNotifier 設定送出後的即時投遞.
func WithNotifier(n Notifier) Option { return func(svc *Service) { svc.notifier = n } }

// WithAudit 設定審計.
func WithAudit(a *audit.AuditService) Option { return func(svc *Service) { svc.audit = a } }

// NewService 創建訊息服務
func NewService(messages message.MessageRepository, users Users, attachments Attachments, contactResolver Contacts, opts Options, options ...Option) *Service {
	if opts.MaxLength <= 0 {
		opts.MaxLength = constants.DefaultMaxMessageLength
	}
	if opts.UnreadPreview <= 0 {
		opts.UnreadPreview = constants.DefaultUnreadPreviewLimit
	}

	svc := &Service{
		messages:    messages,
		users:       users,
		attachments: attachments,
		contacts:    contactResolver,
		opts:        opts,
	}
	for _, o := range options {
		o(svc)
	}
	return svc
}

// MessageView 訊息回應；attachment 為已簽名的報告.
type MessageView struct {
	ID         string                 `json:"_id"`
	SenderID   string                 `json:"senderId"`
	ReceiverID string                 `json:"receiverId"`
	Content    string                 `json:"content"`
	Attachment *attachment.Attachment `json:"attachment"`
	Timestamp  time.Time              `json:"timestamp"`
	Read       bool                   `json:"read"`
}

// SenderInfo 未讀預覽中的發送者資料.
type SenderInfo struct {
	ID         string         `json:"_id"`
	FullName   string         `json:"fullName"`
	ProfilePic string         `json:"profilePic"`
	Role       directory.Role `json:"role"`
}

// UnreadMessage 未讀預覽，senderId 展開為發送者資料.
type UnreadMessage struct {
	ID         string      `json:"_id"`
	Sender     *SenderInfo `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	Read       bool        `json:"read"`
}

// UnreadSummary 未讀總數與最新幾則預覽.
type UnreadSummary struct {
	Count    int64            `json:"count"`
	Messages []*UnreadMessage `json:"messages"`
}

// EmptyUnreadSummary 查詢失敗時回傳的空摘要.
func EmptyUnreadSummary() *UnreadSummary {
	return &UnreadSummary{Count: 0, Messages: []*UnreadMessage{}}
}

// Send 驗證並持久化一則訊息.
func (s *Service) Send(ctx context.Context, sender *directory.User, receiverID, content, attachmentID string) (*MessageView, error) {
	if err := middleware.ValidateUserID(receiverID); err != nil {
		return nil, invalid("receiverId", err.Error())
	}
	content = middleware.SanitizeInput(content)
	if content == "" && attachmentID == "" {
		return nil, invalid("content", "訊息內容與附件不能同時為空")
	}
	if err := middleware.ValidateMessageContent(content, s.opts.MaxLength); err != nil {
		return nil, invalid("content", err.Error())
	}
	if attachmentID != "" {
		if err := middleware.ValidateAttachmentID(attachmentID); err != nil {
			return nil, invalid("attachmentId", err.Error())
		}
	}

	if _, err := s.users.FindByID(ctx, receiverID); err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, invalid("receiverId", "接收者不存在")
		}
		return nil, upstream("find receiver", err)
	}

	var file *report.StoredFile
	if attachmentID != "" {
		var err error
		file, err = s.attachments.Lookup(ctx, attachmentID)
		if err != nil {
			if errors.Is(err, attachment.ErrNotFound) {
				return nil, invalid("attachmentId", "附件不存在")
			}
			return nil, upstream("lookup attachment", err)
		}
		// 報告只能由病患本人附上，或附在與該病患的對話中
		if file.PatientID != sender.ID && file.PatientID != receiverID {
			s.audit.LogAccessDenied(ctx, sender.ID, "report:"+attachmentID, "report belongs to another patient")
			return nil, invalid("attachmentId", "附件不屬於此對話")
		}
	}

	stored := content
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(sender.ID, receiverID, content)
		if err != nil {
			return nil, err
		}
		stored = sealed
	}

	msg := message.NewMessage(sender.ID, receiverID, stored, attachmentID)
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(strconv.FormatBool(file != nil)).Inc()
	s.audit.LogMessageSent(ctx, sender.ID, receiverID, msg.ID.Hex(), file != nil)
	logger.Info(ctx, "訊息已保存",
		logger.WithUserID(sender.ID),
		logger.WithCounterpartID(receiverID),
		logger.WithMessageID(msg.ID.Hex()),
		logger.WithAction("send_message"))

	if s.publisher != nil {
		event := &MessageSentEvent{
			MessageID:     msg.ID.Hex(),
			SenderID:      sender.ID,
			ReceiverID:    receiverID,
			HasAttachment: file != nil,
			Timestamp:     msg.Timestamp,
		}
		if err := s.publisher.PublishMessageSent(ctx, event); err != nil {
			logger.Warning(ctx, "訊息事件發布失敗", logger.WithMessageID(event.MessageID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		}
	}
	if s.opts.DeliverOnSend && s.notifier != nil {
		s.notifier.Deliver(ctx, sender.ID, receiverID, content, sender.FullName)
	}

	view := &MessageView{
		ID:         msg.ID.Hex(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    content,
		Timestamp:  msg.Timestamp,
		Read:       msg.Read,
	}
	if file != nil {
		view.Attachment = s.attachments.View(ctx, file)
	}
	return view, nil
}

// History 讀取與對方的完整對話（時間升冪），並把對方發給我的未讀訊息標為已讀.
// 先更新再查詢，回傳的快照與資料庫中的已讀狀態一致.
func (s *Service) History(ctx context.Context, me, other string) ([]*MessageView, error) {
	if err := middleware.ValidateUserID(other); err != nil {
		return nil, invalid("userId", err.Error())
	}

	marked, err := s.messages.MarkConversationRead(ctx, other, me)
	if err != nil {
		return nil, err
	}
	if marked > 0 {
		metrics.ConversationsRead.Add(float64(marked))
		s.audit.LogConversationRead(ctx, me, other, marked)
	}

	msgs, err := s.messages.FindConversation(ctx, me, other)
	if err != nil {
		return nil, err
	}

	views := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, &MessageView{
			ID:         m.ID.Hex(),
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Content:    s.open(ctx, m),
			Attachment: s.attachments.Resolve(ctx, m.Attachment),
			Timestamp:  m.Timestamp,
			Read:       m.Read,
		})
	}
	return views, nil
}

// UnreadSummary 未讀總數與最新的未讀預覽；唯讀，不改變已讀狀態.
func (s *Service) UnreadSummary(ctx context.Context, userID string) (*UnreadSummary, error) {
	count, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent, err := s.messages.RecentUnread(ctx, userID, s.opts.UnreadPreview)
	if err != nil {
		return nil, err
	}

	senders := map[string]*SenderInfo{}
	ids := make([]string, 0, len(recent))
	for _, m := range recent {
		if _, ok := senders[m.SenderID]; !ok {
			senders[m.SenderID] = &SenderInfo{ID: m.SenderID}
			ids = append(ids, m.SenderID)
		}
	}
	if len(ids) > 0 {
		users, err := s.users.FindByIDs(ctx, ids)
		if err != nil {
			logger.Warning(ctx, "未讀預覽無法載入發送者資料", logger.WithUserID(userID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		}
		for _, u := range users {
			senders[u.ID] = &SenderInfo{ID: u.ID, FullName: u.FullName, ProfilePic: u.ProfilePic, Role: u.Role}
		}
	}

	summary := &UnreadSummary{Count: count, Messages: make([]*UnreadMessage, 0, len(recent))}
	for _, m := range recent {
		summary.Messages = append(summary.Messages, &UnreadMessage{
			ID:         m.ID.Hex(),
			Sender:     senders[m.SenderID],
			ReceiverID: m.ReceiverID,
			Content:    s.open(ctx, m),
			Timestamp:  m.Timestamp,
			Read:       m.Read,
		})
	}
	return summary, nil
}

// Contacts 依角色列出聯絡人與未讀數.
func (s *Service) Contacts(ctx context.Context, me *directory.User) ([]*contacts.Contact, error) {
	list, err := s.contacts.ContactsFor(ctx, me)
	if err != nil {
		if errors.Is(err, contacts.ErrUnknownRole) {
			return []*contacts.Contact{}, nil
		}
		return nil, upstream("contacts", err)
	}
	return list, nil
}

// SearchUsers 搜尋用戶，排除自己.
func (s *Service) SearchUsers(ctx context.Context, me, query string) ([]*contacts.Profile, error) {
	users, err := s.contacts.Search(ctx, me, query)
	if err != nil {
		return nil, upstream("search", err)
	}
	return users, nil
}

// PatientReports 病患自己的報告（供附件選擇）；非病患回傳空清單.
func (s *Service) PatientReports(ctx context.Context, me *directory.User) ([]*attachment.Attachment, error) {
	if me.Role != directory.RolePatient {
		return []*attachment.Attachment{}, nil
	}
	reports, err := s.attachments.ListForPatient(ctx, me.ID)
	if err != nil {
		return nil, upstream("reports", err)
	}
	return reports, nil
}

// open 解密內容；失敗時記錄並回傳空字串，不影響整段對話.
func (s *Service) open(ctx context.Context, m *message.Message) string {
	if s.sealer == nil {
		return m.Content
	}
	plain, err := s.sealer.Open(m.SenderID, m.ReceiverID, m.Content)
	if err != nil {
		logger.Error(ctx, "訊息解密失敗", logger.WithMessageID(m.ID.Hex()),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return ""
	}
	return plain
}
