package messaging

import (
	"errors"
	"net/http"

	"medchat-gateway/internal/httputil"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// Handler 訊息 REST 處理器.
type Handler struct {
	svc *Service
}

// NewHandler 創建訊息處理器.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SendRequest 送出訊息請求.
type SendRequest struct {
	ReceiverID   string `json:"receiverId"`
	Content      string `json:"content"`
	AttachmentID string `json:"attachmentId"`
}

// Register 註冊路由；靜態路徑必須在 /:userId 之前.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/contacts", h.Contacts)
	rg.GET("/search", h.Search)
	rg.GET("/unread-count", h.UnreadCount)
	rg.GET("/reports", h.Reports)
	rg.POST("/send", h.Send)
	rg.GET("/:userId", h.History)
}

// Contacts GET /contacts
func (h *Handler) Contacts(c *gin.Context) {
	list, err := h.svc.Contacts(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Search GET /search?q=
func (h *Handler) Search(c *gin.Context) {
	users, err := h.svc.SearchUsers(c.Request.Context(), middleware.GetUserID(c), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// UnreadCount GET /unread-count；失敗時回傳空摘要而不是錯誤
func (h *Handler) UnreadCount(c *gin.Context) {
	summary, err := h.svc.UnreadSummary(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		logger.Error(c.Request.Context(), "查詢未讀摘要失敗",
			logger.WithUserID(middleware.GetUserID(c)),
			logger.WithAction("unread_count"),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		summary = EmptyUnreadSummary()
	}
	c.JSON(http.StatusOK, summary)
}

// Reports GET /reports
func (h *Handler) Reports(c *gin.Context) {
	reports, err := h.svc.PatientReports(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

// History GET /:userId
func (h *Handler) History(c *gin.Context) {
	views, err := h.svc.History(c.Request.Context(), middleware.GetUserID(c), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// Send POST /send
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	view, err := h.svc.Send(c.Request.Context(), middleware.CurrentUser(c), req.ReceiverID, req.Content, req.AttachmentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(view))
}

func (h *Handler) fail(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.ValidationError(c, verr.Field, verr.Message)
	case errors.Is(err, ErrUpstreamUnavailable):
		httputil.ServiceUnavailable(c, err)
	default:
		httputil.InternalServerError(c, err)
	}
}
