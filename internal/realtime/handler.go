package realtime

import (
	"net/http"

	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/metrics"
	"medchat-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler /ws 升級處理器.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	audit    *audit.AuditService
	settings Settings
	upgrader websocket.Upgrader
}

// NewHandler 創建 WebSocket 處理器；allowedOrigins 為空時不檢查來源.
func NewHandler(hub *Hub, auth Authenticator, auditor *audit.AuditService, settings Settings, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Handler{
		hub:      hub,
		auth:     auth,
		audit:    auditor,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

// ServeWS GET /ws；阻塞直到連線結束.
func (h *Handler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.auth.Authenticate(c.Request)
	if err != nil && h.auth.Enabled() {
		h.audit.LogAuthenticationFailure(ctx, c.ClientIP(), err.Error())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "認證失敗",
			"success": false,
		})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已經寫出錯誤回應
		logger.Warning(ctx, "WebSocket 升級失敗", logger.WithDetails(map[string]interface{}{
			"error": err.Error(),
		}))
		return
	}

	conn := newConn(ws, h.hub, user, h.auth.Enabled(), h.audit, h.settings)
	if !h.hub.Attach(conn) {
		conn.Close()
		return
	}
	metrics.RealtimeConnections.Inc()
	defer metrics.RealtimeConnections.Dec()

	logger.Info(ctx, "即時連線建立", logger.WithConnectionID(conn.id), logger.WithUserID(conn.userID()))
	go conn.writePump()
	conn.readPump(ctx)
	logger.Info(ctx, "即時連線關閉", logger.WithConnectionID(conn.id), logger.WithUserID(conn.userID()))
}
