package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"medchat-gateway/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDegraded  = "degraded"
	statusDisabled  = "disabled"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	// 超時常數.
	checkTimeout = 5 * time.Second
)

// 記錄服務啟動時間.
var startTime = time.Now()

// Checker 依賴檢查（Mongo ping、Redis ping）.
type Checker func(ctx context.Context) error

// StatsFunc 即時連線統計.
type StatsFunc func() interface{}

// Options 健康檢查的依賴.
type Options struct {
	AppName  string
	Debug    bool
	Database Checker
	Relay    Checker // nil 表示未啟用跨實例推送
	Realtime StatsFunc
}

// Handler 健康檢查處理器.
type Handler struct {
	opts Options
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(opts Options) *Handler {
	return &Handler{opts: opts}
}

// HealthCheck 健康檢查端點.
// 依賴異常時整體狀態為 degraded，但仍回傳 200，讓監控系統知道服務本身是正常的.
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	database := h.check(ctx, "資料庫", h.opts.Database)
	relay := h.check(ctx, "Redis", h.opts.Relay)
	system := checkSystemResources()

	response := gin.H{
		"status":    statusHealthy,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    h.opts.AppName,
			"version": appVersion,
			"debug":   h.opts.Debug,
		},
		"database": database,
		"relay":    relay,
		"system": gin.H{
			"status":  system.Status,
			"details": system.Details,
			"uptime":  time.Since(startTime).String(),
		},
	}
	if h.opts.Realtime != nil {
		response["realtime"] = h.opts.Realtime()
	}

	if database["status"] == statusUnhealthy || relay["status"] == statusUnhealthy {
		response["status"] = statusDegraded
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) check(ctx context.Context, name string, fn Checker) gin.H {
	if fn == nil {
		return gin.H{"status": statusDisabled}
	}
	if err := fn(ctx); err != nil {
		logger.Errorf(ctx, "健康檢查 - %s連線失敗: %v", name, err)
		return gin.H{"status": statusUnhealthy, "error": err.Error()}
	}
	return gin.H{"status": statusHealthy}
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	// 超過 1GB 視為警告
	status := statusHealthy
	if m.Sys/memoryMB > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{Status: status, Details: details}
}
