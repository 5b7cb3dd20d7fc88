package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ConnectionLimiter 長連線（WebSocket）連接限制器
type ConnectionLimiter struct {
	mu                sync.Mutex
	connections       map[string]int       // IP -> 連接數
	lastConnect       map[string]time.Time // IP -> 最後連接時間
	maxPerIP          int                  // 每個 IP 最大連接數
	minInterval       time.Duration        // 最小連接間隔
	maxTotalConns     int                  // 全局最大連接數
	currentTotalConns int                  // 當前總連接數
}

// NewConnectionLimiter 創建連接限制器
func NewConnectionLimiter(maxPerIP int, minInterval time.Duration, maxTotal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections:   make(map[string]int),
		lastConnect:   make(map[string]time.Time),
		maxPerIP:      maxPerIP,
		minInterval:   minInterval,
		maxTotalConns: maxTotal,
	}
}

// Middleware 連接限制中間件
// handler 返回（連線結束）時釋放名額
func (l *ConnectionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := GetClientIP(c)

		if !l.Acquire(clientIP) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "連接數已達上限，請稍後再試",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		defer l.Release(clientIP)

		c.Next()
	}
}

// Acquire 檢查並佔用一個連接名額
func (l *ConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotalConns > 0 && l.currentTotalConns >= l.maxTotalConns {
		return false
	}
	if l.maxPerIP > 0 && l.connections[ip] >= l.maxPerIP {
		return false
	}
	if lastTime, exists := l.lastConnect[ip]; exists && l.minInterval > 0 {
		if time.Since(lastTime) < l.minInterval {
			return false
		}
	}

	l.connections[ip]++
	l.currentTotalConns++
	l.lastConnect[ip] = time.Now()
	return true
}

// Release 釋放連接名額
func (l *ConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, exists := l.connections[ip]
	if !exists {
		return
	}
	if count <= 1 {
		delete(l.connections, ip)
	} else {
		l.connections[ip]--
	}
	l.currentTotalConns--
}

// Cleanup 定期清理連接時間記錄，ctx 結束時停止
func (l *ConnectionLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// sweep 清理 10 分鐘無活動的連接時間記錄
func (l *ConnectionLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, lastTime := range l.lastConnect {
		if now.Sub(lastTime) > 10*time.Minute && l.connections[ip] == 0 {
			delete(l.lastConnect, ip)
		}
	}
}

// Stats 獲取統計信息
func (l *ConnectionLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"total_connections": l.currentTotalConns,
		"unique_ips":        len(l.connections),
		"max_total":         l.maxTotalConns,
		"max_per_ip":        l.maxPerIP,
	}
}
