package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"medchat-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter 速率限制器，每個訪問者一個 token bucket
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 創建新的速率限制器
// perMinute: 每分鐘允許的請求數，同時作為突發上限
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idleTTL:  10 * time.Minute,
	}
}

// Allow 檢查 key 是否還有額度
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// Cleanup 定期清理閒置的訪問者，ctx 結束時停止
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, key)
		}
	}
}

// PerEndpointRateLimiter 為不同端點設置不同的速率限制
type PerEndpointRateLimiter struct {
	limiters map[string]*RateLimiter
	default_ *RateLimiter
	audit    *audit.AuditService
}

// NewPerEndpointRateLimiter 創建端點級速率限制器
func NewPerEndpointRateLimiter(defaultPerMinute int, auditor *audit.AuditService) *PerEndpointRateLimiter {
	return &PerEndpointRateLimiter{
		limiters: make(map[string]*RateLimiter),
		default_: NewRateLimiter(defaultPerMinute),
		audit:    auditor,
	}
}

// SetLimit 為特定路由設置限制，route 為 gin 的 FullPath
func (p *PerEndpointRateLimiter) SetLimit(route string, perMinute int) {
	p.limiters[route] = NewRateLimiter(perMinute)
}

// Cleanup 清理所有限制器的閒置記錄
func (p *PerEndpointRateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	for _, l := range p.limiters {
		go l.Cleanup(ctx, interval)
	}
	p.default_.Cleanup(ctx, interval)
}

// Middleware 返回 Gin 中間件
// 已驗證的請求以用戶 ID 計算額度，否則以 IP 計算
func (p *PerEndpointRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter, exists := p.limiters[c.FullPath()]
		if !exists {
			limiter = p.default_
		}

		key := GetUserID(c)
		if key == "" {
			key = GetClientIP(c)
		}

		if !limiter.Allow(key) {
			p.audit.LogRateLimitExceeded(c.Request.Context(), GetClientIP(c), c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "請求過於頻繁，請稍後再試",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}

		c.Next()
	}
}
