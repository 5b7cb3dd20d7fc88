package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("第 %d 個請求應被允許", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("超過額度的請求應被拒絕")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("其他訪問者不應受影響")
	}
}

func TestPerEndpointRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewPerEndpointRateLimiter(100, nil)
	p.SetLimit("/send", 1)

	r := gin.New()
	r.Use(p.Middleware())
	r.POST("/send", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/other", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for _, path := range []string{"/send", "/send", "/other"} {
		method := http.MethodPost
		if path == "/other" {
			method = http.MethodGet
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("請求 %d 期望 %d，實際為 %d", i, want[i], codes[i])
		}
	}
}

func TestConnectionLimiter(t *testing.T) {
	l := NewConnectionLimiter(2, 0, 3)

	if !l.Acquire("a") || !l.Acquire("a") {
		t.Fatal("前兩個連接應被允許")
	}
	if l.Acquire("a") {
		t.Error("超過單 IP 上限應被拒絕")
	}
	if !l.Acquire("b") {
		t.Fatal("其他 IP 應被允許")
	}
	if l.Acquire("c") {
		t.Error("超過全局上限應被拒絕")
	}

	l.Release("a")
	if !l.Acquire("c") {
		t.Error("釋放後應可再連接")
	}
	if got := l.Stats()["total_connections"]; got != 3 {
		t.Errorf("期望 3 個連接，實際為 %v", got)
	}
}

func TestConnectionLimiterInterval(t *testing.T) {
	l := NewConnectionLimiter(10, time.Hour, 10)
	if !l.Acquire("a") {
		t.Fatal("第一次連接應被允許")
	}
	l.Release("a")
	if l.Acquire("a") {
		t.Error("最小間隔內重連應被拒絕")
	}
}
