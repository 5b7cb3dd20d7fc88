package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveHealth(t *testing.T, opts Options) map[string]interface{} {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", NewHealthHandler(opts).HealthCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("健康檢查應回傳 200，實際為 %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析回應失敗: %v", err)
	}
	return body
}

func TestHealthCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		opts       Options
		wantStatus string
		wantRelay  string
	}{
		{"全部正常", Options{Database: ok, Relay: ok}, statusHealthy, statusHealthy},
		{"未啟用 Redis", Options{Database: ok}, statusHealthy, statusDisabled},
		{"資料庫異常", Options{Database: down}, statusDegraded, statusDisabled},
		{"Redis 異常", Options{Database: ok, Relay: down}, statusDegraded, statusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := serveHealth(t, tt.opts)
			if body["status"] != tt.wantStatus {
				t.Errorf("期望狀態 %s，實際為 %v", tt.wantStatus, body["status"])
			}
			relay, _ := body["relay"].(map[string]interface{})
			if relay["status"] != tt.wantRelay {
				t.Errorf("期望 relay 狀態 %s，實際為 %v", tt.wantRelay, relay["status"])
			}
		})
	}
}

func TestHealthCheckIncludesRealtimeStats(t *testing.T) {
	body := serveHealth(t, Options{
		Database: func(context.Context) error { return nil },
		Realtime: func() interface{} { return map[string]int{"users": 2, "connections": 3} },
	})
	rt, ok := body["realtime"].(map[string]interface{})
	if !ok {
		t.Fatalf("缺少 realtime 欄位: %v", body)
	}
	if rt["connections"] != float64(3) {
		t.Errorf("期望 3 條連線，實際為 %v", rt["connections"])
	}
}
