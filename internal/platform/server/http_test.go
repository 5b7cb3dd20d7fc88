package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"medchat-gateway/internal/messaging"
	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/health"
	"medchat-gateway/internal/platform/middleware"
	"medchat-gateway/internal/realtime"
	"medchat-gateway/internal/storage/database/directory"
)

type fakeUsers map[string]*directory.User

func (f fakeUsers) FindByID(_ context.Context, id string) (*directory.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, directory.ErrUserNotFound
}

func testConfig(jwtEnabled bool) *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "medchat-gateway"},
		Server: config.ServerConfig{Port: "0", Timeout: 5},
		Security: config.SecurityConfig{Authentication: config.AuthenticationConfig{
			JWTEnabled: jwtEnabled,
			JWTSecret:  "router-secret",
		}},
		Limits: config.LimitsConfig{
			Request: config.RequestLimitsConfig{MaxBodySize: 1 << 10},
			RateLimiting: config.RateLimitingConfig{
				Enabled:          true,
				DefaultPerMinute: 100,
				SendPerMinute:    1,
			},
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	users := fakeUsers{"PAT001": {ID: "PAT001", FullName: "Patient One", Role: directory.RolePatient}}
	auth := middleware.NewJWTMiddleware(cfg.Security.Authentication, users, nil)
	hub := realtime.NewHub()

	return Router(cfg, Dependencies{
		Auth:        auth,
		Messages:    messaging.NewHandler(messaging.NewService(nil, nil, nil, nil, messaging.Options{})),
		Realtime:    realtime.NewHandler(hub, auth, nil, realtime.SettingsFromConfig(cfg.Realtime), nil),
		Health:      health.NewHealthHandler(health.Options{AppName: cfg.App.Name}),
		RateLimiter: NewRateLimiter(cfg.Limits.RateLimiting, nil),
		ConnLimiter: NewConnectionLimiter(cfg.Realtime),
	})
}

func TestPublicEndpoints(t *testing.T) {
	r := newTestRouter(testConfig(true))

	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s 期望 200，實際為 %d", path, w.Code)
		}
		if w.Header().Get(middleware.RequestIDHeader) == "" {
			t.Errorf("%s 缺少 request id", path)
		}
	}
}

func TestMessagesRequireAuth(t *testing.T) {
	r := newTestRouter(testConfig(true))

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/messages/contacts"},
		{http.MethodGet, "/api/v1/messages/PAT002"},
		{http.MethodPost, "/api/v1/messages/send"},
		{http.MethodGet, "/ws"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s 期望 401，實際為 %d", tt.method, tt.path, w.Code)
		}
	}
}

func TestSendRateLimit(t *testing.T) {
	r := newTestRouter(testConfig(false))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/send", strings.NewReader("not json"))
		req.Header.Set(middleware.DevUserHeader, "PAT001")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(); code != http.StatusBadRequest {
		t.Fatalf("第一次請求期望 400，實際為 %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("超過 send 限額期望 429，實際為 %d", code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	if rl := NewRateLimiter(config.RateLimitingConfig{Enabled: false}, nil); rl != nil {
		t.Error("未啟用時應回傳 nil")
	}
}
