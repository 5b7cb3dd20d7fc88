package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"medchat-gateway/internal/constants"
	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/middleware"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Server HTTP 伺服器與背景清理工作.
type Server struct {
	cfg  *config.Config
	deps Dependencies
	http *http.Server
}

// New 建立 HTTP 伺服器.
func New(cfg *config.Config, deps Dependencies) *Server {
	timeout := time.Duration(cfg.Server.Timeout) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout * time.Second
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           Router(cfg, deps),
			ReadHeaderTimeout: timeout,
			ReadTimeout:       timeout,
			WriteTimeout:      0, // WebSocket 需要長連接，設為 0 表示不超時
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Handler 路由，供測試使用.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run 啟動伺服器直到 ctx 結束，然後優雅關閉.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.deps.RateLimiter != nil {
		interval := time.Duration(s.cfg.Limits.RateLimiting.CleanupInterval) * time.Minute
		if interval <= 0 {
			interval = constants.RateLimitCleanupIntervalMin * time.Minute
		}
		g.Go(func() error {
			s.deps.RateLimiter.Cleanup(ctx, interval)
			return nil
		})
	}
	if s.deps.ConnLimiter != nil {
		g.Go(func() error {
			s.deps.ConnLimiter.Cleanup(ctx, constants.WSConnectionCleanupIntervalMin*time.Minute)
			return nil
		})
	}

	g.Go(func() error {
		logger.Infof(ctx, "伺服器正在監聽: %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "收到關閉信號，正在優雅關閉伺服器...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logger.Errorf(shutdownCtx, "伺服器關閉失敗: %v", err)
			return err
		}
		logger.Info(shutdownCtx, "伺服器已優雅關閉")
		return nil
	})

	return g.Wait()
}

// NewConnectionLimiter 依配置建立 WebSocket 連線限制器.
func NewConnectionLimiter(cfg config.RealtimeConfig) *middleware.ConnectionLimiter {
	return middleware.NewConnectionLimiter(
		cfg.MaxConnectionsPerIP,
		time.Duration(cfg.MinConnectionInterval)*time.Second,
		cfg.MaxTotalConnections,
	)
}
