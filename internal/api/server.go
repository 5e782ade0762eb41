package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"binary-trader/internal/config"
	"binary-trader/internal/execution"
	"binary-trader/internal/monitor"
	"binary-trader/internal/session"
)

// Sessions 为会话生命周期操作，由 session.Manager 实现。
type Sessions interface {
	Start(cfg config.SessionConfig) (session.Session, error)
	Pause(ctx context.Context, id string) (session.Session, error)
	Resume(ctx context.Context, id string) (session.Session, error)
	Stop(ctx context.Context, id string) (session.Session, error)
	Get(id string) (session.Session, error)
	List() []session.Session
}

// History 查询已持久化的会话与操作记录。
type History interface {
	GetSession(ctx context.Context, id string) (session.Session, error)
	ListOperations(ctx context.Context, sessionID string, limit int) ([]execution.Operation, error)
}

// Events 查询事件日志。
type Events interface {
	ListEvents(ctx context.Context, q monitor.Query) ([]monitor.Event, error)
}

var _ Sessions = (*session.Manager)(nil)

// Server 暴露会话管理接口。
type Server struct {
	router   *gin.Engine
	sessions Sessions
	history  History
	events   Events
	port     int
	logger   *zap.Logger
}

// NewServer 创建 HTTP 服务并注册路由。
func NewServer(cfg config.APIConfig, sessions Sessions, history History, events Events, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogger(logger))
	r.Use(rateLimitMiddleware(newClientLimiters(cfg.RateLimit, cfg.Burst), logger))

	s := &Server{
		router:   r,
		sessions: sessions,
		history:  history,
		events:   events,
		port:     cfg.Port,
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)

	sessions := s.router.Group("/sessions")
	{
		sessions.GET("", s.listSessions)
		sessions.POST("", s.startSession)
		sessions.GET("/:id", s.getSession)
		sessions.GET("/:id/operations", s.listOperations)
		sessions.POST("/:id/pause", s.pauseSession)
		sessions.POST("/:id/resume", s.resumeSession)
		sessions.POST("/:id/stop", s.stopSession)
	}
	s.router.GET("/events", s.listEvents)
}

// Handler 返回路由，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 监听端口直到 ctx 结束，随后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("会话管理接口已启动", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: 服务异常: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: 关闭服务失败: %w", err)
	}
	return nil
}
