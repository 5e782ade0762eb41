package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"binary-trader/internal/api"
	"binary-trader/internal/broker"
	"binary-trader/internal/config"
	"binary-trader/internal/monitor"
	"binary-trader/internal/notify"
	"binary-trader/internal/session"
	"binary-trader/internal/store"
)

var _ session.Gateway = (*broker.Client)(nil)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 启动事件监控、会话管理与对外接口，阻塞到 ctx 结束且全部会话停止。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("broker", a.cfg.Broker.Driver),
		zap.Int("sessions", len(a.cfg.Sessions)),
	)

	mon, err := monitor.NewService(a.store.DB(), a.cfg.Notify.BufferSize, a.logger.Named("monitor"), a.sinks()...)
	if err != nil {
		return err
	}

	manager := session.NewManager(
		a.gatewayFactory(),
		a.store,
		mon,
		a.cfg.Engine,
		a.cfg.Broker.FastWindow,
		a.logger.Named("session"),
	)

	// 监控在会话全部停止后才退出，以便写入最终状态事件。
	monCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(monCtx)
	})
	g.Go(func() error {
		defer stopMonitor()
		return manager.Run(gctx, a.cfg.Sessions)
	})
	if a.cfg.API.Enabled {
		srv := api.NewServer(a.cfg.API, manager, a.store, mon, a.logger.Named("api"))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return runMetricsServer(gctx, a.cfg.Metrics.Port, a.logger.Named("metrics"))
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，全部会话已停止", zap.Int64("dropped_events", mon.Dropped()))
	return nil
}

func (a *App) sinks() []monitor.Sink {
	sinks := []monitor.Sink{notify.NewLog(a.logger.Named("notify"))}
	if a.cfg.Notify.TelegramToken == "" || a.cfg.Notify.TelegramChatID == 0 {
		return sinks
	}
	tg, err := notify.NewTelegram(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID)
	if err != nil {
		a.logger.Warn("Telegram 推送不可用", zap.Error(err))
		return sinks
	}
	return append(sinks, tg)
}

// gatewayFactory 为每个会话创建独立连接，驱动由配置决定。
func (a *App) gatewayFactory() session.GatewayFactory {
	brokerCfg := a.cfg.Broker
	logger := a.logger.Named("broker")
	return func(cfg config.SessionConfig) (session.Gateway, error) {
		var conn broker.Conn
		switch strings.ToLower(brokerCfg.Driver) {
		case "bridge":
			conn = broker.NewBridgeConn(brokerCfg.URL, brokerCfg.Email, brokerCfg.Password,
				brokerCfg.RequestsPerSecond, brokerCfg.RequestTimeout, logger)
		case "paper":
			conn = broker.NewPaperConn(brokerCfg.PaperSeed)
		default:
			return nil, fmt.Errorf("不支持的经纪商驱动: %q", brokerCfg.Driver)
		}
		mode := broker.ParseAccountMode(cfg.AccountMode)
		return broker.NewClient(conn, mode, brokerCfg, a.cfg.Retry, logger.With(zap.String("user_id", cfg.UserID))), nil
	}
}
