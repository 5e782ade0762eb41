package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"binary-trader/internal/broker"
	"binary-trader/internal/config"
	"binary-trader/internal/execution"
	"binary-trader/internal/gate"
	"binary-trader/internal/metrics"
	"binary-trader/internal/risk"
	"binary-trader/internal/strategy"
)

// 事件主题。
const (
	TopicSessionStatus  = "session.status"
	TopicSessionUpdated = "session.updated"
	TopicSignal         = "session.signal"
	TopicAssetSwitched  = "session.asset_switched"
)

// Gateway 为会话独占的经纪商连接。
type Gateway interface {
	execution.Gateway
	Connect(ctx context.Context) error
	Balance(ctx context.Context) (float64, error)
	CandlesUntil(ctx context.Context, asset string, timeframe, count int, until time.Time) ([]broker.Candle, error)
	Close() error
}

// Store 持久化会话与操作记录，失败不影响交易。
type Store interface {
	execution.Recorder
	SaveSession(ctx context.Context, s Session) error
}

// Publisher 推送事件。
type Publisher = execution.Publisher

// SignalEvent 为一次入场闸门触发后的信号结果。
type SignalEvent struct {
	SessionID string           `json:"session_id"`
	Strategy  string           `json:"strategy"`
	Asset     string           `json:"asset"`
	Direction broker.Direction `json:"direction"`
	Period    int64            `json:"period"`
	Cached    bool             `json:"cached"`
	At        time.Time        `json:"at"`
}

// AssetSwitch 描述主资产休市时改用备选资产。
type AssetSwitch struct {
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Runner 拥有单个会话的生命周期：轮询入场闸门、计算信号、执行序列并检查止盈止损。
type Runner struct {
	id string

	mu   sync.Mutex
	sess Session

	cfg       config.SessionConfig
	engine    config.EngineConfig
	strategy  strategy.Strategy
	gate      *gate.Gate
	signals   *gate.Cache[broker.Direction]
	gateway   Gateway
	executor  *execution.Executor
	settings  execution.Settings
	limits    risk.Limits
	pref      execution.Preference
	store     Store
	publisher Publisher
	logger    *zap.Logger

	paused   atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

func newRunner(sess Session, cfg config.SessionConfig, strat strategy.Strategy, gw Gateway, m *Manager, logger *zap.Logger) *Runner {
	r := &Runner{
		id:        sess.ID,
		sess:      sess,
		cfg:       cfg,
		engine:    m.engine,
		strategy:  strat,
		gate:      gate.New(strat.Cadence),
		signals:   gate.NewCache[broker.Direction](),
		gateway:   gw,
		limits:    risk.Limits{StopWin: cfg.StopWin, StopLoss: cfg.StopLoss},
		pref:      execution.ParsePreference(strings.ToLower(cfg.OrderType)),
		store:     m.store,
		publisher: m.publisher,
		logger:    logger,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.settings = execution.Settings{
		EntryValue:        cfg.EntryValue,
		MartingaleEnabled: cfg.MartingaleEnabled,
		MartingaleLevels:  cfg.MartingaleLevels,
		MartingaleFactor:  cfg.MartingaleFactor,
		SorosEnabled:      cfg.SorosEnabled,
		SorosLevels:       cfg.SorosLevels,
	}
	r.executor = execution.NewExecutor(gw, m.store, m.publisher, execution.Options{
		ResultPollInterval: m.engine.ResultPollInterval,
		ResultWaitMax:      m.engine.ResultWaitMax,
		FastWindow:         m.fastWindow,
	}, logger)
	return r
}

// Snapshot 返回会话当前状态的副本。
func (r *Runner) Snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// Done 在工作协程退出后关闭。
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)
	defer r.release()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("会话工作协程异常退出", zap.Any("panic", rec), zap.Stack("stack"))
			r.fail(fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := r.connect(ctx); err != nil {
		r.logger.Error("连接经纪商失败，会话未启动", zap.Error(err))
		r.mu.Lock()
		r.sess.StopReason = fmt.Sprintf("连接经纪商失败: %v", err)
		r.sess.StoppedAt = time.Now().UTC()
		r.mu.Unlock()
		r.persist(context.WithoutCancel(ctx))
		r.publisher.Publish(TopicSessionStatus, r.Snapshot())
		return
	}
	if err := r.transition(ctx, StatusRunning, ""); err != nil {
		return
	}
	r.logger.Info("会话开始运行", zap.String("account", string(r.sess.AccountMode)))

	reason, err := r.loop(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	_ = r.transition(ctx, StatusStopped, reason)
}

func (r *Runner) connect(ctx context.Context) error {
	if err := r.gateway.Connect(ctx); err != nil {
		return err
	}
	balance, err := r.gateway.Balance(ctx)
	if err != nil {
		r.logger.Warn("读取初始余额失败", zap.Error(err))
	}
	r.mu.Lock()
	r.sess.InitialBalance = balance
	r.sess.CurrentBalance = balance
	r.mu.Unlock()
	return nil
}

func (r *Runner) loop(ctx context.Context) (string, error) {
	for {
		if ctx.Err() != nil {
			return "cancelled", nil
		}
		if r.stopped.Load() {
			return "stop requested", nil
		}
		if r.paused.Load() {
			r.sleep(ctx, r.engine.PollInterval)
			continue
		}

		reason, err := r.tick(ctx)
		switch {
		case err == nil && reason != "":
			return reason, nil
		case err == nil:
			r.sleep(ctx, r.engine.PollInterval)
		case broker.IsFatal(err):
			return "", err
		case ctx.Err() != nil:
			return "cancelled", nil
		default:
			r.logger.Warn("本轮处理失败，稍后重试", zap.Error(err))
			r.sleep(ctx, r.engine.ErrorBackoff)
		}
	}
}

// tick 执行一次轮询；返回非空 reason 表示触发止盈或止损。
func (r *Runner) tick(ctx context.Context) (string, error) {
	now := r.gateway.ServerTime(ctx)
	key := r.strategy.Cadence.Key

	if target, due := r.gate.PrecomputeDue(now, key); due {
		r.precompute(ctx, target)
	}
	if !r.gate.ShouldFire(now, key) {
		return "", nil
	}
	period := r.gate.Index(now, key)
	metrics.GateFires.WithLabelValues(string(r.strategy.Kind)).Inc()

	dir, cached := r.signals.Take(key, period)
	if !cached {
		candles, err := r.gateway.CandlesUntil(ctx, r.cfg.Asset, r.strategy.Timeframe, r.strategy.CandleCount(), time.Time{})
		if err != nil {
			if broker.IsFatal(err) {
				return "", err
			}
			r.logger.Info("K线数据不足，本轮跳过", zap.Int64("period", period), zap.Error(err))
			return "", nil
		}
		dir = r.strategy.Signal(candles)
	}

	label := string(dir)
	if dir == broker.DirectionNone {
		label = "none"
	}
	metrics.Signals.WithLabelValues(string(r.strategy.Kind), label).Inc()
	r.publisher.Publish(TopicSignal, SignalEvent{
		SessionID: r.id,
		Strategy:  string(r.strategy.Kind),
		Asset:     r.cfg.Asset,
		Direction: dir,
		Period:    period,
		Cached:    cached,
		At:        now,
	})
	if dir == broker.DirectionNone {
		return "", nil
	}

	asset, ok := r.selectAsset(ctx)
	if !ok {
		r.logger.Warn("主资产与备选资产均不可交易，跳过信号", zap.String("direction", string(dir)))
		return "", nil
	}

	snap := r.Snapshot()
	out := r.executor.Execute(ctx, execution.Request{
		SessionID:  r.id,
		Asset:      asset,
		Direction:  dir,
		Expiration: r.strategy.Expiration,
		Preference: r.pref,
		Halted:     r.haltCheck(snap.Profit),
		Stop:       r.stopCh,
	}, r.settings, snap.Soros)

	profit := r.afterSeries(ctx, asset, out)
	if out.Err != nil && errors.Is(out.Err, broker.ErrAuthFailed) {
		return "", out.Err
	}

	if eval := r.limits.Evaluate(profit); eval.Halted() {
		r.logger.Info("触发止盈止损，停止会话", zap.String("status", string(eval.Status)), zap.String("note", eval.Note))
		return string(eval.Status), nil
	}
	return "", nil
}

// haltCheck 在每次下单前判断停止请求以及计入本序列净盈亏后的止盈止损。
func (r *Runner) haltCheck(profit float64) func(net float64) bool {
	return func(net float64) bool {
		if r.stopped.Load() {
			return true
		}
		return r.limits.Evaluate(profit + net).Halted()
	}
}

// precompute 在入场窗口开启前计算目标周期的信号，消化K线请求延迟。
func (r *Runner) precompute(ctx context.Context, target int64) {
	until := r.gate.WindowStart(r.strategy.Cadence.Key, target)
	candles, err := r.gateway.CandlesUntil(ctx, r.cfg.Asset, r.strategy.Timeframe, r.strategy.CandleCount(), until)
	if err != nil {
		r.logger.Debug("预计算信号失败，窗口内将重新计算", zap.Int64("target", target), zap.Error(err))
		return
	}
	r.signals.Put(r.strategy.Cadence.Key, target, r.strategy.Signal(candles))
}

// selectAsset 并行查询主资产与备选资产收益率，主资产休市（收益率为0）时改用备选资产。
func (r *Runner) selectAsset(ctx context.Context) (string, bool) {
	var primary, alternative broker.Payout

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		primary = r.gateway.Payout(gctx, r.cfg.Asset)
		return nil
	})
	if r.cfg.AlternativeAsset != "" {
		g.Go(func() error {
			alternative = r.gateway.Payout(gctx, r.cfg.AlternativeAsset)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case primary.Best() > 0:
		return r.cfg.Asset, true
	case r.cfg.AlternativeAsset != "" && alternative.Best() > 0:
		metrics.Fallbacks.WithLabelValues("asset").Inc()
		r.logger.Warn("主资产不可交易，改用备选资产",
			zap.String("from", r.cfg.Asset),
			zap.String("to", r.cfg.AlternativeAsset),
		)
		r.publisher.Publish(TopicAssetSwitched, AssetSwitch{
			SessionID: r.id,
			From:      r.cfg.Asset,
			To:        r.cfg.AlternativeAsset,
		})
		return r.cfg.AlternativeAsset, true
	default:
		return "", false
	}
}

// afterSeries 累加序列结果、刷新余额并持久化，返回累计盈亏。
func (r *Runner) afterSeries(ctx context.Context, asset string, out execution.SeriesOutcome) float64 {
	balance, balanceErr := r.gateway.Balance(ctx)

	r.mu.Lock()
	r.sess.apply(out)
	r.sess.ActiveAsset = asset
	if balanceErr == nil {
		r.sess.CurrentBalance = balance
	}
	r.sess.UpdatedAt = time.Now().UTC()
	snap := r.sess
	r.mu.Unlock()

	if balanceErr != nil && ctx.Err() == nil {
		r.logger.Warn("刷新余额失败", zap.Error(balanceErr))
	}
	metrics.SessionProfit.WithLabelValues(snap.ID).Set(snap.Profit)
	r.persist(context.WithoutCancel(ctx))
	r.publisher.Publish(TopicSessionUpdated, snap)
	return snap.Profit
}

// transition 在锁内校验并执行状态迁移，随后持久化并推送。
func (r *Runner) transition(ctx context.Context, to Status, reason string) error {
	r.mu.Lock()
	from := r.sess.Status
	if from == to {
		r.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	r.sess.Status = to
	now := time.Now().UTC()
	r.sess.UpdatedAt = now
	switch to {
	case StatusRunning:
		if r.sess.StartedAt.IsZero() {
			r.sess.StartedAt = now
		}
	case StatusStopped, StatusError:
		if reason != "" {
			r.sess.StopReason = reason
		}
		if to == StatusStopped {
			r.sess.StoppedAt = now
		}
	}
	snap := r.sess
	r.mu.Unlock()

	metrics.Sessions.WithLabelValues(string(from)).Dec()
	metrics.Sessions.WithLabelValues(string(to)).Inc()

	r.logger.Info("会话状态变更",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	r.persist(context.WithoutCancel(ctx))
	r.publisher.Publish(TopicSessionStatus, snap)
	return nil
}

// fail 将会话经 ERROR 迁移到 STOPPED。
func (r *Runner) fail(err error) {
	ctx := context.Background()
	reason := err.Error()
	if r.Snapshot().Status == StatusRunning {
		_ = r.transition(ctx, StatusError, reason)
	}
	if e := r.transition(ctx, StatusStopped, reason); e != nil {
		r.logger.Warn("会话状态迁移失败", zap.Error(e))
	}
}

func (r *Runner) pause(ctx context.Context) error {
	switch r.Snapshot().Status {
	case StatusPaused:
		return nil
	case StatusRunning:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Snapshot().Status, StatusPaused)
	}
	r.paused.Store(true)
	if err := r.transition(ctx, StatusPaused, ""); err != nil {
		r.paused.Store(false)
		return err
	}
	return nil
}

func (r *Runner) resume(ctx context.Context) error {
	switch r.Snapshot().Status {
	case StatusRunning:
		return nil
	case StatusPaused:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Snapshot().Status, StatusRunning)
	}
	if err := r.transition(ctx, StatusRunning, ""); err != nil {
		return err
	}
	r.paused.Store(false)
	return nil
}

// requestStop 设置停止标志并唤醒休眠中的工作协程，可重复调用。
func (r *Runner) requestStop() {
	r.stopped.Store(true)
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// sleep 可被取消或停止请求打断。
func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-r.stopCh:
	case <-timer.C:
	}
}

func (r *Runner) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveSession(ctx, r.Snapshot()); err != nil {
		r.logger.Warn("保存会话失败", zap.Error(err))
	}
}

func (r *Runner) release() {
	if err := r.gateway.Close(); err != nil {
		r.logger.Warn("释放经纪商连接失败", zap.Error(err))
	}
	if r.cancel != nil {
		r.cancel()
	}
}
