package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"binary-trader/internal/broker"
	"binary-trader/internal/config"
	applog "binary-trader/internal/log"
	"binary-trader/internal/metrics"
	"binary-trader/internal/strategy"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionActive     = errors.New("user already has an active session")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrInvalidConfig     = errors.New("invalid session config")
)

// GatewayFactory 为会话创建独占的经纪商连接。
type GatewayFactory func(cfg config.SessionConfig) (Gateway, error)

// Manager 持有会话注册表，是唯一可变的全局状态；所有生命周期操作都经由它完成。
type Manager struct {
	mu      sync.Mutex
	runners map[string]*Runner

	factory    GatewayFactory
	store      Store
	publisher  Publisher
	engine     config.EngineConfig
	fastWindow time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	newID  func() string
}

// NewManager 创建会话管理器。
func NewManager(factory GatewayFactory, store Store, publisher Publisher, engine config.EngineConfig, fastWindow time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if engine.PollInterval <= 0 {
		engine.PollInterval = 100 * time.Millisecond
	}
	if engine.StopTimeout <= 0 {
		engine.StopTimeout = 10 * time.Second
	}
	if engine.ErrorBackoff <= 0 {
		engine.ErrorBackoff = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runners:    make(map[string]*Runner),
		factory:    factory,
		store:      store,
		publisher:  publisher,
		engine:     engine,
		fastWindow: fastWindow,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		newID:      uuid.NewString,
	}
}

// Run 启动预配置的会话并阻塞到 ctx 结束，随后停止全部会话。
func (m *Manager) Run(ctx context.Context, boot []config.SessionConfig) error {
	for _, cfg := range boot {
		sess, err := m.Start(cfg)
		if err != nil {
			m.logger.Error("启动预配置会话失败",
				zap.String("user_id", cfg.UserID),
				zap.String("strategy", cfg.Strategy),
				zap.Error(err),
			)
			continue
		}
		m.logger.Info("预配置会话已启动", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
	}

	<-ctx.Done()
	return m.StopAll(context.Background())
}

// Start 校验配置并启动会话工作协程；配置无效或用户已有活动会话时不启动任何协程。
func (m *Manager) Start(cfg config.SessionConfig) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	strat, err := strategy.FromConfig(cfg, m.engine)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	m.mu.Lock()
	err = m.admit(cfg.UserID)
	m.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	// 建立经纪商连接可能较慢，不持有注册表锁。
	gw, err := m.factory(cfg)
	if err != nil {
		return Session{}, fmt.Errorf("创建经纪商连接失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.admit(cfg.UserID); err != nil {
		if cerr := gw.Close(); cerr != nil {
			m.logger.Warn("释放经纪商连接失败", zap.String("user_id", cfg.UserID), zap.Error(cerr))
		}
		return Session{}, err
	}

	now := time.Now().UTC()
	sess := Session{
		ID:               m.newID(),
		UserID:           cfg.UserID,
		Strategy:         string(strat.Kind),
		Asset:            cfg.Asset,
		AlternativeAsset: cfg.AlternativeAsset,
		ActiveAsset:      cfg.Asset,
		AccountMode:      broker.ParseAccountMode(cfg.AccountMode),
		Status:           StatusStopped,
		UpdatedAt:        now,
	}
	logger := applog.ForSession(m.logger, sess.ID, sess.UserID, sess.Strategy, sess.Asset)

	r := newRunner(sess, cfg, strat, gw, m, logger)
	runCtx, cancel := context.WithCancel(m.ctx)
	r.cancel = cancel
	m.runners[sess.ID] = r
	metrics.Sessions.WithLabelValues(string(StatusStopped)).Inc()

	go r.run(runCtx)

	logger.Info("会话已创建",
		zap.Int("candles", strat.CandleCount()),
		zap.Int("expiration", strat.Expiration),
		zap.Duration("cadence", strat.Cadence.Period),
	)
	return sess, nil
}

// admit 检查管理器仍在运行且该用户没有活动会话，调用方需持有 m.mu。
func (m *Manager) admit(userID string) error {
	if m.ctx.Err() != nil {
		return errors.New("session manager is shut down")
	}
	for _, r := range m.runners {
		if r.Snapshot().UserID == userID && !finished(r) {
			return fmt.Errorf("%w: %s", ErrSessionActive, userID)
		}
	}
	return nil
}

// Pause 暂停会话轮询，工作协程保持存活。
func (m *Manager) Pause(ctx context.Context, id string) (Session, error) {
	r, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	if err := r.pause(ctx); err != nil {
		return r.Snapshot(), err
	}
	return r.Snapshot(), nil
}

// Resume 恢复已暂停的会话。
func (m *Manager) Resume(ctx context.Context, id string) (Session, error) {
	r, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	if err := r.resume(ctx); err != nil {
		return r.Snapshot(), err
	}
	return r.Snapshot(), nil
}

// Stop 请求停止会话并在 StopTimeout 内等待工作协程退出，超时后取消其上下文。
// 对已停止的会话重复调用不会报错。
func (m *Manager) Stop(ctx context.Context, id string) (Session, error) {
	r, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	r.requestStop()

	timer := time.NewTimer(m.engine.StopTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		r.cancel()
		return r.Snapshot(), ctx.Err()
	case <-timer.C:
	}

	r.logger.Warn("会话未在限定时间内退出，取消进行中的操作", zap.Duration("timeout", m.engine.StopTimeout))
	r.cancel()

	grace := time.NewTimer(m.engine.StopTimeout)
	defer grace.Stop()
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-grace.C:
		return r.Snapshot(), fmt.Errorf("session %s did not stop within %s", id, 2*m.engine.StopTimeout)
	}
}

// StopAll 并行停止全部会话并聚合错误，之后不再接受新会话。
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.Stop(ctx, id); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	if errs != nil {
		return fmt.Errorf("停止会话失败: %w", errs)
	}
	return nil
}

// Get 返回会话快照。
func (m *Manager) Get(id string) (Session, error) {
	r, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	return r.Snapshot(), nil
}

// List 返回全部会话快照，按创建顺序排列。
func (m *Manager) List() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.runners))
	for _, r := range m.runners {
		out = append(out, r.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *Manager) lookup(id string) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return r, nil
}

func finished(r *Runner) bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
