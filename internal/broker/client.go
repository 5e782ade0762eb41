package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"binary-trader/internal/config"
	"binary-trader/internal/metrics"
)

// Client 包装单个用户的经纪商连接，负责重连、重试、收益率缓存与下单超时控制。
// 同一实例的所有调用通过互斥锁串行化，保证连接单一所有者。
type Client struct {
	cfg    config.BrokerConfig
	retry  config.RetryConfig
	logger *zap.Logger
	conn   Conn
	mode   AccountMode

	mu        sync.Mutex
	connected bool

	payouts *payoutCache

	ordersMu   sync.Mutex
	orderTypes map[string]OrderType

	now func() time.Time
}

// NewClient 创建具备容错能力的经纪商客户端。
func NewClient(conn Conn, mode AccountMode, cfg config.BrokerConfig, retry config.RetryConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.CandleAttempts <= 0 {
		cfg.CandleAttempts = 5
	}
	if cfg.DefaultPayout <= 0 {
		cfg.DefaultPayout = 80
	}
	if cfg.BinaryBuyTimeout <= 0 {
		cfg.BinaryBuyTimeout = 6 * time.Second
	}
	if cfg.DigitalBuyTimeout <= 0 {
		cfg.DigitalBuyTimeout = 12 * time.Second
	}
	if cfg.FastWindow <= 0 {
		cfg.FastWindow = 2 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	return &Client{
		cfg:        cfg,
		retry:      retry,
		logger:     logger,
		conn:       conn,
		mode:       mode,
		payouts:    newPayoutCache(cfg.PayoutTTL),
		orderTypes: make(map[string]OrderType),
		now:        time.Now,
	}
}

// Mode 返回当前账户模式。
func (c *Client) Mode() AccountMode {
	return c.mode
}

// Connect 建立连接并切换到配置的账户模式。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		err := c.conn.Connect(ctx)
		if err == nil {
			err = c.conn.ChangeAccount(ctx, c.mode)
		}
		if err == nil {
			if attempt > 1 || lastErr != nil {
				c.logger.Info("经纪商重连成功", zap.Int("attempts", attempt), zap.String("mode", string(c.mode)))
			}
			c.connected = true
			return nil
		}

		if errors.Is(err, ErrAuthFailed) {
			c.connected = false
			return wrap(KindFatal, "connect", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		metrics.BrokerReconnects.Inc()
		c.logger.Warn("经纪商连接失败，等待重连",
			zap.Int("attempt", attempt),
			zap.Duration("wait", c.cfg.ReconnectDelay),
			zap.Error(err),
		)
		if attempt < c.cfg.ReconnectAttempts {
			if err := sleepCtx(ctx, c.cfg.ReconnectDelay); err != nil {
				return err
			}
		}
	}

	c.connected = false
	return wrap(KindTransient, "connect", fmt.Errorf("重连 %d 次后仍失败: %w", c.cfg.ReconnectAttempts, lastErr))
}

// once 执行一次连接调用，遇到传输错误时尝试重连但不重放调用。
func (c *Client) once(ctx context.Context, op string, fn func(context.Context, Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connectLocked(ctx); err != nil {
			metrics.BrokerErrors.WithLabelValues(op, kindOf(err).String()).Inc()
			return err
		}
	}

	err := fn(ctx, c.conn)
	if err == nil {
		return nil
	}

	normalized, reconnect := classifyError(op, err)
	metrics.BrokerErrors.WithLabelValues(op, kindOf(normalized).String()).Inc()
	if reconnect {
		c.connected = false
		c.logger.Warn("经纪商连接中断，尝试恢复", zap.String("operation", op), zap.Error(err))
		if rErr := c.connectLocked(ctx); rErr != nil {
			c.logger.Error("经纪商连接恢复失败", zap.String("operation", op), zap.Error(rErr))
		}
	}
	return normalized
}

func (c *Client) callWithRetry(ctx context.Context, op string, fn func(context.Context, Conn) error) error {
	delay := c.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err := c.once(ctx, op, fn)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("经纪商调用重试后成功", zap.String("operation", op), zap.Int("attempts", attempt))
			}
			return nil
		}

		if !IsTransient(err) || attempt >= c.retry.MaxAttempts {
			return err
		}

		wait := min(delay, maxDelay)
		c.logger.Warn("经纪商调用失败，等待重试",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		delay = min(delay*2, maxDelay)
	}
}

// ServerTime 返回经纪商服务器时间，失败时退回本地时间。
func (c *Client) ServerTime(ctx context.Context) time.Time {
	var ts time.Time
	err := c.once(ctx, "server_time", func(ctx context.Context, conn Conn) error {
		var e error
		ts, e = conn.ServerTime(ctx)
		return e
	})
	if err != nil || ts.IsZero() {
		return c.now()
	}
	return ts
}

// Balance 查询当前账户余额。
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var balance float64
	err := c.callWithRetry(ctx, "balance", func(ctx context.Context, conn Conn) error {
		var e error
		balance, e = conn.Balance(ctx)
		return e
	})
	return balance, err
}

// Payout 返回资产收益率；缓存命中直接返回，查询失败时使用旧值或默认值，不会阻塞调用方。
func (c *Client) Payout(ctx context.Context, asset string) Payout {
	now := c.now()
	if p, ok := c.payouts.get(asset, now); ok {
		return p
	}

	var p Payout
	err := c.once(ctx, "payout", func(ctx context.Context, conn Conn) error {
		var e error
		p, e = conn.Payout(ctx, asset)
		return e
	})
	if err == nil {
		c.payouts.put(asset, p, now)
		return p
	}

	if stale, ok := c.payouts.stale(asset); ok {
		c.logger.Warn("收益率查询失败，使用过期缓存", zap.String("asset", asset), zap.Error(err))
		return stale
	}

	c.logger.Warn("收益率查询失败，使用默认值",
		zap.String("asset", asset),
		zap.Float64("default", c.cfg.DefaultPayout),
		zap.Error(err),
	)
	return Payout{Binary: c.cfg.DefaultPayout, Digital: c.cfg.DefaultPayout}
}

// Buy 提交订单。紧急的一分钟数字期权同步下单，其余情况在限定时间内等待后台结果，超时视为失败。
func (c *Client) Buy(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Type == "" {
		req.Type = OrderTypeBinary
	}

	var (
		id  string
		err error
	)
	if c.inline(ctx, req) {
		err = c.once(ctx, "buy", func(ctx context.Context, conn Conn) error {
			var e error
			id, e = conn.Buy(ctx, req)
			return e
		})
	} else {
		id, err = c.buyWithTimeout(ctx, req)
	}
	if err != nil {
		return Order{}, err
	}
	if id == "" {
		return Order{}, wrap(KindFatal, "buy", ErrOrderRejected)
	}

	c.ordersMu.Lock()
	c.orderTypes[id] = req.Type
	c.ordersMu.Unlock()

	return Order{ID: id, Type: req.Type}, nil
}

func (c *Client) inline(ctx context.Context, req OrderRequest) bool {
	if req.Type != OrderTypeDigital || req.Expiration != 1 {
		return false
	}
	if req.Urgent {
		return true
	}
	return SecondOfMinute(c.ServerTime(ctx)) <= c.cfg.FastWindow
}

func (c *Client) buyWithTimeout(ctx context.Context, req OrderRequest) (string, error) {
	timeout := c.cfg.BinaryBuyTimeout
	if req.Type == OrderTypeDigital {
		timeout = c.cfg.DigitalBuyTimeout
	}

	buyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type buyResult struct {
		id  string
		err error
	}
	done := make(chan buyResult, 1)
	go func() {
		var id string
		err := c.once(buyCtx, "buy", func(ctx context.Context, conn Conn) error {
			var e error
			id, e = conn.Buy(ctx, req)
			return e
		})
		done <- buyResult{id: id, err: err}
	}()

	timedOut := func() error {
		c.logger.Warn("下单超时",
			zap.String("asset", req.Asset),
			zap.String("type", string(req.Type)),
			zap.Duration("timeout", timeout),
		)
		return wrap(KindTransient, "buy", fmt.Errorf("%w after %s", ErrBuyTimeout, timeout))
	}

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", timedOut()
		}
		return res.id, res.err
	case <-buyCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", timedOut()
	}
}

// CheckResult 查询订单结果，自动使用下单时实际生效的订单类型。
func (c *Client) CheckResult(ctx context.Context, orderID string) (bool, float64, error) {
	c.ordersMu.Lock()
	typ, ok := c.orderTypes[orderID]
	c.ordersMu.Unlock()
	if !ok {
		typ = OrderTypeBinary
	}

	var (
		done   bool
		profit float64
	)
	err := c.once(ctx, "check_result", func(ctx context.Context, conn Conn) error {
		var e error
		done, profit, e = conn.CheckResult(ctx, orderID, typ)
		return e
	})
	if err != nil {
		return false, 0, err
	}

	if done {
		c.ordersMu.Lock()
		delete(c.orderTypes, orderID)
		c.ordersMu.Unlock()
	}
	return done, profit, nil
}

// OrderType 返回已记录订单的实际类型。
func (c *Client) OrderType(orderID string) (OrderType, bool) {
	c.ordersMu.Lock()
	defer c.ordersMu.Unlock()
	typ, ok := c.orderTypes[orderID]
	return typ, ok
}

// Close 断开连接。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if err := c.conn.Disconnect(); err != nil {
		return fmt.Errorf("断开经纪商连接失败: %w", err)
	}
	return nil
}

// SecondOfMinute 返回时间点在当前分钟内的偏移。
func SecondOfMinute(ts time.Time) time.Duration {
	return time.Duration(ts.Second())*time.Second + time.Duration(ts.Nanosecond())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
