package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"binary-trader/internal/broker"
	"binary-trader/internal/metrics"
)

// 事件主题。
const (
	TopicOperationOpened = "operation.opened"
	TopicOperationClosed = "operation.closed"
	TopicSeriesCompleted = "series.completed"
)

// ErrHalted 表示会话请求停止，序列不再继续。
var ErrHalted = errors.New("session halted")

// Gateway 为执行器依赖的经纪商能力。
type Gateway interface {
	ServerTime(ctx context.Context) time.Time
	Payout(ctx context.Context, asset string) broker.Payout
	Buy(ctx context.Context, req broker.OrderRequest) (broker.Order, error)
	CheckResult(ctx context.Context, orderID string) (bool, float64, error)
}

// Recorder 持久化操作记录。
type Recorder interface {
	CreateOperation(ctx context.Context, op Operation) error
	FinishOperation(ctx context.Context, op Operation) error
}

// Publisher 推送事件，实现不得阻塞调用方。
type Publisher interface {
	Publish(topic string, payload any)
}

// Options 控制结果轮询与订单类型选择。
type Options struct {
	ResultPollInterval time.Duration
	ResultWaitMax      time.Duration
	FastWindow         time.Duration
}

// Executor 按马丁/复利规则执行一个完整序列。
type Executor struct {
	gateway   Gateway
	recorder  Recorder
	publisher Publisher
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewExecutor 创建执行器；recorder 与 publisher 可为空。
func NewExecutor(gateway Gateway, recorder Recorder, publisher Publisher, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if opts.ResultPollInterval <= 0 {
		opts.ResultPollInterval = time.Second
	}
	if opts.ResultWaitMax <= 0 {
		opts.ResultWaitMax = 5 * time.Minute
	}
	return &Executor{
		gateway:   gateway,
		recorder:  recorder,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Execute 执行首单及后续马丁尝试，返回序列结果与更新后的复利状态。
// WIN 与 DRAW 结束序列，LOSS 在仍有层级时以 round(stake*factor, 2) 加注重试。
// 下单失败、停止或取消会中止序列，已完成的尝试仍计入净盈亏。
func (e *Executor) Execute(ctx context.Context, req Request, settings Settings, soros SorosState) SeriesOutcome {
	out := SeriesOutcome{Final: ResultPending, Soros: soros}

	levels := 0
	if settings.MartingaleEnabled && settings.MartingaleFactor > 0 {
		levels = settings.MartingaleLevels
	}
	stake := settings.EntryValue
	if settings.SorosEnabled {
		stake = soros.Stake(stake)
	}

	for level := 0; level <= levels; level++ {
		if err := e.halted(ctx, req, out.Net); err != nil {
			out.Aborted, out.Err = true, err
			break
		}
		if level > 0 {
			stake = round2(stake * settings.MartingaleFactor)
		}

		op, err := e.attempt(ctx, req, level, stake)
		if op.Result != "" && op.Result != ResultPending {
			out.Operations = append(out.Operations, op)
			out.Net += op.Profit
			out.Final = op.Result
		}
		if err != nil {
			out.Aborted, out.Err = true, err
			break
		}
		if op.Result != ResultLoss {
			break
		}
	}
	out.Net = round2(out.Net)

	if settings.SorosEnabled && len(out.Operations) > 0 {
		out.Soros = soros.Apply(out.Net, settings.SorosLevels)
	}

	e.finishSeries(req, out)
	return out
}

func (e *Executor) halted(ctx context.Context, req Request, net float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if stopRequested(req.Stop) {
		return ErrHalted
	}
	if req.Halted != nil && req.Halted(round2(net)) {
		return ErrHalted
	}
	return nil
}

func stopRequested(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// attempt 下单并等待结果。下单失败时返回零值 Operation。
func (e *Executor) attempt(ctx context.Context, req Request, level int, stake float64) (Operation, error) {
	payout := e.gateway.Payout(ctx, req.Asset)
	typ := SelectOrderType(req.Preference, payout, broker.SecondOfMinute(e.gateway.ServerTime(ctx)), e.opts.FastWindow)

	order := broker.OrderRequest{
		Asset:      req.Asset,
		Stake:      stake,
		Direction:  req.Direction,
		Expiration: req.Expiration,
		Type:       typ,
		Urgent:     level > 0 && req.Expiration == 1,
	}

	placed, err := e.gateway.Buy(ctx, order)
	if err != nil && order.Type == broker.OrderTypeBinary && ctx.Err() == nil {
		e.logger.Warn("二元期权下单失败，改用数字期权",
			zap.String("asset", req.Asset),
			zap.Int("gale", level),
			zap.Error(err),
		)
		metrics.Fallbacks.WithLabelValues("binary_to_digital").Inc()
		order.Type = broker.OrderTypeDigital
		placed, err = e.gateway.Buy(ctx, order)
	}
	if err != nil {
		e.logger.Error("下单失败，中止序列",
			zap.String("asset", req.Asset),
			zap.Int("gale", level),
			zap.Float64("stake", stake),
			zap.Error(err),
		)
		return Operation{}, fmt.Errorf("下单失败: %w", err)
	}
	if placed.Type == "" {
		placed.Type = order.Type
	}

	op := Operation{
		ID:         e.newID(),
		SessionID:  req.SessionID,
		OrderID:    placed.ID,
		Asset:      req.Asset,
		Direction:  req.Direction,
		Type:       placed.Type,
		Stake:      stake,
		Expiration: req.Expiration,
		GaleLevel:  level,
		Result:     ResultPending,
		OpenedAt:   e.now().UTC(),
	}
	if err := e.recorder.CreateOperation(ctx, op); err != nil {
		e.logger.Warn("保存操作记录失败", zap.String("operation_id", op.ID), zap.Error(err))
	}
	e.publisher.Publish(TopicOperationOpened, op)
	e.logger.Info("订单已提交",
		zap.String("operation_id", op.ID),
		zap.String("order_id", op.OrderID),
		zap.String("kind", op.Kind()),
		zap.String("direction", string(op.Direction)),
		zap.String("type", string(op.Type)),
		zap.Float64("stake", stake),
	)

	waitErr := e.await(ctx, req.Stop, &op)
	if op.Result == ResultPending {
		// 等待被停止或取消打断：订单仍在经纪商侧，记录保持 PENDING。
		metrics.Operations.WithLabelValues("unsettled", op.Kind()).Inc()
		e.logger.Warn("结果等待被中断，订单保持未结算",
			zap.String("operation_id", op.ID),
			zap.String("order_id", op.OrderID),
			zap.String("kind", op.Kind()),
			zap.Float64("stake", op.Stake),
			zap.Error(waitErr),
		)
		return op, waitErr
	}
	op.ClosedAt = e.now().UTC()

	persistCtx := context.WithoutCancel(ctx)
	if err := e.recorder.FinishOperation(persistCtx, op); err != nil {
		e.logger.Warn("更新操作记录失败", zap.String("operation_id", op.ID), zap.Error(err))
	}
	e.publisher.Publish(TopicOperationClosed, op)
	e.logOperation(op)

	label := strings.ToLower(string(op.Result))
	if op.Timeout {
		label = "timeout"
	}
	metrics.Operations.WithLabelValues(label, op.Kind()).Inc()

	return op, waitErr
}

// await 轮询订单结果直到完成或超过等待上限；超时按全额亏损记为 LOSS 并标记 Timeout。
// 停止请求或取消会立即中断等待，此时 op 保持 PENDING。
func (e *Executor) await(ctx context.Context, stop <-chan struct{}, op *Operation) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stop != nil {
		go func() {
			select {
			case <-stop:
				cancel()
			case <-waitCtx.Done():
			}
		}()
	}

	deadline := time.Now().Add(e.opts.ResultWaitMax)
	for {
		done, profit, err := e.gateway.CheckResult(waitCtx, op.OrderID)
		if err == nil && done {
			op.Profit = round2(profit)
			op.Result = classify(op.Profit)
			return nil
		}
		if waitCtx.Err() != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrHalted
		}
		if err != nil {
			e.logger.Debug("查询订单结果失败", zap.String("order_id", op.OrderID), zap.Error(err))
		}
		if !time.Now().Before(deadline) {
			op.Result = ResultLoss
			op.Profit = -op.Stake
			op.Timeout = true
			return nil
		}

		timer := time.NewTimer(e.opts.ResultPollInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func classify(profit float64) Result {
	switch {
	case profit > 0:
		return ResultWin
	case profit < 0:
		return ResultLoss
	default:
		return ResultDraw
	}
}

func (e *Executor) logOperation(op Operation) {
	fields := []zap.Field{
		zap.String("operation_id", op.ID),
		zap.String("order_id", op.OrderID),
		zap.String("kind", op.Kind()),
		zap.String("result", string(op.Result)),
		zap.Float64("stake", op.Stake),
		zap.Float64("profit", op.Profit),
	}
	if op.Timeout {
		e.logger.Warn("订单结果等待超时，按亏损处理", append(fields, zap.Bool("timeout", true))...)
		return
	}
	e.logger.Info("订单已结算", fields...)
}

func (e *Executor) finishSeries(req Request, out SeriesOutcome) {
	outcome := strings.ToLower(string(out.Final))
	if out.Aborted {
		outcome = "aborted"
	}
	metrics.Series.WithLabelValues(outcome).Inc()

	e.publisher.Publish(TopicSeriesCompleted, out)
	e.logger.Info("序列结束",
		zap.String("session_id", req.SessionID),
		zap.String("asset", req.Asset),
		zap.Int("attempts", len(out.Operations)),
		zap.String("final", string(out.Final)),
		zap.Float64("net", out.Net),
		zap.Bool("aborted", out.Aborted),
		zap.Int("soros_level", out.Soros.Level),
		zap.Float64("soros_value", out.Soros.Value),
		zap.Error(out.Err),
	)
}

type nopRecorder struct{}

func (nopRecorder) CreateOperation(context.Context, Operation) error { return nil }
func (nopRecorder) FinishOperation(context.Context, Operation) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

var (
	_ Gateway   = (*broker.Client)(nil)
	_ Recorder  = nopRecorder{}
	_ Publisher = nopPublisher{}
)
