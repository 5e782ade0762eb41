package strategy

import (
	"math"

	"binary-trader/internal/broker"
	"binary-trader/internal/gate"
	"binary-trader/internal/indicator"
)

// Kind 标识策略类型。
type Kind string

const (
	KindMHI           Kind = "mhi"
	KindMHIM5         Kind = "mhi_m5"
	KindTwinTowers    Kind = "twin_towers"
	KindRSI           Kind = "rsi"
	KindMACD          Kind = "macd"
	KindMovingAverage Kind = "moving_average"
	KindBollinger     Kind = "bollinger"
	KindEngulfing     Kind = "engulfing"
	KindCandlestick   Kind = "candlestick"
)

// Evaluator 根据最近的已收盘K线给出方向，DirectionNone 表示本轮不入场。
// trend 非空时信号必须与趋势一致。实现必须是纯函数。
type Evaluator interface {
	Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction
}

// EvaluatorFunc 适配普通函数。
type EvaluatorFunc func(candles []broker.Candle, trend *broker.Direction) broker.Direction

func (f EvaluatorFunc) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	return f(candles, trend)
}

// Strategy 为会话启动时解析一次的策略描述。
type Strategy struct {
	Kind       Kind
	Evaluator  Evaluator
	Cadence    gate.Cadence
	Timeframe  int // 秒
	Candles    int
	Expiration int // 分钟
	// TrendPeriod 大于0时启用趋势过滤。
	TrendPeriod int
}

// CandleCount 返回一次评估需要拉取的K线数量。
func (s Strategy) CandleCount() int {
	if s.TrendPeriod > s.Candles {
		return s.TrendPeriod
	}
	return s.Candles
}

// Signal 计算信号；启用趋势过滤时先独立计算趋势。
func (s Strategy) Signal(candles []broker.Candle) broker.Direction {
	if s.Evaluator == nil {
		return broker.DirectionNone
	}
	if s.TrendPeriod <= 0 {
		return s.Evaluator.Evaluate(candles, nil)
	}
	trend := Trend(candles, s.TrendPeriod)
	return s.Evaluator.Evaluate(candles, &trend)
}

// Trend 以最近 period 根收盘价的 SMA 判断趋势：均线高于最新收盘为 put，否则为 call。
func Trend(candles []broker.Candle, period int) broker.Direction {
	closes := indicator.Closes(candles)
	sma, ok := indicator.LastSMA(closes, period)
	if !ok || math.IsNaN(sma) {
		return broker.DirectionNone
	}
	if sma > indicator.Last(closes) {
		return broker.DirectionPut
	}
	return broker.DirectionCall
}

// withTrend 应用趋势过滤：方向与趋势不一致时丢弃信号。
func withTrend(d broker.Direction, trend *broker.Direction) broker.Direction {
	if d == broker.DirectionNone || trend == nil {
		return d
	}
	if *trend != d {
		return broker.DirectionNone
	}
	return d
}

func tail(candles []broker.Candle, n int) ([]broker.Candle, bool) {
	if n <= 0 || len(candles) < n {
		return nil, false
	}
	return candles[len(candles)-n:], true
}
