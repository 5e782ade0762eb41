package strategy

import (
	"math"

	"binary-trader/internal/broker"
	"binary-trader/internal/indicator"
)

// RSI 在超卖时做多、超买时做空。
type RSI struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func (r RSI) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	value, ok := indicator.RSI(indicator.Closes(candles), r.Period)
	if !ok {
		return broker.DirectionNone
	}
	var d broker.Direction
	switch {
	case value <= r.Oversold:
		d = broker.DirectionCall
	case value >= r.Overbought:
		d = broker.DirectionPut
	default:
		return broker.DirectionNone
	}
	return withTrend(d, trend)
}

// MACD 在 MACD 线与信号线交叉且柱体足够大时给出方向。
type MACD struct {
	Fast         int
	Slow         int
	Signal       int
	MinHistogram float64
}

func (m MACD) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	res, ok := indicator.MACD(indicator.Closes(candles), m.Fast, m.Slow, m.Signal)
	if !ok || math.IsNaN(res.PrevValue) || math.IsNaN(res.PrevSignal) {
		return broker.DirectionNone
	}
	if math.Abs(res.Histogram) < m.MinHistogram {
		return broker.DirectionNone
	}

	var d broker.Direction
	switch {
	case res.PrevValue <= res.PrevSignal && res.Value > res.Signal:
		d = broker.DirectionCall
	case res.PrevValue >= res.PrevSignal && res.Value < res.Signal:
		d = broker.DirectionPut
	default:
		return broker.DirectionNone
	}
	return withTrend(d, trend)
}

// MovingAverage 检测快慢 SMA 的金叉（call）与死叉（put）。
type MovingAverage struct {
	Fast         int
	Slow         int
	Confirmation int
}

func (m MovingAverage) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	closes := indicator.Closes(candles)
	if m.Fast <= 0 || m.Slow <= m.Fast || len(closes) < m.Slow+m.Confirmation || len(closes) < m.Slow+1 {
		return broker.DirectionNone
	}

	fast, _ := indicator.LastSMA(closes, m.Fast)
	slow, _ := indicator.LastSMA(closes, m.Slow)
	prev := closes[:len(closes)-1]
	prevFast, _ := indicator.LastSMA(prev, m.Fast)
	prevSlow, _ := indicator.LastSMA(prev, m.Slow)

	var d broker.Direction
	switch {
	case prevFast <= prevSlow && fast > slow:
		d = broker.DirectionCall
	case prevFast >= prevSlow && fast < slow:
		d = broker.DirectionPut
	default:
		return broker.DirectionNone
	}
	return withTrend(d, trend)
}

// Bollinger 在最新K线触及下轨时做多、触及上轨时做空，下轨优先。
type Bollinger struct {
	Period    int
	Deviation float64
	Threshold float64
}

func (b Bollinger) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	bands, ok := indicator.Bollinger(indicator.Closes(candles), b.Period, b.Deviation)
	if !ok || bands.Upper <= 0 || bands.Lower <= 0 {
		return broker.DirectionNone
	}
	last := candles[len(candles)-1]

	var d broker.Direction
	switch {
	case math.Abs(last.Low-bands.Lower)/bands.Lower <= b.Threshold:
		d = broker.DirectionCall
	case math.Abs(last.High-bands.Upper)/bands.Upper <= b.Threshold:
		d = broker.DirectionPut
	default:
		return broker.DirectionNone
	}
	return withTrend(d, trend)
}

// Engulfing 识别最近两根K线的吞没形态。
type Engulfing struct {
	MinBody  float64
	MinRatio float64
}

func (e Engulfing) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	pair, ok := tail(candles, 2)
	if !ok {
		return broker.DirectionNone
	}
	c1, c2 := pair[0], pair[1]
	body1 := math.Abs(c1.Close - c1.Open)
	body2 := math.Abs(c2.Close - c2.Open)
	if body1 < e.MinBody || body2 < e.MinBody || body2/body1 < e.MinRatio {
		return broker.DirectionNone
	}

	col1, col2 := ColorOf(c1), ColorOf(c2)
	var d broker.Direction
	switch {
	case col1 == Red && col2 == Green && c2.Open < c1.Close && c2.Close > c1.Open:
		d = broker.DirectionCall
	case col1 == Green && col2 == Red && c2.Open > c1.Close && c2.Close < c1.Open:
		d = broker.DirectionPut
	default:
		return broker.DirectionNone
	}
	return withTrend(d, trend)
}
