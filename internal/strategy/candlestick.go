package strategy

import (
	"math"

	"binary-trader/internal/broker"
)

// Pattern 为单根K线反转形态名称。
type Pattern string

const (
	PatternHammer         Pattern = "hammer"
	PatternInvertedHammer Pattern = "inverted_hammer"
	PatternShootingStar   Pattern = "shooting_star"
	PatternDoji           Pattern = "doji"
	PatternPinBar         Pattern = "pin_bar"
	PatternMarubozu       Pattern = "marubozu"
)

// DefaultPatterns 为未配置形态时的检测顺序。
var DefaultPatterns = []Pattern{PatternHammer, PatternShootingStar, PatternDoji, PatternPinBar}

// shape 为单根K线的几何度量。
type shape struct {
	body      float64
	upper     float64
	lower     float64
	span      float64
	bodyRatio float64
	bullish   bool
}

func measure(c broker.Candle) shape {
	s := shape{
		body:    math.Abs(c.Close - c.Open),
		upper:   c.High - math.Max(c.Open, c.Close),
		lower:   math.Min(c.Open, c.Close) - c.Low,
		span:    c.High - c.Low,
		bullish: c.Close > c.Open,
	}
	if s.span > 0 {
		s.bodyRatio = s.body / s.span
	}
	return s
}

// Candlestick 按配置顺序检测最新K线的形态，首个命中的形态决定方向。
type Candlestick struct {
	Patterns []Pattern
}

func (cs Candlestick) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	if len(candles) == 0 {
		return broker.DirectionNone
	}
	patterns := cs.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	last := candles[len(candles)-1]
	prior := candles[:len(candles)-1]
	s := measure(last)

	for _, p := range patterns {
		if d, ok := detect(p, s, prior); ok {
			return withTrend(d, trend)
		}
	}
	return broker.DirectionNone
}

// detect 判断单个形态；命中但方向无法确定时返回 (None, true)，使后续形态不再检测。
func detect(p Pattern, s shape, prior []broker.Candle) (broker.Direction, bool) {
	switch p {
	case PatternHammer:
		if s.body > 0 && s.lower >= 2*s.body && s.upper <= 0.5*s.body && s.upper <= 0.3*s.lower {
			return broker.DirectionCall, true
		}
	case PatternInvertedHammer:
		if s.body > 0 && s.upper >= 2*s.body && s.lower <= 0.5*s.body && s.lower <= 0.3*s.upper {
			return broker.DirectionCall, true
		}
	case PatternShootingStar:
		if s.upper >= 2*s.body && s.lower <= 0.3*s.body && s.bodyRatio <= 0.3 && s.span > 0 {
			return broker.DirectionPut, true
		}
	case PatternDoji:
		if s.span > 0 && s.bodyRatio <= 0.1 {
			switch priorTrend(prior, 3) {
			case Green:
				return broker.DirectionPut, true
			case Red:
				return broker.DirectionCall, true
			default:
				return broker.DirectionNone, true
			}
		}
	case PatternPinBar:
		if s.span > 0 && s.bodyRatio <= 0.4 {
			switch {
			case s.lower >= 2*s.body && s.upper <= 0.5*s.body:
				return broker.DirectionCall, true
			case s.upper >= 2*s.body && s.lower <= 0.5*s.body:
				return broker.DirectionPut, true
			}
		}
	case PatternMarubozu:
		if s.bodyRatio >= 0.8 && s.upper <= 0.1*s.body && s.lower <= 0.1*s.body {
			if s.bullish {
				return broker.DirectionCall, true
			}
			return broker.DirectionPut, true
		}
	}
	return broker.DirectionNone, false
}

// priorTrend 用前 n 根收盘价的首尾比较得到短期趋势，Green 表示上涨。
func priorTrend(prior []broker.Candle, n int) Color {
	recent, ok := tail(prior, n)
	if !ok {
		return Doji
	}
	first, last := recent[0].Close, recent[len(recent)-1].Close
	switch {
	case last > first:
		return Green
	case last < first:
		return Red
	default:
		return Doji
	}
}
