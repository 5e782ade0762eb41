package strategy

import "binary-trader/internal/broker"

// MHI 统计最近 Window 根K线的颜色，多数为阳线时做空（put），多数为阴线时做多（call）。
type MHI struct {
	Window int
}

func (m MHI) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	window := m.Window
	if window <= 0 {
		window = 3
	}
	recent, ok := tail(candles, window)
	if !ok {
		return broker.DirectionNone
	}
	cs, ok := colors(recent)
	if !ok {
		return broker.DirectionNone
	}

	greens := 0
	for _, c := range cs {
		if c == Green {
			greens++
		}
	}
	reds := len(cs) - greens

	var d broker.Direction
	switch {
	case greens > reds:
		d = broker.DirectionPut
	case reds > greens:
		d = broker.DirectionCall
	default:
		return broker.DirectionNone
	}
	return withTrend(d, trend)
}

// TwinTowers 取倒数第四根K线的颜色，预期其重复：阳线 call，阴线 put。
type TwinTowers struct{}

func (TwinTowers) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	if len(candles) < 4 {
		return broker.DirectionNone
	}
	var d broker.Direction
	switch ColorOf(candles[len(candles)-4]) {
	case Green:
		d = broker.DirectionCall
	case Red:
		d = broker.DirectionPut
	default:
		return broker.DirectionNone
	}
	return withTrend(d, trend)
}
