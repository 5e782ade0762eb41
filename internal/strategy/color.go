package strategy

import "binary-trader/internal/broker"

// Color 为K线颜色。
type Color int

const (
	Doji Color = iota
	Green
	Red
)

func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Red:
		return "red"
	default:
		return "doji"
	}
}

// ColorOf 按收盘价与开盘价比较得到颜色，相等即为十字星。
func ColorOf(c broker.Candle) Color {
	switch {
	case c.Close > c.Open:
		return Green
	case c.Close < c.Open:
		return Red
	default:
		return Doji
	}
}

// colors 返回K线颜色序列；出现十字星时返回 false。
func colors(candles []broker.Candle) ([]Color, bool) {
	out := make([]Color, len(candles))
	for i, c := range candles {
		out[i] = ColorOf(c)
		if out[i] == Doji {
			return nil, false
		}
	}
	return out, true
}
