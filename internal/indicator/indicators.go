package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// MACDResult 保存最近两根K线的 MACD 值。
type MACDResult struct {
	Value         float64
	Signal        float64
	Histogram     float64
	PrevValue     float64
	PrevSignal    float64
	PrevHistogram float64
}

// BollingerResult 保存最新布林带。
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// SMA 返回简单移动平均序列，前 period-1 个值无意义。
func SMA(values []float64, period int) []float64 {
	if period <= 1 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	if len(values) < period {
		return nil
	}
	return talib.Sma(values, period)
}

// LastSMA 返回最后 period 个值的均值。
func LastSMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	return Last(SMA(values, period)), true
}

// MACD 计算 MACD（EMA 以 SMA 作为种子），数据不足时返回 false。
func MACD(closes []float64, fast, slow, signal int) (MACDResult, bool) {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(closes) < slow+signal {
		return MACDResult{}, false
	}
	macd, sig, hist := talib.Macd(closes, fast, slow, signal)
	return MACDResult{
		Value:         Last(macd),
		Signal:        Last(sig),
		Histogram:     Last(hist),
		PrevValue:     Prev(macd),
		PrevSignal:    Prev(sig),
		PrevHistogram: Prev(hist),
	}, true
}

// Bollinger 计算基于 SMA 与总体标准差的布林带。
func Bollinger(closes []float64, period int, deviations float64) (BollingerResult, bool) {
	if period < 2 || len(closes) < period {
		return BollingerResult{}, false
	}
	upper, middle, lower := talib.BBands(closes, period, deviations, deviations, talib.SMA)
	return BollingerResult{
		Upper:  Last(upper),
		Middle: Last(middle),
		Lower:  Last(lower),
	}, true
}

// RSI 以最近 period 个涨跌幅的简单平均计算相对强弱指数。
// 没有下跌时返回 100。
func RSI(closes []float64, period int) (float64, bool) {
	if period < 2 || len(closes) < period+1 {
		return 0, false
	}

	window := Tail(closes, period+1)
	hasLoss := false
	for i := 1; i < len(window); i++ {
		if window[i] < window[i-1] {
			hasLoss = true
			break
		}
	}
	if !hasLoss {
		return 100, true
	}

	// 窗口恰为 period+1 个值时，talib 的首个输出即简单平均结果。
	value := Last(talib.Rsi(window, period))
	if math.IsNaN(value) {
		return 0, false
	}
	return value, true
}
