package strategy

import "binary-trader/internal/broker"

// DefaultConfirmationThreshold 为确认得分的默认阈值。
const DefaultConfirmationThreshold = 0.6

// Filter 为带权重的确认策略。
type Filter struct {
	Kind      Kind
	Evaluator Evaluator
	Weight    float64
}

// Confirmed 用确认策略对主策略信号打分：一致 +1，无信号 0，冲突 -0.5，
// 按权重归一后低于阈值则丢弃信号。
type Confirmed struct {
	Primary   Evaluator
	Filters   []Filter
	Threshold float64
}

func (c Confirmed) Evaluate(candles []broker.Candle, trend *broker.Direction) broker.Direction {
	d := c.Primary.Evaluate(candles, trend)
	if d == broker.DirectionNone || len(c.Filters) == 0 {
		return d
	}
	if c.Score(candles, d) >= c.Threshold {
		return d
	}
	return broker.DirectionNone
}

// Score 返回 [0,1] 区间的确认得分。
func (c Confirmed) Score(candles []broker.Candle, d broker.Direction) float64 {
	var total, weights float64
	for _, f := range c.Filters {
		if f.Weight <= 0 {
			continue
		}
		weights += f.Weight
		switch f.Evaluator.Evaluate(candles, nil) {
		case d:
			total += f.Weight
		case broker.DirectionNone:
		default:
			total -= 0.5 * f.Weight
		}
	}
	if weights == 0 {
		return 1
	}
	score := total / weights
	if score < 0 {
		return 0
	}
	return score
}
