package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"binary-trader/internal/broker"
	"binary-trader/internal/config"
	"binary-trader/internal/gate"
)

// ErrUnknownStrategy 表示策略名称不在目录中。
var ErrUnknownStrategy = errors.New("unknown strategy")

// Params 为策略参数，缺失时使用默认值；显式给出的 0 也会被采用。
type Params map[string]float64

// countParams 是必须为正整数的周期类参数。
var countParams = []string{
	"rsi_period", "macd_fast", "macd_slow", "macd_signal",
	"ma_fast", "ma_slow", "ma_confirmation", "bb_period", "expiration",
}

func (p Params) float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func (p Params) integer(key string, def int) int {
	return int(p.float(key, float64(def)))
}

func (p Params) validate() error {
	for _, key := range countParams {
		if v, ok := p[key]; ok && v < 1 {
			return fmt.Errorf("parameter %s must be at least 1, got %v", key, v)
		}
	}
	return nil
}

// entry 描述目录中的一个策略：评估器、K线需求与触发节奏。
type entry struct {
	timeframe  int
	period     time.Duration
	offset     time.Duration
	expiration int
	precompute bool
	build      func(p Params, patterns []Pattern) (Evaluator, int)
}

var catalog = map[Kind]entry{
	KindMHI: {
		timeframe: broker.TimeframeM1, period: 5 * time.Minute, expiration: 1, precompute: true,
		build: func(Params, []Pattern) (Evaluator, int) { return MHI{Window: 3}, 3 },
	},
	KindMHIM5: {
		timeframe: broker.TimeframeM5, period: 30 * time.Minute, expiration: 5, precompute: true,
		build: func(Params, []Pattern) (Evaluator, int) { return MHI{Window: 3}, 3 },
	},
	KindTwinTowers: {
		timeframe: broker.TimeframeM1, period: 5 * time.Minute, offset: 4 * time.Minute, expiration: 1, precompute: true,
		build: func(Params, []Pattern) (Evaluator, int) { return TwinTowers{}, 4 },
	},
	KindRSI: {
		timeframe: broker.TimeframeM1, period: time.Minute, expiration: 1,
		build: func(p Params, _ []Pattern) (Evaluator, int) {
			r := RSI{
				Period:     p.integer("rsi_period", 14),
				Oversold:   p.float("rsi_oversold", 30),
				Overbought: p.float("rsi_overbought", 70),
			}
			return r, r.Period + 10
		},
	},
	KindMACD: {
		timeframe: broker.TimeframeM1, period: time.Minute, expiration: 1,
		build: func(p Params, _ []Pattern) (Evaluator, int) {
			m := MACD{
				Fast:         p.integer("macd_fast", 12),
				Slow:         p.integer("macd_slow", 26),
				Signal:       p.integer("macd_signal", 9),
				MinHistogram: p.float("macd_min_histogram", 0.00001),
			}
			return m, max(m.Slow+m.Signal+5, 50)
		},
	},
	KindMovingAverage: {
		timeframe: broker.TimeframeM1, period: time.Minute, expiration: 1,
		build: func(p Params, _ []Pattern) (Evaluator, int) {
			m := MovingAverage{
				Fast:         p.integer("ma_fast", 9),
				Slow:         p.integer("ma_slow", 21),
				Confirmation: p.integer("ma_confirmation", 2),
			}
			return m, m.Slow + m.Confirmation + 5
		},
	},
	KindBollinger: {
		timeframe: broker.TimeframeM1, period: time.Minute, expiration: 1,
		build: func(p Params, _ []Pattern) (Evaluator, int) {
			b := Bollinger{
				Period:    p.integer("bb_period", 20),
				Deviation: p.float("bb_deviation", 2),
				Threshold: p.float("bb_touch_threshold", 0.001),
			}
			return b, b.Period + 5
		},
	},
	KindEngulfing: {
		timeframe: broker.TimeframeM1, period: time.Minute, expiration: 1,
		build: func(p Params, _ []Pattern) (Evaluator, int) {
			return Engulfing{
				MinBody:  p.float("engulfing_min_body", 0.0001),
				MinRatio: p.float("engulfing_ratio", 1.2),
			}, 2
		},
	},
	KindCandlestick: {
		timeframe: broker.TimeframeM1, period: time.Minute, expiration: 1,
		build: func(_ Params, patterns []Pattern) (Evaluator, int) {
			return Candlestick{Patterns: patterns}, 4
		},
	},
}

// Kinds 返回目录中的全部策略类型。
func Kinds() []Kind {
	out := make([]Kind, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind 解析策略名称。
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := catalog[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return k, nil
}

// New 按类型与参数构建策略。window 与 lead 决定入场窗口宽度与预计算提前量。
func New(kind Kind, params Params, patterns []Pattern, window, lead time.Duration) (Strategy, error) {
	e, ok := catalog[kind]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
	if err := params.validate(); err != nil {
		return Strategy{}, err
	}
	if window <= 0 {
		window = 2 * time.Second
	}

	eval, candles := e.build(params, patterns)
	cadence := gate.Every(string(kind), e.period, e.offset, window)
	if e.precompute {
		cadence.Lead = lead
	}

	return Strategy{
		Kind:       kind,
		Evaluator:  eval,
		Cadence:    cadence,
		Timeframe:  e.timeframe,
		Candles:    candles,
		Expiration: params.integer("expiration", e.expiration),
	}, nil
}

// FromConfig 根据会话配置构建主策略，并组合趋势过滤与确认策略。
func FromConfig(cfg config.SessionConfig, engine config.EngineConfig) (Strategy, error) {
	kind, err := ParseKind(cfg.Strategy)
	if err != nil {
		return Strategy{}, err
	}
	patterns, err := parsePatterns(cfg.CandlestickPatterns)
	if err != nil {
		return Strategy{}, err
	}

	params := Params(cfg.Params)
	s, err := New(kind, params, patterns, engine.GateWindow, engine.PrecomputeLead)
	if err != nil {
		return Strategy{}, err
	}
	s.TrendPeriod = cfg.TrendPeriod

	filters, candles, err := buildFilters(kind, cfg, params, patterns)
	if err != nil {
		return Strategy{}, err
	}
	if len(filters) > 0 {
		threshold := cfg.FilterThreshold
		if threshold <= 0 {
			threshold = DefaultConfirmationThreshold
		}
		s.Evaluator = Confirmed{Primary: s.Evaluator, Filters: filters, Threshold: threshold}
		s.Candles = max(s.Candles, candles)
	}
	return s, nil
}

func buildFilters(primary Kind, cfg config.SessionConfig, params Params, patterns []Pattern) ([]Filter, int, error) {
	kinds := make([]Kind, 0, len(cfg.Filters))
	for _, name := range cfg.Filters {
		k, err := ParseKind(name)
		if err != nil {
			return nil, 0, fmt.Errorf("confirmation filter: %w", err)
		}
		if k == primary {
			continue
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, 0, nil
	}

	filters := make([]Filter, 0, len(kinds))
	need := 0
	for _, k := range kinds {
		eval, candles := catalog[k].build(params, patterns)
		weight, ok := cfg.FilterWeights[string(k)]
		if !ok {
			weight = 1 / float64(len(kinds))
		}
		filters = append(filters, Filter{Kind: k, Evaluator: eval, Weight: weight})
		need = max(need, candles)
	}
	return filters, need, nil
}

func parsePatterns(names []string) ([]Pattern, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := map[Pattern]struct{}{
		PatternHammer: {}, PatternInvertedHammer: {}, PatternShootingStar: {},
		PatternDoji: {}, PatternPinBar: {}, PatternMarubozu: {},
	}
	out := make([]Pattern, 0, len(names))
	for _, n := range names {
		p := Pattern(strings.ToLower(strings.TrimSpace(n)))
		if _, ok := known[p]; !ok {
			return nil, fmt.Errorf("unknown candlestick pattern %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}
