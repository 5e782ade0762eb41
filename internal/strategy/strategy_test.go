package strategy

import (
	"errors"
	"testing"
	"time"

	"binary-trader/internal/broker"
	"binary-trader/internal/config"
	"binary-trader/internal/indicator"
)

var base = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func candle(i int, open, high, low, close float64) broker.Candle {
	return broker.Candle{
		Timestamp: base.Add(time.Duration(i) * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
	}
}

func colored(cs ...Color) []broker.Candle {
	out := make([]broker.Candle, len(cs))
	for i, c := range cs {
		switch c {
		case Green:
			out[i] = candle(i, 1.1000, 1.1015, 1.0995, 1.1010)
		case Red:
			out[i] = candle(i, 1.1010, 1.1015, 1.0995, 1.1000)
		default:
			out[i] = candle(i, 1.1005, 1.1015, 1.0995, 1.1005)
		}
	}
	return out
}

func fromCloses(closes []float64) []broker.Candle {
	out := make([]broker.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		high, low := max(prev, c), min(prev, c)
		out[i] = candle(i, prev, high+0.01, low-0.01, c)
		prev = c
	}
	return out
}

func dir(d broker.Direction) *broker.Direction { return &d }

func TestMHI_Majority(t *testing.T) {
	cases := []struct {
		name string
		in   []Color
		want broker.Direction
	}{
		{"two green one red", []Color{Green, Green, Red}, broker.DirectionPut},
		{"all green", []Color{Green, Green, Green}, broker.DirectionPut},
		{"two red one green", []Color{Red, Green, Red}, broker.DirectionCall},
		{"all red", []Color{Red, Red, Red}, broker.DirectionCall},
		{"doji aborts", []Color{Green, Doji, Green}, broker.DirectionNone},
		{"only last three count", []Color{Doji, Red, Red, Green}, broker.DirectionCall},
		{"too few candles", []Color{Green, Green}, broker.DirectionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := (MHI{Window: 3}).Evaluate(colored(tc.in...), nil); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMHI_AllTriples(t *testing.T) {
	all := []Color{Green, Red, Doji}
	for _, a := range all {
		for _, b := range all {
			for _, c := range all {
				got := (MHI{Window: 3}).Evaluate(colored(a, b, c), nil)

				greens, reds, dojis := 0, 0, 0
				for _, x := range []Color{a, b, c} {
					switch x {
					case Green:
						greens++
					case Red:
						reds++
					default:
						dojis++
					}
				}
				want := broker.DirectionCall
				switch {
				case dojis > 0:
					want = broker.DirectionNone
				case greens > reds:
					want = broker.DirectionPut
				}
				if got != want {
					t.Errorf("%s/%s/%s: expected %q, got %q", a, b, c, want, got)
				}
			}
		}
	}
}

func TestTrendFilterDiscardsDisagreement(t *testing.T) {
	in := colored(Green, Green, Red)
	if got := (MHI{}).Evaluate(in, dir(broker.DirectionCall)); got != broker.DirectionNone {
		t.Fatalf("expected signal discarded by trend, got %q", got)
	}
	if got := (MHI{}).Evaluate(in, dir(broker.DirectionPut)); got != broker.DirectionPut {
		t.Fatalf("expected put with agreeing trend, got %q", got)
	}
	if got := (MHI{}).Evaluate(in, dir(broker.DirectionNone)); got != broker.DirectionNone {
		t.Fatalf("expected no signal when trend is unknown, got %q", got)
	}
}

func TestTrend(t *testing.T) {
	rising := fromCloses([]float64{1, 2, 3, 4, 5})
	if got := Trend(rising, 5); got != broker.DirectionCall {
		t.Errorf("rising series: expected call, got %q", got)
	}
	falling := fromCloses([]float64{5, 4, 3, 2, 1})
	if got := Trend(falling, 5); got != broker.DirectionPut {
		t.Errorf("falling series: expected put, got %q", got)
	}
	if got := Trend(falling, 10); got != broker.DirectionNone {
		t.Errorf("short series: expected none, got %q", got)
	}
}

func TestTwinTowers(t *testing.T) {
	if got := (TwinTowers{}).Evaluate(colored(Green, Red, Red, Red), nil); got != broker.DirectionCall {
		t.Errorf("expected call, got %q", got)
	}
	if got := (TwinTowers{}).Evaluate(colored(Red, Green, Green, Green), nil); got != broker.DirectionPut {
		t.Errorf("expected put, got %q", got)
	}
	if got := (TwinTowers{}).Evaluate(colored(Doji, Green, Green, Green), nil); got != broker.DirectionNone {
		t.Errorf("expected none for doji, got %q", got)
	}
}

// rsi25 构造最新 RSI 为 25 的收盘价：4 次上涨 0.75，10 次下跌 0.9。
func rsi25() []float64 {
	closes := []float64{100, 101, 102, 101.5}
	price := closes[len(closes)-1]
	for i := 0; i < 14; i++ {
		if i < 4 {
			price += 0.75
		} else {
			price -= 0.9
		}
		closes = append(closes, price)
	}
	return closes
}

func TestRSI_OversoldCall(t *testing.T) {
	candles := fromCloses(rsi25())
	r := RSI{Period: 14, Oversold: 30, Overbought: 70}
	if got := r.Evaluate(candles, nil); got != broker.DirectionCall {
		t.Fatalf("expected call at RSI 25, got %q", got)
	}
}

func TestRSI_OverboughtPut(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	r := RSI{Period: 14, Oversold: 30, Overbought: 70}
	if got := r.Evaluate(fromCloses(closes), nil); got != broker.DirectionPut {
		t.Fatalf("expected put at RSI 100, got %q", got)
	}
	if got := r.Evaluate(fromCloses(closes[:10]), nil); got != broker.DirectionNone {
		t.Fatalf("expected none with insufficient candles, got %q", got)
	}
}

func TestMACD_Crossover(t *testing.T) {
	m := MACD{Fast: 12, Slow: 26, Signal: 9, MinHistogram: 0.00001}

	down := make([]float64, 60)
	for i := range down {
		down[i] = 100 - 0.002*float64(i*i)
	}
	down = append(down, down[len(down)-1]+10)
	if got := m.Evaluate(fromCloses(down), nil); got != broker.DirectionCall {
		t.Errorf("expected call on bullish crossover, got %q", got)
	}

	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 + 0.002*float64(i*i)
	}
	up = append(up, up[len(up)-1]-10)
	if got := m.Evaluate(fromCloses(up), nil); got != broker.DirectionPut {
		t.Errorf("expected put on bearish crossover, got %q", got)
	}
}

func TestMovingAverage_Crossover(t *testing.T) {
	m := MovingAverage{Fast: 9, Slow: 21, Confirmation: 2}

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 - 0.1*float64(i)
	}
	golden := append(append([]float64{}, closes...), closes[len(closes)-1]+20)
	if got := m.Evaluate(fromCloses(golden), nil); got != broker.DirectionCall {
		t.Errorf("expected golden cross call, got %q", got)
	}
	if got := m.Evaluate(fromCloses(closes), nil); got != broker.DirectionNone {
		t.Errorf("expected none without a cross, got %q", got)
	}

	for i := range closes {
		closes[i] = 100 + 0.1*float64(i)
	}
	death := append(append([]float64{}, closes...), closes[len(closes)-1]-20)
	if got := m.Evaluate(fromCloses(death), nil); got != broker.DirectionPut {
		t.Errorf("expected death cross put, got %q", got)
	}
}

func TestBollinger_Touch(t *testing.T) {
	b := Bollinger{Period: 20, Deviation: 2, Threshold: 0.001}

	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 101
		}
	}
	bands, ok := indicator.Bollinger(closes, 20, 2)
	if !ok {
		t.Fatalf("expected bands")
	}

	candles := fromCloses(closes)
	last := &candles[len(candles)-1]

	last.High, last.Low = bands.Middle+0.1, bands.Lower
	if got := b.Evaluate(candles, nil); got != broker.DirectionCall {
		t.Errorf("expected call on lower band touch, got %q", got)
	}

	last.High, last.Low = bands.Upper, bands.Middle-0.1
	if got := b.Evaluate(candles, nil); got != broker.DirectionPut {
		t.Errorf("expected put on upper band touch, got %q", got)
	}

	last.High, last.Low = bands.Middle+0.1, bands.Middle-0.1
	if got := b.Evaluate(candles, nil); got != broker.DirectionNone {
		t.Errorf("expected none inside the bands, got %q", got)
	}
}

func TestEngulfing(t *testing.T) {
	e := Engulfing{MinBody: 0.0001, MinRatio: 1.2}

	bullish := []broker.Candle{
		candle(0, 1.1010, 1.1012, 1.0998, 1.1000),
		candle(1, 1.0995, 1.1022, 1.0993, 1.1020),
	}
	if got := e.Evaluate(bullish, nil); got != broker.DirectionCall {
		t.Errorf("expected call on bullish engulfing, got %q", got)
	}

	bearish := []broker.Candle{
		candle(0, 1.1000, 1.1012, 1.0998, 1.1010),
		candle(1, 1.1015, 1.1017, 1.0988, 1.0990),
	}
	if got := e.Evaluate(bearish, nil); got != broker.DirectionPut {
		t.Errorf("expected put on bearish engulfing, got %q", got)
	}

	weak := []broker.Candle{
		candle(0, 1.1010, 1.1012, 1.0998, 1.1000),
		candle(1, 1.0999, 1.1012, 1.0998, 1.1010),
	}
	if got := e.Evaluate(weak, nil); got != broker.DirectionNone {
		t.Errorf("expected none when body ratio is too small, got %q", got)
	}
}

func TestCandlestickPatterns(t *testing.T) {
	rising := []broker.Candle{
		candle(0, 1.0985, 1.0992, 1.0984, 1.0990),
		candle(1, 1.0990, 1.0997, 1.0989, 1.0995),
		candle(2, 1.0995, 1.1002, 1.0994, 1.1000),
	}
	falling := []broker.Candle{
		candle(0, 1.1015, 1.1016, 1.1008, 1.1010),
		candle(1, 1.1010, 1.1011, 1.1003, 1.1005),
		candle(2, 1.1005, 1.1006, 1.0998, 1.1000),
	}
	with := func(prior []broker.Candle, last broker.Candle) []broker.Candle {
		return append(append([]broker.Candle{}, prior...), last)
	}

	cases := []struct {
		name     string
		patterns []Pattern
		candles  []broker.Candle
		want     broker.Direction
	}{
		{"hammer", nil, with(rising, candle(3, 1.1000, 1.1012, 1.0970, 1.1010)), broker.DirectionCall},
		{"shooting star", nil, with(rising, candle(3, 1.1010, 1.1040, 1.0999, 1.1000)), broker.DirectionPut},
		{"doji after rise", nil, with(rising, candle(3, 1.1000, 1.1005, 1.0995, 1.1000)), broker.DirectionPut},
		{"doji after fall", nil, with(falling, candle(3, 1.1000, 1.1005, 1.0995, 1.1000)), broker.DirectionCall},
		{"marubozu when configured", []Pattern{PatternMarubozu}, with(rising, candle(3, 1.1000, 1.1021, 1.0999, 1.1020)), broker.DirectionCall},
		{"marubozu not in default set", nil, with(rising, candle(3, 1.1000, 1.1021, 1.0999, 1.1020)), broker.DirectionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := (Candlestick{Patterns: tc.patterns}).Evaluate(tc.candles, nil)
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestConfirmedScore(t *testing.T) {
	fixed := func(d broker.Direction) Evaluator {
		return EvaluatorFunc(func([]broker.Candle, *broker.Direction) broker.Direction { return d })
	}
	third := 1.0 / 3

	cases := []struct {
		name    string
		filters []broker.Direction
		want    broker.Direction
	}{
		{"all agree", []broker.Direction{broker.DirectionCall, broker.DirectionCall, broker.DirectionCall}, broker.DirectionCall},
		{"two agree one silent", []broker.Direction{broker.DirectionCall, broker.DirectionCall, broker.DirectionNone}, broker.DirectionCall},
		{"one agree one silent one conflict", []broker.Direction{broker.DirectionCall, broker.DirectionNone, broker.DirectionPut}, broker.DirectionNone},
		{"all conflict", []broker.Direction{broker.DirectionPut, broker.DirectionPut, broker.DirectionPut}, broker.DirectionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Confirmed{Primary: fixed(broker.DirectionCall), Threshold: DefaultConfirmationThreshold}
			for _, d := range tc.filters {
				c.Filters = append(c.Filters, Filter{Evaluator: fixed(d), Weight: third})
			}
			if got := c.Evaluate(nil, nil); got != tc.want {
				t.Fatalf("expected %q, got %q (score %.3f)", tc.want, got, c.Score(nil, broker.DirectionCall))
			}
		})
	}

	c := Confirmed{Primary: fixed(broker.DirectionCall), Filters: []Filter{{Evaluator: fixed(broker.DirectionPut), Weight: 1}}}
	if s := c.Score(nil, broker.DirectionCall); s != 0 {
		t.Fatalf("expected score clamped at 0, got %v", s)
	}
}

func TestParams_ExplicitZero(t *testing.T) {
	s, err := New(KindRSI, Params{"rsi_oversold": 0}, nil, 2*time.Second, 0)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	r, ok := s.Evaluator.(RSI)
	if !ok {
		t.Fatalf("expected RSI evaluator, got %T", s.Evaluator)
	}
	if r.Oversold != 0 || r.Overbought != 70 || r.Period != 14 {
		t.Fatalf("expected explicit zero oversold with defaults elsewhere, got %+v", r)
	}

	if _, err := New(KindRSI, Params{"rsi_period": 0}, nil, 2*time.Second, 0); err == nil {
		t.Fatalf("expected error for zero rsi period")
	}
	if _, err := New(KindMHI, Params{"expiration": 0}, nil, 2*time.Second, 0); err == nil {
		t.Fatalf("expected error for zero expiration")
	}
}

func TestFromConfig(t *testing.T) {
	engine := config.EngineConfig{GateWindow: 2 * time.Second, PrecomputeLead: 2 * time.Second}

	s, err := FromConfig(config.SessionConfig{Strategy: "RSI", Params: map[string]float64{"rsi_period": 7}}, engine)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	if s.Kind != KindRSI || s.Candles != 17 || s.Cadence.Period != time.Minute || s.Cadence.Lead != 0 {
		t.Errorf("unexpected rsi strategy: %+v", s)
	}

	s, err = FromConfig(config.SessionConfig{Strategy: "twin_towers"}, engine)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	if s.Cadence.Offset != 4*time.Minute || s.Cadence.Lead != 2*time.Second || s.Expiration != 1 {
		t.Errorf("unexpected twin towers cadence: %+v", s.Cadence)
	}

	s, err = FromConfig(config.SessionConfig{Strategy: "mhi_m5", TrendPeriod: 20}, engine)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	if s.Timeframe != broker.TimeframeM5 || s.Expiration != 5 || s.Cadence.Period != 30*time.Minute || s.CandleCount() != 20 {
		t.Errorf("unexpected mhi m5 strategy: %+v", s)
	}

	s, err = FromConfig(config.SessionConfig{Strategy: "mhi", Filters: []string{"mhi", "macd"}}, engine)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	confirmed, ok := s.Evaluator.(Confirmed)
	if !ok {
		t.Fatalf("expected confirmed evaluator, got %T", s.Evaluator)
	}
	if len(confirmed.Filters) != 1 || confirmed.Filters[0].Kind != KindMACD || confirmed.Threshold != DefaultConfirmationThreshold {
		t.Errorf("unexpected filters: %+v", confirmed)
	}
	if s.Candles != 50 {
		t.Errorf("expected candle count raised to 50 for macd filter, got %d", s.Candles)
	}

	if _, err := FromConfig(config.SessionConfig{Strategy: "martians"}, engine); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
	if _, err := FromConfig(config.SessionConfig{Strategy: "candlestick", CandlestickPatterns: []string{"tweezer"}}, engine); err == nil {
		t.Errorf("expected error for unknown pattern")
	}
}
