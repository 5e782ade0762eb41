package risk

import "testing"

func TestLimitsEvaluate(t *testing.T) {
	cases := []struct {
		name   string
		limits Limits
		profit float64
		want   StatusType
	}{
		{"stop loss reached exactly", Limits{StopLoss: 10}, -10, StatusStopLoss},
		{"stop loss exceeded", Limits{StopLoss: 10}, -12.5, StatusStopLoss},
		{"loss below limit", Limits{StopLoss: 10}, -9.99, StatusProceed},
		{"stop win reached", Limits{StopWin: 20}, 20, StatusStopWin},
		{"zero disables stop loss", Limits{StopLoss: 0}, -1000, StatusProceed},
		{"negative disables stop win", Limits{StopWin: -5}, 1000, StatusProceed},
		{"both set, flat", Limits{StopWin: 20, StopLoss: 10}, 0, StatusProceed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.limits.Evaluate(tc.profit)
			if got.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Status)
			}
			if got.Halted() != (tc.want != StatusProceed) {
				t.Fatalf("unexpected halted flag for %s", got.Status)
			}
		})
	}
}
