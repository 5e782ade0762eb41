package session

import (
	"testing"

	"binary-trader/internal/execution"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusStopped, StatusRunning, true},
		{StatusRunning, StatusPaused, true},
		{StatusPaused, StatusRunning, true},
		{StatusPaused, StatusStopped, true},
		{StatusRunning, StatusError, true},
		{StatusError, StatusStopped, true},
		{StatusStopped, StatusPaused, false},
		{StatusError, StatusRunning, false},
		{StatusPaused, StatusError, false},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestSessionApply(t *testing.T) {
	var s Session
	s.apply(execution.SeriesOutcome{
		Operations: []execution.Operation{
			{Result: execution.ResultLoss, Profit: -2},
			{Result: execution.ResultWin, Profit: 8.5},
		},
		Net:   6.5,
		Soros: execution.SorosState{Level: 1, Value: 6.5},
	})
	s.apply(execution.SeriesOutcome{
		Operations: []execution.Operation{{Result: execution.ResultDraw}},
	})

	if s.Total != 3 || s.Wins != 1 || s.Losses != 1 || s.Draws != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.Profit != 6.5 {
		t.Fatalf("expected profit 6.5, got %v", s.Profit)
	}
	if rate := s.WinRate(); rate < 33.33 || rate > 33.34 {
		t.Fatalf("expected win rate 33.33, got %v", rate)
	}
	if s.Soros != (execution.SorosState{}) {
		t.Fatalf("expected soros to follow the latest series, got %+v", s.Soros)
	}
}
