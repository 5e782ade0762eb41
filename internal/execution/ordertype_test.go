package execution

import (
	"testing"
	"time"

	"binary-trader/internal/broker"
)

func TestSelectOrderType(t *testing.T) {
	window := 2 * time.Second
	cases := []struct {
		name   string
		pref   Preference
		payout broker.Payout
		second time.Duration
		want   broker.OrderType
	}{
		{"explicit binary", PreferBinary, broker.Payout{Binary: 70, Digital: 90}, 0, broker.OrderTypeBinary},
		{"explicit digital", PreferDigital, broker.Payout{Binary: 90, Digital: 70}, 30 * time.Second, broker.OrderTypeDigital},
		{"auto equal payouts", PreferAuto, broker.Payout{Binary: 80, Digital: 80}, 30 * time.Second, broker.OrderTypeDigital},
		{"auto outside window", PreferAuto, broker.Payout{Binary: 70, Digital: 90}, 10 * time.Second, broker.OrderTypeBinary},
		{"auto inside window digital better", PreferAuto, broker.Payout{Binary: 70, Digital: 85}, time.Second, broker.OrderTypeDigital},
		{"auto inside window binary better", PreferAuto, broker.Payout{Binary: 85, Digital: 80}, time.Second, broker.OrderTypeBinary},
		{"auto outside window binary closed", PreferAuto, broker.Payout{Binary: 0, Digital: 80}, 10 * time.Second, broker.OrderTypeDigital},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectOrderType(tc.pref, tc.payout, tc.second, window); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSorosApply(t *testing.T) {
	s := SorosState{}.Apply(6.5, 2)
	if s.Level != 1 || s.Value != 6.5 {
		t.Fatalf("expected level 1 value 6.5, got %+v", s)
	}
	s = s.Apply(3.25, 2)
	if s.Level != 2 || s.Value != 9.75 {
		t.Fatalf("expected level 2 value 9.75, got %+v", s)
	}
	if s = s.Apply(1, 2); s != (SorosState{Level: 2, Value: 9.75}) {
		t.Fatalf("expected state held at the level cap, got %+v", s)
	}
	if got := (SorosState{Level: 2, Value: 5}).Apply(3, 2); got != (SorosState{Level: 2, Value: 5}) {
		t.Fatalf("expected {2 5} at the cap, got %+v", got)
	}
	if s = (SorosState{Level: 1, Value: 4}).Apply(-2, 2); s != (SorosState{}) {
		t.Fatalf("expected reset after loss, got %+v", s)
	}
	if got := (SorosState{Level: 1, Value: 6.5}).Stake(2); got != 8.5 {
		t.Fatalf("expected stake 8.5, got %v", got)
	}
}
