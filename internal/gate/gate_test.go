package gate

import (
	"math/rand"
	"testing"
	"time"
)

func at(h, m, s, ms int) time.Time {
	return time.Date(2025, 3, 10, h, m, s, ms*int(time.Millisecond), time.UTC)
}

func TestShouldFire_OncePerPeriodUnderFastPolling(t *testing.T) {
	g := New(Every("mhi", 5*time.Minute, 0, 2*time.Second))

	var fired []time.Time
	start := at(10, 0, 0, 0).Add(-30 * time.Second)
	for ts := start; ts.Before(at(10, 10, 30, 0)); ts = ts.Add(100 * time.Millisecond) {
		if g.ShouldFire(ts, "mhi") {
			fired = append(fired, ts)
		}
	}

	want := []time.Time{at(10, 0, 0, 0), at(10, 5, 0, 0), at(10, 10, 0, 0)}
	if len(fired) != len(want) {
		t.Fatalf("expected %d fires, got %d: %v", len(want), len(fired), fired)
	}
	for i := range want {
		if !fired[i].Equal(want[i]) {
			t.Errorf("fire %d: expected %s, got %s", i, want[i], fired[i])
		}
	}
}

func TestShouldFire_JitteredPollingNeverDoubleFires(t *testing.T) {
	g := New(Every("rsi", time.Minute, 0, 2*time.Second))
	rng := rand.New(rand.NewSource(7))

	perPeriod := make(map[int64]int)
	ts := at(9, 0, 0, 0)
	end := ts.Add(30 * time.Minute)
	for ts.Before(end) {
		if g.ShouldFire(ts, "rsi") {
			perPeriod[g.Index(ts, "rsi")]++
		}
		ts = ts.Add(time.Duration(20+rng.Intn(400)) * time.Millisecond)
	}

	if len(perPeriod) != 30 {
		t.Errorf("expected 30 fired periods, got %d", len(perPeriod))
	}
	for idx, n := range perPeriod {
		if n != 1 {
			t.Errorf("period %d fired %d times", idx, n)
		}
	}
}

func TestShouldFire_Offset(t *testing.T) {
	g := New(Every("twin", 5*time.Minute, 4*time.Minute, 2*time.Second))

	if g.ShouldFire(at(10, 0, 0, 500), "twin") {
		t.Fatalf("expected no fire at minute 0")
	}
	if !g.ShouldFire(at(10, 4, 0, 500), "twin") {
		t.Fatalf("expected fire at minute 4")
	}
	if g.ShouldFire(at(10, 4, 1, 0), "twin") {
		t.Fatalf("expected single fire within the window")
	}
	if !g.ShouldFire(at(10, 9, 1, 0), "twin") {
		t.Fatalf("expected fire at minute 9")
	}
}

func TestShouldFire_UnknownKey(t *testing.T) {
	g := New()
	if g.ShouldFire(at(10, 0, 0, 0), "missing") {
		t.Fatalf("unknown cadence must not fire")
	}
}

func TestPrecompute_ConsumedOnlyForMatchingPeriod(t *testing.T) {
	c := Every("mhi", 5*time.Minute, 0, 2*time.Second)
	c.Lead = 2 * time.Second
	g := New(c)
	cache := NewCache[string]()

	if _, due := g.PrecomputeDue(at(10, 4, 50, 0), "mhi"); due {
		t.Fatalf("precompute must wait for the lead interval")
	}

	target, due := g.PrecomputeDue(at(10, 4, 58, 500), "mhi")
	if !due {
		t.Fatalf("expected precompute to be due")
	}
	if _, again := g.PrecomputeDue(at(10, 4, 59, 0), "mhi"); again {
		t.Fatalf("precompute must be due once per target")
	}
	cache.Put("mhi", target, "put")

	fireAt := at(10, 5, 0, 100)
	if !g.ShouldFire(fireAt, "mhi") {
		t.Fatalf("expected fire at 10:05:00")
	}
	if idx := g.Index(fireAt, "mhi"); idx != target {
		t.Fatalf("expected fired index %d, got %d", target, idx)
	}
	v, ok := cache.Take("mhi", target)
	if !ok || v != "put" {
		t.Fatalf("expected cached value, got %q ok=%v", v, ok)
	}
	if _, ok := cache.Take("mhi", target); ok {
		t.Fatalf("cached value must be consumed once")
	}
}

func TestCache_StaleTargetDiscarded(t *testing.T) {
	cache := NewCache[int]()
	cache.Put("k", 10, 1)

	if _, ok := cache.Take("k", 11); ok {
		t.Fatalf("value for another period must not be used")
	}
	if _, ok := cache.Take("k", 10); ok {
		t.Fatalf("stale value must be discarded after a mismatch")
	}
}

func TestWindowStart(t *testing.T) {
	g := New(Every("twin", 5*time.Minute, 4*time.Minute, 2*time.Second))
	ts := at(10, 4, 0, 300)
	idx := g.Index(ts, "twin")
	if got := g.WindowStart("twin", idx); !got.Equal(at(10, 4, 0, 0)) {
		t.Fatalf("expected window start 10:04:00, got %s", got)
	}
	if got := g.WindowStart("twin", idx+1); !got.Equal(at(10, 9, 0, 0)) {
		t.Fatalf("expected next window start 10:09:00, got %s", got)
	}
}
