package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"binary-trader/internal/broker"
	"binary-trader/internal/config"
	"binary-trader/internal/execution"
	"binary-trader/internal/session"
)

var _ session.Store = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveSession_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	sess := session.Session{
		ID:             "s1",
		UserID:         "u1",
		Strategy:       "mhi",
		Asset:          "EURUSD",
		ActiveAsset:    "EURUSD",
		AccountMode:    broker.AccountPractice,
		Status:         session.StatusRunning,
		InitialBalance: 100,
		CurrentBalance: 100,
		StartedAt:      started,
		UpdatedAt:      started,
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sess.Status = session.StatusStopped
	sess.CurrentBalance = 108.5
	sess.Profit = 8.5
	sess.Total, sess.Wins = 1, 1
	sess.Soros = execution.SorosState{Level: 1, Value: 8.5}
	sess.StopReason = "stop_win"
	sess.StoppedAt = started.Add(time.Hour)
	sess.UpdatedAt = sess.StoppedAt
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != session.StatusStopped || got.StopReason != "stop_win" {
		t.Errorf("unexpected status: %+v", got)
	}
	if got.Profit != 8.5 || got.Wins != 1 || got.Soros.Level != 1 || got.Soros.Value != 8.5 {
		t.Errorf("counters not persisted: %+v", got)
	}
	if !got.StartedAt.Equal(started) || !got.StoppedAt.Equal(started.Add(time.Hour)) {
		t.Errorf("timestamps not persisted: %s / %s", got.StartedAt, got.StoppedAt)
	}

	list, err := s.ListSessions(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one row after upsert, got %d", len(list))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListSessions_FilterByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, user := range []string{"u1", "u2", "u1"} {
		sess := session.Session{
			ID:          string(rune('a' + i)),
			UserID:      user,
			Strategy:    "rsi",
			Asset:       "EURUSD",
			AccountMode: broker.AccountPractice,
			Status:      session.StatusStopped,
			UpdatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveSession(ctx, sess); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	got, err := s.ListSessions(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("expected [c a] newest first, got %+v", got)
	}

	all, err := s.ListSessions(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(all))
	}
}

func TestOperations_CreateAndFinishOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	opened := time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC)

	op := execution.Operation{
		ID:         "op1",
		SessionID:  "s1",
		OrderID:    "broker-1",
		Asset:      "EURUSD",
		Direction:  broker.DirectionCall,
		Type:       broker.OrderTypeDigital,
		Stake:      5,
		Expiration: 1,
		Result:     execution.ResultPending,
		OpenedAt:   opened,
	}
	if err := s.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}

	pending, err := s.ListOperations(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(pending) != 1 || pending[0].Result != execution.ResultPending {
		t.Fatalf("expected one pending operation, got %+v", pending)
	}

	op.Result = execution.ResultLoss
	op.Profit = -5
	op.Timeout = true
	op.ClosedAt = opened.Add(5 * time.Minute)
	if err := s.FinishOperation(ctx, op); err != nil {
		t.Fatalf("FinishOperation: %v", err)
	}
	if err := s.FinishOperation(ctx, op); err == nil {
		t.Errorf("expected second finish to fail")
	}

	ops, err := s.ListOperations(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	got := ops[0]
	if got.Result != execution.ResultLoss || got.Profit != -5 || !got.Timeout {
		t.Errorf("unexpected finished operation: %+v", got)
	}
	if got.Direction != broker.DirectionCall || got.Type != broker.OrderTypeDigital {
		t.Errorf("direction/type not persisted: %+v", got)
	}
	if !got.ClosedAt.Equal(opened.Add(5 * time.Minute)) {
		t.Errorf("unexpected closed_at %s", got.ClosedAt)
	}
}

func TestListOperations_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		op := execution.Operation{
			ID:        string(rune('a' + i)),
			SessionID: "s1",
			OrderID:   "o",
			Asset:     "EURUSD",
			Direction: broker.DirectionPut,
			Type:      broker.OrderTypeBinary,
			Stake:     2,
			GaleLevel: i,
			Result:    execution.ResultPending,
			OpenedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateOperation(ctx, op); err != nil {
			t.Fatalf("CreateOperation: %v", err)
		}
	}

	ops, err := s.ListOperations(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 2 || ops[0].GaleLevel != 2 || ops[1].GaleLevel != 1 {
		t.Fatalf("expected gale levels [2 1], got %+v", ops)
	}
}
