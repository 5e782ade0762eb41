package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeBridge 模拟桥接进程：按 method 返回预置结果。
func fakeBridge(t *testing.T, handle func(req bridgeRequest) bridgeResponse) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var req bridgeRequest
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			resp := handle(req)
			resp.ID = req.ID
			if err := ws.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func result(v any) bridgeResponse {
	raw, _ := json.Marshal(v)
	return bridgeResponse{OK: true, Result: raw}
}

func TestBridgeConn_RoundTrip(t *testing.T) {
	url := fakeBridge(t, func(req bridgeRequest) bridgeResponse {
		switch req.Method {
		case "login", "change_account":
			return result(true)
		case "balance":
			return result(1250.5)
		case "server_time":
			return result(1700000000.5)
		case "payout":
			return result(map[string]float64{"binary": 80, "digital": 87})
		case "candles":
			return result([]map[string]float64{
				{"from": 1700000000, "open": 1.1, "max": 1.2, "min": 1.0, "close": 1.15, "volume": 10},
			})
		case "buy":
			return result(123456)
		case "check_result":
			return result(map[string]any{"done": true, "profit": 4.25})
		default:
			return bridgeResponse{Error: "unknown method"}
		}
	})

	b := NewBridgeConn(url, "user@example.com", "secret", 0, time.Second, nil)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer b.Disconnect()

	if err := b.ChangeAccount(ctx, AccountPractice); err != nil {
		t.Fatalf("ChangeAccount: %v", err)
	}
	if bal, err := b.Balance(ctx); err != nil || bal != 1250.5 {
		t.Fatalf("Balance = %v, %v", bal, err)
	}
	if ts, err := b.ServerTime(ctx); err != nil || ts.Unix() != 1700000000 {
		t.Fatalf("ServerTime = %v, %v", ts, err)
	}
	if p, err := b.Payout(ctx, "EURUSD"); err != nil || p.Digital != 87 {
		t.Fatalf("Payout = %+v, %v", p, err)
	}
	candles, err := b.Candles(ctx, "EURUSD", 60, 1, time.Unix(1700000060, 0))
	if err != nil || len(candles) != 1 || candles[0].High != 1.2 || candles[0].Low != 1.0 {
		t.Fatalf("Candles = %+v, %v", candles, err)
	}
	id, err := b.Buy(ctx, OrderRequest{Asset: "EURUSD", Direction: DirectionCall, Stake: 5, Expiration: 1, Type: OrderTypeDigital})
	if err != nil || id != "123456" {
		t.Fatalf("Buy = %q, %v", id, err)
	}
	done, profit, err := b.CheckResult(ctx, id, OrderTypeDigital)
	if err != nil || !done || profit != 4.25 {
		t.Fatalf("CheckResult = %v %v %v", done, profit, err)
	}
}

func TestBridgeConn_ErrorCodes(t *testing.T) {
	url := fakeBridge(t, func(req bridgeRequest) bridgeResponse {
		switch req.Method {
		case "login":
			return result(true)
		case "buy":
			return bridgeResponse{Code: "asset_closed", Error: "market closed"}
		case "candles":
			return result("not-a-list")
		default:
			return bridgeResponse{Code: "auth_failed", Error: "session expired"}
		}
	})

	b := NewBridgeConn(url, "u", "p", 0, time.Second, nil)
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer b.Disconnect()

	if _, err := b.Buy(ctx, OrderRequest{Asset: "X"}); !errors.Is(err, ErrAssetClosed) {
		t.Errorf("expected ErrAssetClosed, got %v", err)
	}
	if _, err := b.Candles(ctx, "X", 60, 1, time.Now()); !errors.Is(err, ErrBadCandles) {
		t.Errorf("expected ErrBadCandles, got %v", err)
	}
	if _, err := b.Balance(ctx); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestBridgeConn_NotConnected(t *testing.T) {
	b := NewBridgeConn("ws://127.0.0.1:1", "u", "p", 0, time.Second, nil)
	if _, err := b.Balance(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestPaperConn_SettlesAtExpiry(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 5, 0, time.UTC)
	p := NewPaperConn(1)
	p.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, err := p.Buy(ctx, OrderRequest{Asset: "EURUSD", Stake: 5, Expiration: 1}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before Connect, got %v", err)
	}
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	id, err := p.Buy(ctx, OrderRequest{Asset: "EURUSD", Direction: DirectionCall, Stake: 5, Expiration: 1, Type: OrderTypeDigital})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if bal, _ := p.Balance(ctx); bal != 9995 {
		t.Fatalf("expected stake debited, balance %v", bal)
	}
	if done, _, _ := p.CheckResult(ctx, id, OrderTypeDigital); done {
		t.Fatalf("order must stay open before expiry")
	}

	now = now.Add(time.Minute)
	done, profit, err := p.CheckResult(ctx, id, OrderTypeDigital)
	if err != nil || !done {
		t.Fatalf("expected settled order, got done=%v err=%v", done, err)
	}
	if profit != -5 && profit != 0 && profit != 4.25 {
		t.Errorf("unexpected profit %v", profit)
	}

	candles, err := p.Candles(ctx, "EURUSD", 60, 5, now)
	if err != nil || len(candles) != 5 {
		t.Fatalf("Candles = %d, %v", len(candles), err)
	}
	for _, c := range candles {
		if !c.Valid() {
			t.Errorf("invalid paper candle %+v", c)
		}
	}
}
