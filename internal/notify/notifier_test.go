package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"binary-trader/internal/execution"
	"binary-trader/internal/monitor"
	"binary-trader/internal/session"
)

type fakeSender struct {
	sent []tgbot.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbot.Chattable) (tgbot.Message, error) {
	if f.err != nil {
		return tgbot.Message{}, f.err
	}
	if msg, ok := c.(tgbot.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbot.Message{MessageID: len(f.sent)}, nil
}

func TestFormat(t *testing.T) {
	cases := []struct {
		name string
		ev   monitor.Event
		want string
		ok   bool
	}{
		{
			name: "status with stop reason",
			ev: monitor.Event{Topic: session.TopicSessionStatus, Payload: session.Session{
				ID: "0123456789", Strategy: "mhi", ActiveAsset: "EURUSD", Status: session.StatusStopped,
				StopReason: "stop_win", Total: 2, Wins: 1, Profit: 3.4,
			}},
			want: "原因: stop_win",
			ok:   true,
		},
		{
			name: "session update is silent",
			ev:   monitor.Event{Topic: session.TopicSessionUpdated, Payload: session.Session{ID: "s1"}},
			ok:   false,
		},
		{
			name: "series",
			ev: monitor.Event{Topic: execution.TopicSeriesCompleted, Payload: monitor.SeriesPayload{
				SessionID: "s1", Final: execution.ResultWin, Net: 1.7,
				Operations: []execution.Operation{{GaleLevel: 1, Asset: "EURUSD", Stake: 4, Result: execution.ResultWin, Profit: 3.4}},
			}},
			want: "GALE1",
			ok:   true,
		},
		{
			name: "asset switch",
			ev:   monitor.Event{Topic: session.TopicAssetSwitched, Payload: session.AssetSwitch{SessionID: "s1", From: "EURUSD", To: "EURUSD-OTC"}},
			want: "EURUSD → EURUSD-OTC",
			ok:   true,
		},
		{
			name: "settled operation is silent",
			ev:   monitor.Event{Topic: execution.TopicOperationClosed, Payload: execution.Operation{Result: execution.ResultWin}},
			ok:   false,
		},
		{
			name: "timed out operation",
			ev:   monitor.Event{Topic: execution.TopicOperationClosed, Payload: execution.Operation{OrderID: "o1", Timeout: true, Profit: -5}},
			want: "超时",
			ok:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := Format(tc.ev)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v (%q)", tc.ok, ok, msg)
			}
			if tc.ok && !strings.Contains(msg, tc.want) {
				t.Errorf("expected %q in message, got %q", tc.want, msg)
			}
		})
	}
}

func TestTelegram_Notify(t *testing.T) {
	fake := &fakeSender{}
	tg := &Telegram{bot: fake, chatID: 42}

	ev := monitor.Event{Topic: session.TopicAssetSwitched, Payload: session.AssetSwitch{SessionID: "s1", From: "A", To: "B"}}
	if err := tg.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := tg.Notify(context.Background(), monitor.Event{Topic: "other", Payload: 1}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(fake.sent) != 1 || fake.sent[0].ChatID != 42 {
		t.Fatalf("expected one message to chat 42, got %+v", fake.sent)
	}

	fake.err = errors.New("network down")
	if err := tg.Notify(context.Background(), ev); err == nil {
		t.Errorf("expected send error to propagate")
	}
}

func TestTelegram_DisabledWithoutChat(t *testing.T) {
	fake := &fakeSender{}
	tg := &Telegram{bot: fake}
	ev := monitor.Event{Topic: session.TopicAssetSwitched, Payload: session.AssetSwitch{}}
	if err := tg.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(fake.sent) != 0 {
		t.Errorf("expected no messages without chat id")
	}
}
