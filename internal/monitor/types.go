package monitor

import (
	"context"
	"time"

	"binary-trader/internal/execution"
	"binary-trader/internal/session"
)

// Event 封装通用监控事件。
type Event struct {
	ID        int64       `json:"id"`
	Topic     string      `json:"topic"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Sink 接收已落盘的事件，例如 Telegram 推送。
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// SinkFunc 将函数适配为 Sink。
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// SeriesPayload 为序列结果的可序列化形式。
type SeriesPayload struct {
	SessionID  string                `json:"session_id"`
	Operations []execution.Operation `json:"operations"`
	Net        float64               `json:"net"`
	Final      execution.Result      `json:"final"`
	Aborted    bool                  `json:"aborted"`
	Error      string                `json:"error,omitempty"`
	SorosLevel int                   `json:"soros_level"`
	SorosValue float64               `json:"soros_value"`
}

// normalize 把引擎载荷转换为可写入日志的结构，并提取所属会话。
func normalize(payload interface{}) (interface{}, string) {
	switch p := payload.(type) {
	case execution.SeriesOutcome:
		out := SeriesPayload{
			Operations: p.Operations,
			Net:        p.Net,
			Final:      p.Final,
			Aborted:    p.Aborted,
			SorosLevel: p.Soros.Level,
			SorosValue: p.Soros.Value,
		}
		if p.Err != nil {
			out.Error = p.Err.Error()
		}
		if len(p.Operations) > 0 {
			out.SessionID = p.Operations[0].SessionID
		}
		return out, out.SessionID
	case execution.Operation:
		return p, p.SessionID
	case session.Session:
		return p, p.ID
	case session.SignalEvent:
		return p, p.SessionID
	case session.AssetSwitch:
		return p, p.SessionID
	default:
		return payload, ""
	}
}
