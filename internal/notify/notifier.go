package notify

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"binary-trader/internal/execution"
	"binary-trader/internal/monitor"
	"binary-trader/internal/session"
)

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram 将会话状态、序列结果与资产切换推送到指定聊天。
type Telegram struct {
	bot    sender
	chatID int64
}

var _ monitor.Sink = (*Telegram)(nil)

// NewTelegram 创建 Telegram 推送。
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: 初始化 telegram 失败: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev monitor.Event) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}
	msg, ok := Format(ev)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		return fmt.Errorf("notify: 发送 telegram 消息失败: %w", err)
	}
	return nil
}

// Format 生成事件的文本消息，不需要推送的事件返回 false。
func Format(ev monitor.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case session.Session:
		if ev.Topic != session.TopicSessionStatus {
			return "", false
		}
		var b strings.Builder
		fmt.Fprintf(&b, "会话 %s [%s %s] 状态: %s", short(p.ID), p.Strategy, p.ActiveAsset, p.Status)
		if p.StopReason != "" {
			fmt.Fprintf(&b, "\n原因: %s", p.StopReason)
		}
		if p.Total > 0 {
			fmt.Fprintf(&b, "\n盈亏 %.2f 胜率 %.1f%% (%d/%d)", p.Profit, p.WinRate(), p.Wins, p.Total)
		}
		return b.String(), true
	case monitor.SeriesPayload:
		var b strings.Builder
		fmt.Fprintf(&b, "会话 %s 序列结束: %s 净值 %.2f", short(p.SessionID), p.Final, p.Net)
		for _, op := range p.Operations {
			fmt.Fprintf(&b, "\n%s %s %s %.2f → %s %.2f", op.Kind(), op.Asset, op.Direction, op.Stake, op.Result, op.Profit)
		}
		if p.Error != "" {
			fmt.Fprintf(&b, "\n错误: %s", p.Error)
		}
		return b.String(), true
	case session.AssetSwitch:
		return fmt.Sprintf("会话 %s 资产切换: %s → %s", short(p.SessionID), p.From, p.To), true
	case execution.Operation:
		if !p.Timeout {
			return "", false
		}
		return fmt.Sprintf("会话 %s 订单 %s 结果超时，按亏损 %.2f 处理", short(p.SessionID), p.OrderID, p.Profit), true
	default:
		return "", false
	}
}

// Log 将事件写入结构化日志。
type Log struct {
	logger *zap.Logger
}

var _ monitor.Sink = (*Log)(nil)

// NewLog 创建日志推送。
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, ev monitor.Event) error {
	msg, ok := Format(ev)
	if !ok {
		l.logger.Debug("事件", zap.String("topic", ev.Topic), zap.String("session_id", ev.SessionID), zap.Int64("id", ev.ID))
		return nil
	}
	l.logger.Info(msg, zap.String("topic", ev.Topic), zap.String("session_id", ev.SessionID))
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
