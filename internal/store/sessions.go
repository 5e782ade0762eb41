package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"binary-trader/internal/broker"
	"binary-trader/internal/execution"
	"binary-trader/internal/session"
)

const sessionColumns = `id, user_id, strategy, asset, alternative_asset, active_asset, account_mode, status,
	initial_balance, current_balance, profit, total, wins, losses, draws, soros_level, soros_value,
	stop_reason, started_at, stopped_at, updated_at`

// SaveSession 插入或更新会话快照。
func (s *Store) SaveSession(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	active_asset = excluded.active_asset,
	status = excluded.status,
	initial_balance = excluded.initial_balance,
	current_balance = excluded.current_balance,
	profit = excluded.profit,
	total = excluded.total,
	wins = excluded.wins,
	losses = excluded.losses,
	draws = excluded.draws,
	soros_level = excluded.soros_level,
	soros_value = excluded.soros_value,
	stop_reason = excluded.stop_reason,
	started_at = excluded.started_at,
	stopped_at = excluded.stopped_at,
	updated_at = excluded.updated_at`,
		sess.ID, sess.UserID, sess.Strategy, sess.Asset, sess.AlternativeAsset, sess.ActiveAsset,
		string(sess.AccountMode), string(sess.Status),
		sess.InitialBalance, sess.CurrentBalance, sess.Profit,
		sess.Total, sess.Wins, sess.Losses, sess.Draws,
		sess.Soros.Level, sess.Soros.Value,
		sess.StopReason, formatTime(sess.StartedAt), formatTime(sess.StoppedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: 保存会话失败: %w", err)
	}
	return nil
}

// GetSession 按 ID 读取会话，不存在时返回 session.ErrSessionNotFound。
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return sess, err
}

// ListSessions 返回最近更新的会话，userID 为空时不过滤。
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := make([]any, 0, 2)
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询会话失败: %w", err)
	}
	defer rows.Close()

	out := make([]session.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取会话失败: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (session.Session, error) {
	var (
		sess                      session.Session
		mode, status              string
		started, stopped, updated string
		sorosLevel                int
		sorosValue                float64
	)
	err := sc.Scan(
		&sess.ID, &sess.UserID, &sess.Strategy, &sess.Asset, &sess.AlternativeAsset, &sess.ActiveAsset,
		&mode, &status,
		&sess.InitialBalance, &sess.CurrentBalance, &sess.Profit,
		&sess.Total, &sess.Wins, &sess.Losses, &sess.Draws,
		&sorosLevel, &sorosValue,
		&sess.StopReason, &started, &stopped, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, err
		}
		return session.Session{}, fmt.Errorf("store: 解析会话失败: %w", err)
	}
	sess.AccountMode = broker.AccountMode(mode)
	sess.Status = session.Status(status)
	sess.Soros = execution.SorosState{Level: sorosLevel, Value: sorosValue}
	sess.StartedAt = parseTime(started)
	sess.StoppedAt = parseTime(stopped)
	sess.UpdatedAt = parseTime(updated)
	return sess, nil
}
