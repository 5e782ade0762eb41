package store

import (
	"context"
	"fmt"

	"binary-trader/internal/broker"
	"binary-trader/internal/execution"
)

const operationColumns = `id, session_id, order_id, asset, direction, order_type, stake, expiration,
	gale_level, result, profit, timeout, opened_at, closed_at`

// CreateOperation 在下单成功后写入 PENDING 记录。
func (s *Store) CreateOperation(ctx context.Context, op execution.Operation) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO operations (`+operationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.SessionID, op.OrderID, op.Asset, string(op.Direction), string(op.Type),
		op.Stake, op.Expiration, op.GaleLevel, string(op.Result), op.Profit, boolInt(op.Timeout),
		formatTime(op.OpenedAt), formatTime(op.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("store: 写入操作失败: %w", err)
	}
	return nil
}

// FinishOperation 写入最终结果；仅更新仍为 PENDING 的记录，保证只结算一次。
func (s *Store) FinishOperation(ctx context.Context, op execution.Operation) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE operations SET result = ?, profit = ?, timeout = ?, closed_at = ?
WHERE id = ? AND result = ?`,
		string(op.Result), op.Profit, boolInt(op.Timeout), formatTime(op.ClosedAt),
		op.ID, string(execution.ResultPending),
	)
	if err != nil {
		return fmt.Errorf("store: 更新操作失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: 操作 %s 不存在或已结算", op.ID)
	}
	return nil
}

// ListOperations 返回会话最近的操作记录，按开仓时间倒序。
func (s *Store) ListOperations(ctx context.Context, sessionID string, limit int) ([]execution.Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE session_id = ? ORDER BY opened_at DESC, rowid DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: 查询操作失败: %w", err)
	}
	defer rows.Close()

	out := make([]execution.Operation, 0)
	for rows.Next() {
		var (
			op             execution.Operation
			direction, typ string
			result         string
			timeout        int
			opened, closed string
		)
		if err := rows.Scan(
			&op.ID, &op.SessionID, &op.OrderID, &op.Asset, &direction, &typ, &op.Stake, &op.Expiration,
			&op.GaleLevel, &result, &op.Profit, &timeout, &opened, &closed,
		); err != nil {
			return nil, fmt.Errorf("store: 解析操作失败: %w", err)
		}
		op.Direction = broker.Direction(direction)
		op.Type = broker.OrderType(typ)
		op.Result = execution.Result(result)
		op.Timeout = timeout != 0
		op.OpenedAt = parseTime(opened)
		op.ClosedAt = parseTime(closed)
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取操作失败: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
