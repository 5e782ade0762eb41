package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"binary-trader/internal/metrics"
)

const (
	defaultBufferSize = 256
	sinkTimeout       = 5 * time.Second
	drainTimeout      = 3 * time.Second
)

// Service 异步接收引擎事件，写入 monitor_events 并分发给各个 Sink。
// Publish 从不阻塞交易协程，队列满时丢弃事件。
type Service struct {
	db     *sql.DB
	events chan Event
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time

	dropped atomic.Int64
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(db *sql.DB, bufferSize int, logger *zap.Logger, sinks ...Sink) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("monitor: db 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	s := &Service{
		db:     db,
		events: make(chan Event, bufferSize),
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_topic ON monitor_events(topic);
CREATE INDEX IF NOT EXISTS idx_monitor_events_session ON monitor_events(session_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Publish 将事件放入队列。
func (s *Service) Publish(topic string, payload interface{}) {
	body, sessionID := normalize(payload)
	ev := Event{
		Topic:     topic,
		SessionID: sessionID,
		Timestamp: s.now().UTC(),
		Payload:   body,
	}
	select {
	case s.events <- ev:
	default:
		n := s.dropped.Add(1)
		metrics.EventsDropped.Inc()
		s.logger.Warn("监控队列已满，丢弃事件", zap.String("topic", topic), zap.Int64("dropped", n))
	}
}

// Dropped 返回累计丢弃的事件数。
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

// Run 消费事件队列直到 ctx 结束，退出前尽量处理完剩余事件。
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.events:
			s.handle(ctx, ev)
		case <-ctx.Done():
			s.drain()
			return nil
		}
	}
}

func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-s.events:
			s.handle(ctx, ev)
		default:
			return
		}
		if ctx.Err() != nil {
			s.logger.Warn("退出时未能处理全部监控事件", zap.Int("remaining", len(s.events)))
			return
		}
	}
}

func (s *Service) handle(ctx context.Context, ev Event) {
	id, err := s.Record(context.WithoutCancel(ctx), ev)
	if err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("topic", ev.Topic), zap.Error(err))
	}
	ev.ID = id

	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := sink.Notify(sinkCtx, ev); err != nil {
			s.logger.Warn("事件推送失败", zap.String("topic", ev.Topic), zap.Error(err))
		}
		cancel()
	}
}

// Record 同步写入单个事件并返回其 ID。
func (s *Service) Record(ctx context.Context, ev Event) (int64, error) {
	payload, err := sonic.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (topic, session_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		ev.Topic, ev.SessionID, string(payload), ev.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Query 为事件检索条件，空字段表示不过滤。
type Query struct {
	Topic     string
	SessionID string
	Limit     int
}

// ListEvents 检索最近事件，按写入顺序倒序。
func (s *Service) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := `SELECT id, topic, session_id, payload, created_at FROM monitor_events WHERE 1 = 1`
	args := make([]interface{}, 0, 3)
	if q.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, q.Topic)
	}
	if q.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, q.Limit)
	for rows.Next() {
		var (
			ev      Event
			payload string
			created string
		)
		if scanErr := rows.Scan(&ev.ID, &ev.Topic, &ev.SessionID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}
		ev.Timestamp = ts
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
