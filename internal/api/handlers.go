package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"binary-trader/internal/config"
	"binary-trader/internal/execution"
	"binary-trader/internal/monitor"
	"binary-trader/internal/session"
)

const maxListLimit = 1000

// startRequest 为创建会话的请求体。
type startRequest struct {
	UserID                string             `json:"user_id"`
	Strategy              string             `json:"strategy"`
	Asset                 string             `json:"asset"`
	AlternativeAsset      string             `json:"alternative_asset"`
	AccountMode           string             `json:"account_mode"`
	EntryValue            float64            `json:"entry_value"`
	StopWin               float64            `json:"stop_win"`
	StopLoss              float64            `json:"stop_loss"`
	MartingaleEnabled     bool               `json:"martingale_enabled"`
	MartingaleLevels      int                `json:"martingale_levels"`
	MartingaleFactor      float64            `json:"martingale_factor"`
	SorosEnabled          bool               `json:"soros_enabled"`
	SorosLevels           int                `json:"soros_levels"`
	OrderType             string             `json:"order_type"`
	TrendPeriod           int                `json:"trend_period"`
	ConfirmationFilters   []string           `json:"confirmation_filters"`
	ConfirmationThreshold float64            `json:"confirmation_threshold"`
	FilterWeights         map[string]float64 `json:"filter_weights"`
	Params                map[string]float64 `json:"params"`
	CandlestickPatterns   []string           `json:"candlestick_patterns"`
}

func (r startRequest) config() config.SessionConfig {
	return config.SessionConfig{
		UserID:              r.UserID,
		Strategy:            r.Strategy,
		Asset:               r.Asset,
		AlternativeAsset:    r.AlternativeAsset,
		AccountMode:         r.AccountMode,
		EntryValue:          r.EntryValue,
		StopWin:             r.StopWin,
		StopLoss:            r.StopLoss,
		MartingaleEnabled:   r.MartingaleEnabled,
		MartingaleLevels:    r.MartingaleLevels,
		MartingaleFactor:    r.MartingaleFactor,
		SorosEnabled:        r.SorosEnabled,
		SorosLevels:         r.SorosLevels,
		OrderType:           r.OrderType,
		TrendPeriod:         r.TrendPeriod,
		Filters:             r.ConfirmationFilters,
		FilterThreshold:     r.ConfirmationThreshold,
		FilterWeights:       r.FilterWeights,
		Params:              r.Params,
		CandlestickPatterns: r.CandlestickPatterns,
	}
}

// sessionView 为会话的对外表示。
type sessionView struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Strategy         string     `json:"strategy"`
	Asset            string     `json:"asset"`
	AlternativeAsset string     `json:"alternative_asset,omitempty"`
	ActiveAsset      string     `json:"active_asset"`
	AccountMode      string     `json:"account_mode"`
	Status           string     `json:"status"`
	InitialBalance   float64    `json:"initial_balance"`
	CurrentBalance   float64    `json:"current_balance"`
	Profit           float64    `json:"profit"`
	Total            int        `json:"total"`
	Wins             int        `json:"wins"`
	Losses           int        `json:"losses"`
	Draws            int        `json:"draws"`
	WinRate          float64    `json:"win_rate"`
	SorosLevel       int        `json:"soros_level"`
	SorosValue       float64    `json:"soros_value"`
	StopReason       string     `json:"stop_reason,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	StoppedAt        *time.Time `json:"stopped_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func viewOf(s session.Session) sessionView {
	return sessionView{
		ID:               s.ID,
		UserID:           s.UserID,
		Strategy:         s.Strategy,
		Asset:            s.Asset,
		AlternativeAsset: s.AlternativeAsset,
		ActiveAsset:      s.ActiveAsset,
		AccountMode:      string(s.AccountMode),
		Status:           string(s.Status),
		InitialBalance:   s.InitialBalance,
		CurrentBalance:   s.CurrentBalance,
		Profit:           s.Profit,
		Total:            s.Total,
		Wins:             s.Wins,
		Losses:           s.Losses,
		Draws:            s.Draws,
		WinRate:          s.WinRate(),
		SorosLevel:       s.Soros.Level,
		SorosValue:       s.Soros.Value,
		StopReason:       s.StopReason,
		StartedAt:        timePtr(s.StartedAt),
		StoppedAt:        timePtr(s.StoppedAt),
		UpdatedAt:        s.UpdatedAt,
	}
}

// operationView 为操作记录的对外表示。
type operationView struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Kind       string    `json:"kind"`
	Asset      string    `json:"asset"`
	Direction  string    `json:"direction"`
	OrderType  string    `json:"order_type"`
	Stake      float64   `json:"stake"`
	Expiration int       `json:"expiration"`
	Result     string    `json:"result"`
	Profit     float64   `json:"profit"`
	Timeout    bool      `json:"timeout"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

func operationViewOf(op execution.Operation) operationView {
	return operationView{
		ID:         op.ID,
		OrderID:    op.OrderID,
		Kind:       op.Kind(),
		Asset:      op.Asset,
		Direction:  string(op.Direction),
		OrderType:  string(op.Type),
		Stake:      op.Stake,
		Expiration: op.Expiration,
		Result:     string(op.Result),
		Profit:     op.Profit,
		Timeout:    op.Timeout,
		OpenedAt:   op.OpenedAt,
		ClosedAt:   op.ClosedAt,
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	out := make([]sessionView, 0)
	for _, sess := range s.sessions.List() {
		if userID != "" && sess.UserID != userID {
			continue
		}
		out = append(out, viewOf(sess))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	sess, err := s.sessions.Start(req.config())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(sess))
}

func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.sessions.Get(id)
	if errors.Is(err, session.ErrSessionNotFound) && s.history != nil {
		sess, err = s.history.GetSession(c.Request.Context(), id)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) listOperations(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, []operationView{})
		return
	}
	ops, err := s.history.ListOperations(c.Request.Context(), c.Param("id"), limitParam(c, 100))
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]operationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationViewOf(op))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) pauseSession(c *gin.Context) {
	sess, err := s.sessions.Pause(c.Request.Context(), c.Param("id"))
	s.respond(c, sess, err)
}

func (s *Server) resumeSession(c *gin.Context) {
	sess, err := s.sessions.Resume(c.Request.Context(), c.Param("id"))
	s.respond(c, sess, err)
}

func (s *Server) stopSession(c *gin.Context) {
	sess, err := s.sessions.Stop(c.Request.Context(), c.Param("id"))
	s.respond(c, sess, err)
}

func (s *Server) listEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusOK, []monitor.Event{})
		return
	}
	events, err := s.events.ListEvents(c.Request.Context(), monitor.Query{
		Topic:     strings.TrimSpace(c.Query("topic")),
		SessionID: strings.TrimSpace(c.Query("session_id")),
		Limit:     limitParam(c, 200),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) respond(c *gin.Context, sess session.Session, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("接口处理失败", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func limitParam(c *gin.Context, def int) int {
	v, err := strconv.Atoi(c.Query("limit"))
	if err != nil || v <= 0 {
		return def
	}
	if v > maxListLimit {
		return maxListLimit
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
