package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// bridgeRequest 为发往桥接进程的请求帧。
type bridgeRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// bridgeResponse 为桥接进程的应答帧。
type bridgeResponse struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type pendingCall struct {
	ws *websocket.Conn
	ch chan bridgeResponse
}

type bridgeCandle struct {
	From   int64   `json:"from"`
	Open   float64 `json:"open"`
	High   float64 `json:"max"`
	Low    float64 `json:"min"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// BridgeConn 通过 WebSocket 与经纪商桥接进程通信，使用 JSON 请求/应答帧并按 id 关联。
type BridgeConn struct {
	url      string
	email    string
	password string
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string]pendingCall
	seq     atomic.Uint64
}

var _ Conn = (*BridgeConn)(nil)

// NewBridgeConn 创建桥接连接，rps<=0 时不限速。
func NewBridgeConn(url, email, password string, rps float64, timeout time.Duration, logger *zap.Logger) *BridgeConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &BridgeConn{
		url:      url,
		email:    email,
		password: password,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		pending:  make(map[string]pendingCall),
	}
}

func (b *BridgeConn) Connect(ctx context.Context) error {
	b.closeSocket()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionLost, b.url, err)
	}

	b.mu.Lock()
	b.ws = ws
	b.mu.Unlock()
	go b.readLoop(ws)

	_, err = b.call(ctx, "login", map[string]any{"email": b.email, "password": b.password})
	return err
}

func (b *BridgeConn) ChangeAccount(ctx context.Context, mode AccountMode) error {
	_, err := b.call(ctx, "change_account", map[string]any{"mode": string(mode)})
	return err
}

func (b *BridgeConn) Balance(ctx context.Context) (float64, error) {
	var balance float64
	if err := b.callInto(ctx, "balance", nil, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (b *BridgeConn) ServerTime(ctx context.Context) (time.Time, error) {
	var ts float64
	if err := b.callInto(ctx, "server_time", nil, &ts); err != nil {
		return time.Time{}, err
	}
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9)).UTC(), nil
}

func (b *BridgeConn) Candles(ctx context.Context, asset string, timeframe, count int, end time.Time) ([]Candle, error) {
	var raw []bridgeCandle
	err := b.callInto(ctx, "candles", map[string]any{
		"asset":     asset,
		"timeframe": timeframe,
		"count":     count,
		"end":       end.Unix(),
	}, &raw)
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, c := range raw {
		candles = append(candles, Candle{
			Timestamp: time.Unix(c.From, 0).UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return candles, nil
}

func (b *BridgeConn) Payout(ctx context.Context, asset string) (Payout, error) {
	var p struct {
		Binary  float64 `json:"binary"`
		Digital float64 `json:"digital"`
	}
	if err := b.callInto(ctx, "payout", map[string]any{"asset": asset}, &p); err != nil {
		return Payout{}, err
	}
	return Payout{Binary: p.Binary, Digital: p.Digital}, nil
}

func (b *BridgeConn) Buy(ctx context.Context, req OrderRequest) (string, error) {
	var id any
	err := b.callInto(ctx, "buy", map[string]any{
		"asset":      req.Asset,
		"amount":     req.Stake,
		"direction":  string(req.Direction),
		"expiration": req.Expiration,
		"type":       string(req.Type),
	}, &id)
	if err != nil {
		return "", err
	}
	switch v := id.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return "", fmt.Errorf("%w: unexpected order id %v", ErrOrderRejected, id)
	}
}

func (b *BridgeConn) CheckResult(ctx context.Context, orderID string, typ OrderType) (bool, float64, error) {
	var res struct {
		Done   bool    `json:"done"`
		Profit float64 `json:"profit"`
	}
	err := b.callInto(ctx, "check_result", map[string]any{"order_id": orderID, "type": string(typ)}, &res)
	if err != nil {
		return false, 0, err
	}
	return res.Done, res.Profit, nil
}

func (b *BridgeConn) Disconnect() error {
	b.mu.Lock()
	ws := b.ws
	b.ws = nil
	b.mu.Unlock()
	if ws == nil {
		return nil
	}

	b.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()
	return ws.Close()
}

func (b *BridgeConn) callInto(ctx context.Context, method string, params map[string]any, out any) error {
	raw, err := b.call(ctx, method, params)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty %s result", ErrConnectionLost, method)
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		if method == "candles" {
			return fmt.Errorf("%w: %v", ErrBadCandles, err)
		}
		return fmt.Errorf("解析 %s 应答失败: %w", method, err)
	}
	return nil
}

func (b *BridgeConn) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	ws := b.ws
	if ws == nil {
		b.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := strconv.FormatUint(b.seq.Add(1), 10)
	ch := make(chan bridgeResponse, 1)
	b.pending[id] = pendingCall{ws: ws, ch: ch}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	frame, err := sonic.Marshal(bridgeRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("序列化 %s 请求失败: %w", method, err)
	}

	b.writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(b.timeout))
	err = ws.WriteMessage(websocket.TextMessage, frame)
	b.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrConnectionLost, method, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s 请求超时", ErrConnectionLost, method)
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: %s 连接已关闭", ErrConnectionLost, method)
		}
		if !resp.OK {
			return nil, responseError(method, resp)
		}
		return resp.Result, nil
	}
}

func (b *BridgeConn) readLoop(ws *websocket.Conn) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				b.logger.Warn("桥接连接读取失败", zap.Error(err))
			}
			b.failPending(ws)
			return
		}

		var resp bridgeResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil {
			b.logger.Warn("桥接应答解析失败", zap.Error(err))
			continue
		}

		b.mu.Lock()
		pc, ok := b.pending[resp.ID]
		b.mu.Unlock()
		if ok && pc.ws == ws {
			pc.ch <- resp
		}
	}
}

// failPending 在连接断开后关闭该连接上所有等待中的请求。
func (b *BridgeConn) failPending(ws *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ws == ws {
		b.ws = nil
	}
	for id, pc := range b.pending {
		if pc.ws != ws {
			continue
		}
		close(pc.ch)
		delete(b.pending, id)
	}
}

func (b *BridgeConn) closeSocket() {
	if err := b.Disconnect(); err != nil {
		b.logger.Debug("关闭旧桥接连接失败", zap.Error(err))
	}
}

func responseError(method string, resp bridgeResponse) error {
	msg := resp.Error
	if msg == "" {
		msg = "unknown error"
	}
	var base error
	switch resp.Code {
	case "auth_failed":
		base = ErrAuthFailed
	case "rejected":
		base = ErrOrderRejected
	case "asset_closed":
		base = ErrAssetClosed
	case "bad_candles":
		base = ErrBadCandles
	case "disconnected":
		base = ErrConnectionLost
	default:
		return errors.New(method + ": " + msg)
	}
	return fmt.Errorf("%w: %s: %s", base, method, msg)
}
