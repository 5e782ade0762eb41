package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type paperOrder struct {
	req     OrderRequest
	opened  time.Time
	expires time.Time
	entry   float64
	settled bool
	profit  float64
}

// PaperConn 是本地模拟连接：价格由种子确定的随机游走生成，订单在到期时按收盘价结算。
type PaperConn struct {
	seed  int64
	clock func() time.Time

	mu        sync.Mutex
	connected bool
	mode      AccountMode
	balances  map[AccountMode]float64
	orders    map[string]*paperOrder
	payouts   map[string]Payout
}

var _ Conn = (*PaperConn)(nil)

// NewPaperConn 创建模拟连接。
func NewPaperConn(seed int64) *PaperConn {
	return &PaperConn{
		seed:  seed,
		clock: time.Now,
		mode:  AccountPractice,
		balances: map[AccountMode]float64{
			AccountPractice: 10000,
			AccountReal:     0,
		},
		orders:  make(map[string]*paperOrder),
		payouts: make(map[string]Payout),
	}
}

// SetPayout 覆盖某资产的收益率。
func (p *PaperConn) SetPayout(asset string, payout Payout) {
	p.mu.Lock()
	p.payouts[asset] = payout
	p.mu.Unlock()
}

func (p *PaperConn) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return ctx.Err()
}

func (p *PaperConn) ChangeAccount(_ context.Context, mode AccountMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ErrNotConnected
	}
	p.mode = mode
	return nil
}

func (p *PaperConn) Balance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return 0, ErrNotConnected
	}
	return p.balances[p.mode], nil
}

func (p *PaperConn) ServerTime(context.Context) (time.Time, error) {
	return p.clock(), nil
}

func (p *PaperConn) Candles(_ context.Context, asset string, timeframe, count int, end time.Time) ([]Candle, error) {
	if timeframe <= 0 || count <= 0 {
		return nil, fmt.Errorf("%w: timeframe=%d count=%d", ErrBadCandles, timeframe, count)
	}
	step := time.Duration(timeframe) * time.Second
	end = end.Truncate(step)

	out := make([]Candle, 0, count)
	for i := count; i >= 1; i-- {
		start := end.Add(-time.Duration(i) * step)
		open := p.price(asset, start)
		closePrice := p.price(asset, start.Add(step))
		wick := math.Abs(closePrice-open)*0.5 + open*0.00005
		out = append(out, Candle{
			Timestamp: start.UTC(),
			Open:      open,
			High:      math.Max(open, closePrice) + wick,
			Low:       math.Min(open, closePrice) - wick,
			Close:     closePrice,
			Volume:    float64(100 + int(p.noise(asset, start.Unix())*50)),
		})
	}
	return out, nil
}

func (p *PaperConn) Payout(_ context.Context, asset string) (Payout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.payouts[asset]; ok {
		return v, nil
	}
	if strings.HasSuffix(strings.ToUpper(asset), "-OTC") {
		return Payout{Binary: 75, Digital: 78}, nil
	}
	return Payout{Binary: 80, Digital: 85}, nil
}

func (p *PaperConn) Buy(_ context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return "", ErrNotConnected
	}
	if req.Stake <= 0 || req.Expiration <= 0 {
		return "", fmt.Errorf("%w: stake=%.2f expiration=%d", ErrOrderRejected, req.Stake, req.Expiration)
	}
	if payout, ok := p.payouts[req.Asset]; ok && payout.Best() <= 0 {
		return "", fmt.Errorf("%w: %s", ErrAssetClosed, req.Asset)
	}

	now := p.clock()
	id := uuid.NewString()
	p.orders[id] = &paperOrder{
		req:     req,
		opened:  now,
		expires: now.Truncate(time.Minute).Add(time.Duration(req.Expiration) * time.Minute),
		entry:   p.price(req.Asset, now),
	}
	p.balances[p.mode] -= req.Stake
	return id, nil
}

func (p *PaperConn) CheckResult(_ context.Context, orderID string, typ OrderType) (bool, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return false, 0, fmt.Errorf("%w: unknown order %s", ErrOrderRejected, orderID)
	}
	if order.settled {
		return true, order.profit, nil
	}
	if p.clock().Before(order.expires) {
		return false, 0, nil
	}

	exit := p.price(order.req.Asset, order.expires)
	payout := p.payouts[order.req.Asset]
	if payout.Best() <= 0 {
		payout = Payout{Binary: 80, Digital: 85}
	}
	rate := payout.Binary
	if typ == OrderTypeDigital {
		rate = payout.Digital
	}

	switch {
	case exit == order.entry:
		order.profit = 0
		p.balances[p.mode] += order.req.Stake
	case (exit > order.entry) == (order.req.Direction == DirectionCall):
		order.profit = math.Round(order.req.Stake*rate) / 100
		p.balances[p.mode] += order.req.Stake + order.profit
	default:
		order.profit = -order.req.Stake
	}
	order.settled = true
	return true, order.profit, nil
}

func (p *PaperConn) Disconnect() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

// price 按分钟生成确定性价格，相邻分钟之间线性插值。
func (p *PaperConn) price(asset string, ts time.Time) float64 {
	minute := ts.Unix() / 60
	frac := float64(ts.Unix()%60) / 60
	a := p.level(asset, minute)
	b := p.level(asset, minute+1)
	return math.Round((a+(b-a)*frac)*1e5) / 1e5
}

func (p *PaperConn) level(asset string, minute int64) float64 {
	// 以小时为锚点做随机游走，避免逐分钟递归。
	anchor := minute - minute%60
	r := rand.New(rand.NewSource(p.seed ^ hashAsset(asset) ^ anchor))
	price := 1.1 + r.Float64()*0.002
	for m := anchor; m < minute; m++ {
		price *= 1 + (r.Float64()-0.5)*0.0006
	}
	return price
}

func (p *PaperConn) noise(asset string, n int64) float64 {
	r := rand.New(rand.NewSource(p.seed ^ hashAsset(asset) ^ n))
	return r.Float64()
}

func hashAsset(asset string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(asset))
	return int64(h.Sum64())
}
