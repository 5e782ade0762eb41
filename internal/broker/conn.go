package broker

import (
	"context"
	"time"
)

// Conn 是与经纪商的一条原始连接，由具体驱动实现。
// 传输层异常应包装为 ErrConnectionLost，认证失败返回 ErrAuthFailed。
type Conn interface {
	Connect(ctx context.Context) error
	ChangeAccount(ctx context.Context, mode AccountMode) error
	Balance(ctx context.Context) (float64, error)
	ServerTime(ctx context.Context) (time.Time, error)
	// Candles 返回截至 end 的最近 count 根已收盘K线，按时间升序。
	Candles(ctx context.Context, asset string, timeframe, count int, end time.Time) ([]Candle, error)
	Payout(ctx context.Context, asset string) (Payout, error)
	Buy(ctx context.Context, req OrderRequest) (string, error)
	CheckResult(ctx context.Context, orderID string, typ OrderType) (bool, float64, error)
	Disconnect() error
}
