package broker

import (
	"strings"
	"time"
)

const (
	// TimeframeM1 为一分钟K线周期（秒）。
	TimeframeM1 = 60
	// TimeframeM5 为五分钟K线周期（秒）。
	TimeframeM5 = 300
)

// Direction 表示期权方向，空值代表无信号。
type Direction string

const (
	DirectionNone Direction = ""
	DirectionCall Direction = "call"
	DirectionPut  Direction = "put"
)

// Opposite 返回相反方向。
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionCall:
		return DirectionPut
	case DirectionPut:
		return DirectionCall
	default:
		return DirectionNone
	}
}

// OrderType 区分二元期权与数字期权。
type OrderType string

const (
	OrderTypeBinary  OrderType = "binary"
	OrderTypeDigital OrderType = "digital"
)

// AccountMode 表示模拟或真实账户。
type AccountMode string

const (
	AccountPractice AccountMode = "PRACTICE"
	AccountReal     AccountMode = "REAL"
)

// ParseAccountMode 解析账户模式，未知值按模拟账户处理。
func ParseAccountMode(s string) AccountMode {
	if strings.EqualFold(strings.TrimSpace(s), "real") {
		return AccountReal
	}
	return AccountPractice
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid 判断K线数据是否完整。
func (c Candle) Valid() bool {
	return c.Open > 0 && c.Close > 0 && c.High > 0 && c.Low > 0 && c.High >= c.Low && !c.Timestamp.IsZero()
}

// Payout 为资产的收益率（百分比）。
type Payout struct {
	Binary  float64
	Digital float64
}

// Best 返回两种类型中较高的收益率。
func (p Payout) Best() float64 {
	if p.Digital > p.Binary {
		return p.Digital
	}
	return p.Binary
}

// OrderRequest 描述一次下单请求。
type OrderRequest struct {
	Asset      string
	Stake      float64
	Direction  Direction
	Expiration int // 分钟
	Type       OrderType
	// Urgent 为 true 时数字期权在入场窗口内走同步快速通道。
	Urgent bool
}

// Order 为下单结果，Type 为实际生效的订单类型。
type Order struct {
	ID   string
	Type OrderType
}
