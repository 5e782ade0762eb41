package execution

import (
	"fmt"
	"math"
	"time"

	"binary-trader/internal/broker"
)

// Result 为单次下单的结果分类。
type Result string

const (
	ResultPending Result = "PENDING"
	ResultWin     Result = "WIN"
	ResultLoss    Result = "LOSS"
	ResultDraw    Result = "DRAW"
)

// Preference 为会话配置的订单类型偏好。
type Preference string

const (
	PreferBinary  Preference = "binary"
	PreferDigital Preference = "digital"
	PreferAuto    Preference = "auto"
)

// ParsePreference 解析订单类型偏好，空值视为 binary。
func ParsePreference(s string) Preference {
	switch Preference(s) {
	case PreferDigital, PreferAuto:
		return Preference(s)
	default:
		return PreferBinary
	}
}

// Operation 为一次下单尝试（首单或第 N 次马丁）。
type Operation struct {
	ID         string
	SessionID  string
	OrderID    string
	Asset      string
	Direction  broker.Direction
	Type       broker.OrderType
	Stake      float64
	Expiration int
	GaleLevel  int
	Result     Result
	Profit     float64
	// Timeout 表示结果等待超时，按全额亏损处理而非经纪商确认。
	Timeout  bool
	OpenedAt time.Time
	ClosedAt time.Time
}

// Kind 返回 ENTRY 或 GALEn。
func (o Operation) Kind() string {
	if o.GaleLevel == 0 {
		return "ENTRY"
	}
	return fmt.Sprintf("GALE%d", o.GaleLevel)
}

// SorosState 记录复利层级与累计复投金额，仅在 Level > 0 时 Value 非零。
type SorosState struct {
	Level int
	Value float64
}

// Stake 返回复利加成后的首单金额。
func (s SorosState) Stake(entry float64) float64 {
	if s.Level > 0 && s.Value > 0 {
		return round2(entry + s.Value)
	}
	return entry
}

// Apply 以序列净盈亏更新复利状态：非盈利时归零；盈利时层级加一并累加金额，
// 已达 maxLevels 时保持层级与金额不变。
func (s SorosState) Apply(net float64, maxLevels int) SorosState {
	if net <= 0 {
		return SorosState{}
	}
	if maxLevels > 0 && s.Level >= maxLevels {
		return s
	}
	return SorosState{Level: s.Level + 1, Value: round2(s.Value + net)}
}

// Settings 为会话的资金管理参数快照。
type Settings struct {
	EntryValue        float64
	MartingaleEnabled bool
	MartingaleLevels  int
	MartingaleFactor  float64
	SorosEnabled      bool
	SorosLevels       int
}

// Request 描述一次序列执行。
type Request struct {
	SessionID  string
	Asset      string
	Direction  broker.Direction
	Expiration int
	Preference Preference
	// Halted 在每次下单前以本序列已实现的净盈亏调用，返回 true 时中止序列。
	Halted func(net float64) bool
	// Stop 关闭后中断结果等待，订单保持未结算。
	Stop <-chan struct{}
}

// SeriesOutcome 为一个完整马丁序列的结果。
type SeriesOutcome struct {
	Operations []Operation
	Net        float64
	Final      Result
	// Aborted 表示序列因下单失败、停止或取消而提前结束。
	Aborted bool
	Err     error
	Soros   SorosState
}

func (o SeriesOutcome) count(r Result) int {
	n := 0
	for _, op := range o.Operations {
		if op.Result == r {
			n++
		}
	}
	return n
}

// Counts 返回序列内 win/loss/draw 次数。
func (o SeriesOutcome) Counts() (wins, losses, draws int) {
	return o.count(ResultWin), o.count(ResultLoss), o.count(ResultDraw)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
