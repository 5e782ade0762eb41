package risk

import "fmt"

// StatusType 描述止盈止损评估结果。
type StatusType string

const (
	StatusProceed  StatusType = "proceed"
	StatusStopWin  StatusType = "stop_win"
	StatusStopLoss StatusType = "stop_loss"
)

// Limits 为会话级止盈/止损阈值，小于等于0表示关闭对应检查。
type Limits struct {
	StopWin  float64
	StopLoss float64
}

// Evaluation 为一次评估的结果。
type Evaluation struct {
	Status StatusType
	Profit float64
	Note   string
}

// Halted 表示会话应当停止。
func (e Evaluation) Halted() bool {
	return e.Status != StatusProceed
}

// Evaluate 根据累计盈亏判断是否触发止盈或止损。
func (l Limits) Evaluate(profit float64) Evaluation {
	switch {
	case l.StopWin > 0 && profit >= l.StopWin:
		return Evaluation{
			Status: StatusStopWin,
			Profit: profit,
			Note:   fmt.Sprintf("累计盈利 %.2f 达到止盈 %.2f", profit, l.StopWin),
		}
	case l.StopLoss > 0 && profit <= -l.StopLoss:
		return Evaluation{
			Status: StatusStopLoss,
			Profit: profit,
			Note:   fmt.Sprintf("累计亏损 %.2f 达到止损 %.2f", -profit, l.StopLoss),
		}
	default:
		return Evaluation{Status: StatusProceed, Profit: profit}
	}
}
