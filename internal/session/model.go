package session

import (
	"math"
	"time"

	"binary-trader/internal/broker"
	"binary-trader/internal/execution"
)

// Status 为会话生命周期状态。
type Status string

const (
	StatusStopped Status = "STOPPED"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
	StatusError   Status = "ERROR"
)

// transitions 为允许的状态迁移。
var transitions = map[Status][]Status{
	StatusStopped: {StatusRunning},
	StatusRunning: {StatusPaused, StatusStopped, StatusError},
	StatusPaused:  {StatusRunning, StatusStopped},
	StatusError:   {StatusStopped},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session 为一个用户交易会话的快照，只由所属 Runner 修改。
type Session struct {
	ID               string
	UserID           string
	Strategy         string
	Asset            string
	AlternativeAsset string
	// ActiveAsset 为最近一次下单使用的资产，主资产休市时切换为备选资产。
	ActiveAsset    string
	AccountMode    broker.AccountMode
	Status         Status
	InitialBalance float64
	CurrentBalance float64
	Profit         float64
	Total          int
	Wins           int
	Losses         int
	Draws          int
	Soros          execution.SorosState
	StopReason     string
	StartedAt      time.Time
	StoppedAt      time.Time
	UpdatedAt      time.Time
}

// WinRate 返回胜率百分比。
func (s Session) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Total) * 100
}

// Active 表示会话仍有工作协程在运行。
func (s Session) Active() bool {
	return s.Status == StatusRunning || s.Status == StatusPaused
}

// apply 将序列结果累加到会话计数。
func (s *Session) apply(out execution.SeriesOutcome) {
	wins, losses, draws := out.Counts()
	s.Wins += wins
	s.Losses += losses
	s.Draws += draws
	s.Total += wins + losses + draws
	s.Profit = roundCents(s.Profit + out.Net)
	s.Soros = out.Soros
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
