package gate

import (
	"sync"
	"time"
)

// Cadence 描述策略的触发节奏：每个 Period 内从 Offset 开始、持续 Window 的窗口允许触发。
type Cadence struct {
	Key    string
	Period time.Duration
	Offset time.Duration
	Window time.Duration
	// Lead 为窗口开启前允许预计算信号的提前量，0 表示不预计算。
	Lead time.Duration
}

// Every 返回每个 period 在 offset 处开窗的节奏。
func Every(key string, period, offset, window time.Duration) Cadence {
	return Cadence{Key: key, Period: period, Offset: offset, Window: window}
}

func (c Cadence) valid() bool {
	return c.Period > 0 && c.Window > 0 && c.Window < c.Period
}

// locate 返回时间点所在周期索引及其在周期内的相位。
func (c Cadence) locate(ts time.Time) (int64, time.Duration) {
	per := c.Period.Milliseconds()
	shifted := ts.UnixMilli() - c.Offset.Milliseconds()
	idx := floorDiv(shifted, per)
	phase := shifted - idx*per
	return idx, time.Duration(phase) * time.Millisecond
}

// Gate 记录每个节奏键最近一次触发的周期索引，保证每个周期至多触发一次。
type Gate struct {
	mu          sync.Mutex
	cadences    map[string]Cadence
	lastFired   map[string]int64
	precomputed map[string]int64
}

// New 创建 Gate 并注册给定节奏。
func New(cadences ...Cadence) *Gate {
	g := &Gate{
		cadences:    make(map[string]Cadence),
		lastFired:   make(map[string]int64),
		precomputed: make(map[string]int64),
	}
	for _, c := range cadences {
		g.Register(c)
	}
	return g
}

// Register 注册或替换节奏，已记录的触发状态保留。
func (g *Gate) Register(c Cadence) {
	g.mu.Lock()
	g.cadences[c.Key] = c
	g.mu.Unlock()
}

// ShouldFire 判断当前时间是否处于窗口内且本周期尚未触发；返回 true 时原子地记录周期索引。
func (g *Gate) ShouldFire(ts time.Time, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.cadences[key]
	if !ok || !c.valid() {
		return false
	}

	idx, phase := c.locate(ts)
	if phase >= c.Window {
		return false
	}
	if last, fired := g.lastFired[key]; fired && last >= idx {
		return false
	}

	g.lastFired[key] = idx
	return true
}

// Index 返回时间点所在的周期索引。
func (g *Gate) Index(ts time.Time, key string) int64 {
	g.mu.Lock()
	c, ok := g.cadences[key]
	g.mu.Unlock()
	if !ok || !c.valid() {
		return 0
	}
	idx, _ := c.locate(ts)
	return idx
}

// WindowStart 返回 target 周期入场窗口的开启时间。
func (g *Gate) WindowStart(key string, target int64) time.Time {
	g.mu.Lock()
	c, ok := g.cadences[key]
	g.mu.Unlock()
	if !ok || !c.valid() {
		return time.Time{}
	}
	ms := target*c.Period.Milliseconds() + c.Offset.Milliseconds()
	return time.UnixMilli(ms).UTC()
}

// PrecomputeDue 在下一个窗口开启前 Lead 时间内返回目标周期索引，每个目标至多返回一次。
func (g *Gate) PrecomputeDue(ts time.Time, key string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.cadences[key]
	if !ok || !c.valid() || c.Lead <= 0 {
		return 0, false
	}

	idx, phase := c.locate(ts)
	if phase < c.Window || c.Period-phase > c.Lead {
		return 0, false
	}

	target := idx + 1
	if last, done := g.precomputed[key]; done && last >= target {
		return 0, false
	}
	g.precomputed[key] = target
	return target, true
}

// Reset 清除某个键的触发记录。
func (g *Gate) Reset(key string) {
	g.mu.Lock()
	delete(g.lastFired, key)
	delete(g.precomputed, key)
	g.mu.Unlock()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
