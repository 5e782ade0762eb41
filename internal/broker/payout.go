package broker

import (
	"sync"
	"time"
)

type payoutEntry struct {
	value     Payout
	fetchedAt time.Time
}

// payoutCache 按资产缓存收益率，过期后需重新查询。
type payoutCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]payoutEntry
}

func newPayoutCache(ttl time.Duration) *payoutCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &payoutCache{
		ttl:     ttl,
		entries: make(map[string]payoutEntry),
	}
}

// get 返回未过期的缓存值。
func (c *payoutCache) get(asset string, now time.Time) (Payout, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[asset]
	if !ok || now.Sub(entry.fetchedAt) >= c.ttl {
		return Payout{}, false
	}
	return entry.value, true
}

// stale 返回任意时间写入的缓存值，用于查询失败时兜底。
func (c *payoutCache) stale(asset string) (Payout, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[asset]
	return entry.value, ok
}

func (c *payoutCache) put(asset string, value Payout, now time.Time) {
	c.mu.Lock()
	c.entries[asset] = payoutEntry{value: value, fetchedAt: now}
	c.mu.Unlock()
}
