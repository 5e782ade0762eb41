package gate

import "sync"

type cached[T any] struct {
	target int64
	value  T
}

// Cache 保存按目标周期索引预计算的值，只有目标周期与实际触发周期一致时才可取出。
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]cached[T]
}

// NewCache 创建预计算缓存。
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[string]cached[T])}
}

// Put 写入 key 在 target 周期的预计算值，覆盖旧值。
func (c *Cache[T]) Put(key string, target int64, value T) {
	c.mu.Lock()
	c.entries[key] = cached[T]{target: target, value: value}
	c.mu.Unlock()
}

// Take 取出并删除 key 的预计算值；目标周期不匹配时丢弃旧值并返回 false。
func (c *Cache[T]) Take(key string, period int64) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	delete(c.entries, key)
	if entry.target != period {
		return zero, false
	}
	return entry.value, true
}
