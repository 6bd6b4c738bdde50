// Package cache содержит горячий (in-memory) и тёплый (Redis) кэши тиков
// и PnL, плюс фоновый pruner устаревших записей.
package cache

import (
	"sync"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// TickCache - конкурентная карта (segment,sid) -> Tick. Доступ сериализуется
// одним sync.RWMutex на всю карту: чтения идут параллельно друг с другом,
// запись любого ключа ждёт текущих читателей. Этого достаточно, так как
// операции O(1) и не удерживают лок дольше присваивания.
type TickCache struct {
	mu    sync.RWMutex
	ticks map[models.InstrumentKey]models.Tick
}

// NewTickCache создаёт пустой TickCache.
func NewTickCache() *TickCache {
	return &TickCache{ticks: make(map[models.InstrumentKey]models.Tick)}
}

// Put записывает последний тик по ключу - last-write-wins.
func (c *TickCache) Put(tick models.Tick) {
	c.mu.Lock()
	c.ticks[tick.Key()] = tick
	c.mu.Unlock()
}

// Get возвращает последний известный тик по ключу.
func (c *TickCache) Get(key models.InstrumentKey) (models.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[key]
	return t, ok
}

// Delete удаляет запись - используется pruner'ом.
func (c *TickCache) Delete(key models.InstrumentKey) {
	c.mu.Lock()
	delete(c.ticks, key)
	c.mu.Unlock()
}

// Len возвращает текущее количество отслеживаемых инструментов.
func (c *TickCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ticks)
}

// Snapshot возвращает копию всех ключей и их тиков - используется
// pruner'ом, чтобы не удерживать лок во время сетевых операций.
func (c *TickCache) Snapshot() map[models.InstrumentKey]models.Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[models.InstrumentKey]models.Tick, len(c.ticks))
	for k, v := range c.ticks {
		out[k] = v
	}
	return out
}
