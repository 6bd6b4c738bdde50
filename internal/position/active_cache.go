// Package position содержит ActiveCache - реестр открытых позиций в
// памяти, на который опирается цикл RiskManager для чтения и обновления
// PnL без похода в БД на каждой итерации.
package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// Event - событие изменения состава ActiveCache, на которое может
// подписаться demand-driven будильник RiskManager'а.
type Event struct {
	Kind      string // "positions.added" | "positions.removed"
	TrackerID int64
}

// ActiveCache хранит tracker_id → PositionData плюс вторичный индекс
// sid → множество tracker_id, как того требует контракт
// Мутации сериализуются по каждому tracker'у отдельным замком внутри
// защищённого общим мьютексом отображения.
type ActiveCache struct {
	mu          sync.RWMutex
	positions   map[int64]*models.PositionData
	bySecurity  map[models.InstrumentKey]map[int64]struct{}
	trackerLock map[int64]*sync.Mutex

	eventsMu sync.Mutex
	events   chan Event
}

// NewActiveCache создаёт пустой ActiveCache. events может быть nil, если
// вызывающему коду не нужны уведомления о добавлении/удалении.
func NewActiveCache(events chan Event) *ActiveCache {
	return &ActiveCache{
		positions:   make(map[int64]*models.PositionData),
		bySecurity:  make(map[models.InstrumentKey]map[int64]struct{}),
		trackerLock: make(map[int64]*sync.Mutex),
		events:      events,
	}
}

func (c *ActiveCache) emit(kind string, trackerID int64) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- Event{Kind: kind, TrackerID: trackerID}:
	default:
		// канал событий - best-effort будильник, не накопитель; заполненный
		// канал означает, что кто-то и так скоро проснётся сам
	}
}

func (c *ActiveCache) lockFor(trackerID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.trackerLock[trackerID]
	if !ok {
		l = &sync.Mutex{}
		c.trackerLock[trackerID] = l
	}
	return l
}

// Add вставляет PositionData, заменяя существующую запись для того же
// tracker_id. Индексирует по SecurityID и шлёт positions.added.
func (c *ActiveCache) Add(pos *models.PositionData) {
	lock := c.lockFor(pos.TrackerID)
	lock.Lock()
	defer lock.Unlock()

	key := models.InstrumentKey{Segment: pos.Segment, SecurityID: pos.SecurityID}

	c.mu.Lock()
	c.positions[pos.TrackerID] = pos
	set, ok := c.bySecurity[key]
	if !ok {
		set = make(map[int64]struct{})
		c.bySecurity[key] = set
	}
	set[pos.TrackerID] = struct{}{}
	c.mu.Unlock()

	c.emit("positions.added", pos.TrackerID)
}

// Remove удаляет позицию по tracker_id и шлёт positions.removed.
func (c *ActiveCache) Remove(trackerID int64) {
	lock := c.lockFor(trackerID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	pos, ok := c.positions[trackerID]
	if ok {
		delete(c.positions, trackerID)
		key := models.InstrumentKey{Segment: pos.Segment, SecurityID: pos.SecurityID}
		if set, ok := c.bySecurity[key]; ok {
			delete(set, trackerID)
			if len(set) == 0 {
				delete(c.bySecurity, key)
			}
		}
	}
	delete(c.trackerLock, trackerID)
	c.mu.Unlock()

	if ok {
		c.emit("positions.removed", trackerID)
	}
}

// Update применяет mutator к позиции под per-tracker замком, атомарно
// относительно других обновлений того же tracker'а; возвращает false, если
// позиция не найдена.
func (c *ActiveCache) Update(trackerID int64, mutator func(*models.PositionData)) bool {
	lock := c.lockFor(trackerID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	pos, ok := c.positions[trackerID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	mutator(pos)
	return true
}

// GetByTrackerID возвращает позицию по tracker_id.
func (c *ActiveCache) GetByTrackerID(trackerID int64) (*models.PositionData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.positions[trackerID]
	return pos, ok
}

// BySecurityID возвращает tracker_id'ы всех позиций на данном инструменте.
func (c *ActiveCache) BySecurityID(segment models.Segment, securityID string) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.bySecurity[models.InstrumentKey{Segment: segment, SecurityID: securityID}]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// AllPositions возвращает снимок всех позиций - используется RiskManager
// для построения снимка цикла.
func (c *ActiveCache) AllPositions() []*models.PositionData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.PositionData, 0, len(c.positions))
	for _, pos := range c.positions {
		out = append(out, pos)
	}
	return out
}

// Len возвращает число активных позиций.
func (c *ActiveCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.positions)
}

// Protected реализует cache.ProtectedSet: тик инструмента с активной
// позицией никогда не должен вычищаться pruner'ом из TickCache/WarmCache.
func (c *ActiveCache) Protected(key models.InstrumentKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.bySecurity[key]
	return ok && len(set) > 0
}

// RecalculateFromTick обновляет PnL позиции по свежему LTP, если позиция
// подписана на данный инструмент - точка входа, которую дёргает
// MarketFeedHub listener или цикл RiskManager'а.
func (c *ActiveCache) RecalculateFromTick(segment models.Segment, securityID string, ltp decimal.Decimal, now time.Time) {
	for _, trackerID := range c.BySecurityID(segment, securityID) {
		c.Update(trackerID, func(pos *models.PositionData) {
			pos.RecalculatePnl(ltp, now)
		})
	}
}
