package exit

import (
	"context"
	"sync"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// TrackerRepository - персистентность трекера без гарантии эксклюзивного
// доступа; реализуется репозиторием поверх базы данных.
type TrackerRepository interface {
	Get(ctx context.Context, trackerID int64) (*models.Tracker, error)
	Update(ctx context.Context, tracker *models.Tracker) error
}

// TrackerStore - персистентность трекера с пессимистической блокировкой на
// время мутации fn. Это либо блокировка строки на уровне БД (репозиторий
// Postgres), либо её эквивалент в процессе, если слой хранения не умеет
// блокировать строки.
type TrackerStore interface {
	WithLock(ctx context.Context, trackerID int64, fn func(tracker *models.Tracker) error) error
}

// KeyedMutexStore оборачивает TrackerRepository поимённой мьютекс-блокировкой
// на процесс: один мьютекс на trackerID, создаваемый лениво. Используется,
// когда слой хранения (или его тестовый двойник) не поддерживает SELECT ...
// FOR UPDATE - семантика эквивалентна блокировке строки в пределах процесса.
type KeyedMutexStore struct {
	repo TrackerRepository

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewKeyedMutexStore оборачивает repo в TrackerStore с поимённой блокировкой.
func NewKeyedMutexStore(repo TrackerRepository) *KeyedMutexStore {
	return &KeyedMutexStore{repo: repo, locks: make(map[int64]*sync.Mutex)}
}

func (s *KeyedMutexStore) lockFor(trackerID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[trackerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[trackerID] = l
	}
	return l
}

// WithLock сериализует все мутации одного trackerID. fn получает указатель
// на трекер, мутирует его на месте; если fn возвращает nil, результат
// персистируется через repo.Update.
func (s *KeyedMutexStore) WithLock(ctx context.Context, trackerID int64, fn func(*models.Tracker) error) error {
	lock := s.lockFor(trackerID)
	lock.Lock()
	defer lock.Unlock()

	tracker, err := s.repo.Get(ctx, trackerID)
	if err != nil {
		return err
	}
	if err := fn(tracker); err != nil {
		return err
	}
	return s.repo.Update(ctx, tracker)
}
