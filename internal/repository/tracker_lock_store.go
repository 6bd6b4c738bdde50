package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shubhamtaywade82/riskcore/internal/models"
)

// SQLTrackerStore - альтернатива exit.KeyedMutexStore, которая блокирует
// строку на уровне базы данных (SELECT ... FOR UPDATE) вместо процессного
// мьютекса - пригодна, когда ExitEngine и Reconciliation работают в разных
// процессах и нуждаются в одной и той же эксклюзивности.
type SQLTrackerStore struct {
	db   *sql.DB
	repo *TrackerRepository
}

// NewSQLTrackerStore собирает store поверх db, используя repo для
// маршалинга/сканирования строки внутри транзакции.
func NewSQLTrackerStore(db *sql.DB, repo *TrackerRepository) *SQLTrackerStore {
	return &SQLTrackerStore{db: db, repo: repo}
}

// WithLock открывает транзакцию, блокирует строку trackerID, прогоняет fn
// и коммитит изменения - откатывая транзакцию целиком при любой ошибке.
func (s *SQLTrackerStore) WithLock(ctx context.Context, trackerID int64, fn func(tracker *models.Tracker) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tracker lock transaction: %w", err)
	}

	tracker, err := s.repo.GetForUpdate(ctx, tx, trackerID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(tracker); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := s.repo.UpdateTx(ctx, tx, tracker); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tracker lock transaction: %w", err)
	}
	return nil
}
