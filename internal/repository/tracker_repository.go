// Package repository реализует персистентность трекеров поверх
// database/sql + lib/pq (таблица trackers): один репозиторий на
// таблицу, простые параметризованные запросы, ошибка sql.ErrNoRows
// транслируется в типизированную ошибку пакета errs.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"

	"github.com/shubhamtaywade82/riskcore/internal/errs"
	"github.com/shubhamtaywade82/riskcore/internal/models"
)

var metaJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const trackerColumns = `id, order_no, security_id, segment, symbol, side, quantity, entry_price, avg_price,
	status, last_pnl_rupees, last_pnl_pct, high_water_mark, exit_price, exit_reason, meta, created_at, updated_at`

// TrackerRepository - работа с таблицей trackers. Реализует
// exit.TrackerRepository (Get/Update), entry.TrackerCreator (Create),
// entry.ExposureQuery (ActiveSameSide) и riskmanager/reconcile.TrackerRepository
// (ActiveTrackers/GetMany) одним типом - таблица одна, контракт один.
type TrackerRepository struct {
	db *sql.DB
}

// NewTrackerRepository оборачивает уже открытое соединение db.
func NewTrackerRepository(db *sql.DB) *TrackerRepository {
	return &TrackerRepository{db: db}
}

// Create вставляет новый трекер в статусе pending и заполняет его ID.
func (r *TrackerRepository) Create(ctx context.Context, tracker *models.Tracker) (int64, error) {
	meta, err := marshalMeta(tracker.Meta)
	if err != nil {
		return 0, fmt.Errorf("marshal tracker meta: %w", err)
	}

	const query = `
		INSERT INTO trackers (order_no, security_id, segment, symbol, side, quantity, entry_price, avg_price,
			status, last_pnl_rupees, last_pnl_pct, high_water_mark, exit_price, exit_reason, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		tracker.OrderNo, tracker.SecurityID, tracker.Segment, tracker.Symbol, tracker.Side, tracker.Quantity,
		tracker.EntryPrice, tracker.AvgPrice, tracker.Status, tracker.LastPnlRupees, tracker.LastPnlPct,
		tracker.HighWaterMark, tracker.ExitPrice, tracker.ExitReason, meta,
	).Scan(&tracker.ID)
	if err != nil {
		return 0, fmt.Errorf("insert tracker: %w", err)
	}
	return tracker.ID, nil
}

// Get возвращает трекер по id без блокировки строки - используется
// KeyedMutexStore, когда процесс сам сериализует доступ по trackerID.
func (r *TrackerRepository) Get(ctx context.Context, trackerID int64) (*models.Tracker, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+trackerColumns+` FROM trackers WHERE id = $1`, trackerID)
	return scanTracker(row)
}

// GetForUpdate возвращает трекер, заблокировав строку на время транзакции
// tx - для использования с SQLTrackerStore, когда хранилище само обеспечивает
// блокировку на уровне БД вместо процессного мьютекса.
func (r *TrackerRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, trackerID int64) (*models.Tracker, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+trackerColumns+` FROM trackers WHERE id = $1 FOR UPDATE`, trackerID)
	return scanTracker(row)
}

// Update персистирует все изменяемые поля трекера. Терминальные трекеры
// физически допускают UPDATE того же набора столбцов - инвариант "только
// exit_price/exit_reason/pnl меняемы после exit" проверяется на уровне
// вызывающего кода (ExitEngine), не здесь.
func (r *TrackerRepository) Update(ctx context.Context, tracker *models.Tracker) error {
	meta, err := marshalMeta(tracker.Meta)
	if err != nil {
		return fmt.Errorf("marshal tracker meta: %w", err)
	}

	const query = `
		UPDATE trackers SET
			order_no = $1, security_id = $2, segment = $3, symbol = $4, side = $5, quantity = $6,
			entry_price = $7, avg_price = $8, status = $9, last_pnl_rupees = $10, last_pnl_pct = $11,
			high_water_mark = $12, exit_price = $13, exit_reason = $14, meta = $15, updated_at = now()
		WHERE id = $16`

	result, err := r.db.ExecContext(ctx, query,
		tracker.OrderNo, tracker.SecurityID, tracker.Segment, tracker.Symbol, tracker.Side, tracker.Quantity,
		tracker.EntryPrice, tracker.AvgPrice, tracker.Status, tracker.LastPnlRupees, tracker.LastPnlPct,
		tracker.HighWaterMark, tracker.ExitPrice, tracker.ExitReason, meta, tracker.ID,
	)
	if err != nil {
		return fmt.Errorf("update tracker %d: %w", tracker.ID, err)
	}
	return checkRowsAffected(result, tracker.ID)
}

// UpdateTx - вариант Update, выполняемый внутри уже открытой транзакции tx
// (используется SQLTrackerStore.WithLock).
func (r *TrackerRepository) UpdateTx(ctx context.Context, tx *sql.Tx, tracker *models.Tracker) error {
	meta, err := marshalMeta(tracker.Meta)
	if err != nil {
		return fmt.Errorf("marshal tracker meta: %w", err)
	}

	const query = `
		UPDATE trackers SET
			order_no = $1, security_id = $2, segment = $3, symbol = $4, side = $5, quantity = $6,
			entry_price = $7, avg_price = $8, status = $9, last_pnl_rupees = $10, last_pnl_pct = $11,
			high_water_mark = $12, exit_price = $13, exit_reason = $14, meta = $15, updated_at = now()
		WHERE id = $16`

	result, err := tx.ExecContext(ctx, query,
		tracker.OrderNo, tracker.SecurityID, tracker.Segment, tracker.Symbol, tracker.Side, tracker.Quantity,
		tracker.EntryPrice, tracker.AvgPrice, tracker.Status, tracker.LastPnlRupees, tracker.LastPnlPct,
		tracker.HighWaterMark, tracker.ExitPrice, tracker.ExitReason, meta, tracker.ID,
	)
	if err != nil {
		return fmt.Errorf("update tracker %d: %w", tracker.ID, err)
	}
	return checkRowsAffected(result, tracker.ID)
}

// ActiveTrackers возвращает все трекеры в статусе active - источник для
// RiskManager.runCycle и Reconciliation.Run.
func (r *TrackerRepository) ActiveTrackers(ctx context.Context) ([]*models.Tracker, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+trackerColumns+` FROM trackers WHERE status = $1 ORDER BY id`, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("query active trackers: %w", err)
	}
	defer rows.Close()
	return scanTrackers(rows)
}

// GetMany возвращает трекеры по набору id одним запросом - соблюдает
// инвариант "не более одного обращения к БД на трекер за цикл",
// позволяя RiskManager грузить пачку сразу вместо N отдельных Get.
func (r *TrackerRepository) GetMany(ctx context.Context, ids []int64) (map[int64]*models.Tracker, error) {
	out := make(map[int64]*models.Tracker, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+trackerColumns+` FROM trackers WHERE id = ANY($1)`, pqInt64Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query trackers batch: %w", err)
	}
	defer rows.Close()

	trackers, err := scanTrackers(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range trackers {
		out[t.ID] = t
	}
	return out, nil
}

// ActiveSameSide возвращает активные трекеры того же инструмента и той же
// стороны - используется EntryGuard для проверки exposure/pyramiding.
func (r *TrackerRepository) ActiveSameSide(ctx context.Context, segment models.Segment, securityID string, side models.Side) ([]*models.Tracker, error) {
	const query = `SELECT ` + trackerColumns + ` FROM trackers
		WHERE status = $1 AND segment = $2 AND security_id = $3 AND side = $4
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, models.StatusActive, segment, securityID, side)
	if err != nil {
		return nil, fmt.Errorf("query active same side trackers: %w", err)
	}
	defer rows.Close()
	return scanTrackers(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTracker(row rowScanner) (*models.Tracker, error) {
	tracker := &models.Tracker{}
	var meta []byte
	err := row.Scan(
		&tracker.ID, &tracker.OrderNo, &tracker.SecurityID, &tracker.Segment, &tracker.Symbol, &tracker.Side,
		&tracker.Quantity, &tracker.EntryPrice, &tracker.AvgPrice, &tracker.Status, &tracker.LastPnlRupees,
		&tracker.LastPnlPct, &tracker.HighWaterMark, &tracker.ExitPrice, &tracker.ExitReason, &meta,
		&tracker.CreatedAt, &tracker.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrTrackerNotFound
		}
		return nil, fmt.Errorf("scan tracker: %w", err)
	}
	tracker.Meta, err = unmarshalMeta(meta)
	if err != nil {
		return nil, fmt.Errorf("unmarshal tracker meta: %w", err)
	}
	return tracker, nil
}

func scanTrackers(rows *sql.Rows) ([]*models.Tracker, error) {
	var out []*models.Tracker
	for rows.Next() {
		tracker, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tracker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trackers: %w", err)
	}
	return out, nil
}

func checkRowsAffected(result sql.Result, trackerID int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for tracker %d: %w", trackerID, err)
	}
	if affected == 0 {
		return errs.ErrTrackerNotFound
	}
	return nil
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	return metaJSON.Marshal(meta)
}

func unmarshalMeta(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	meta := map[string]string{}
	if err := metaJSON.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}

// pqInt64Array форматирует ids в литерал массива Postgres для ANY($1) -
// минимальная замена pq.Array, чтобы не тянуть лишний символ из lib/pq
// (который экспортирует его только для database/sql/driver.Valuer путей).
func pqInt64Array(ids []int64) string {
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", id)
	}
	return out + "}"
}
