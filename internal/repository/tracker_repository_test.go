package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamtaywade82/riskcore/internal/errs"
	"github.com/shubhamtaywade82/riskcore/internal/models"
)

func newMockRepo(t *testing.T) (*TrackerRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTrackerRepository(db), mock
}

func trackerRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "order_no", "security_id", "segment", "symbol", "side", "quantity", "entry_price", "avg_price",
		"status", "last_pnl_rupees", "last_pnl_pct", "high_water_mark", "exit_price", "exit_reason", "meta",
		"created_at", "updated_at",
	}).AddRow(
		int64(1), "ORD-1", "49081", "NSE_FNO", "NIFTY", "long_ce", 75, "100", "100",
		"active", "0", 0.0, 0.0, "0", "", []byte(`{"paper":"true"}`),
		now, now,
	)
}

func TestTrackerRepository_Get(t *testing.T) {
	now := time.Now()
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM trackers WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(trackerRow(now))

	tracker, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tracker.ID)
	assert.Equal(t, models.StatusActive, tracker.Status)
	assert.Equal(t, "true", tracker.Meta["paper"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRepository_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM trackers WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 99)
	assert.ErrorIs(t, err, errs.ErrTrackerNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO trackers`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	tracker := &models.Tracker{
		SecurityID: "49081", Segment: models.SegmentNSEFnO, Side: models.SideLongCE,
		Quantity: 75, EntryPrice: decimal.NewFromInt(100), Status: models.StatusPending,
	}
	id, err := repo.Create(context.Background(), tracker)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int64(7), tracker.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRepository_UpdateNoRowsAffected(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE trackers SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tracker := &models.Tracker{ID: 42, Status: models.StatusExited}
	err := repo.Update(context.Background(), tracker)
	assert.ErrorIs(t, err, errs.ErrTrackerNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRepository_GetManyEmptyIDsSkipsQuery(t *testing.T) {
	repo, mock := newMockRepo(t)

	out, err := repo.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet(), "no query must be issued for an empty id list")
}

func TestTrackerRepository_GetManyBatchesIntoOneQuery(t *testing.T) {
	now := time.Now()
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{
		"id", "order_no", "security_id", "segment", "symbol", "side", "quantity", "entry_price", "avg_price",
		"status", "last_pnl_rupees", "last_pnl_pct", "high_water_mark", "exit_price", "exit_reason", "meta",
		"created_at", "updated_at",
	}).AddRow(int64(1), "", "49081", "NSE_FNO", "NIFTY", "long_ce", 75, "100", "100", "active", "0", 0.0, 0.0, "0", "", []byte(`{}`), now, now).
		AddRow(int64(2), "", "49082", "NSE_FNO", "BANKNIFTY", "long_pe", 25, "200", "200", "active", "0", 0.0, 0.0, "0", "", []byte(`{}`), now, now)

	mock.ExpectQuery(`(?s)SELECT .+ FROM trackers WHERE id = ANY\(\$1\)`).
		WithArgs("{1,2}").
		WillReturnRows(rows)

	out, err := repo.GetMany(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Contains(t, out, int64(1))
	assert.Contains(t, out, int64(2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRepository_ActiveSameSide(t *testing.T) {
	now := time.Now()
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM trackers\s+WHERE status = \$1 AND segment = \$2 AND security_id = \$3 AND side = \$4`).
		WithArgs(models.StatusActive, models.SegmentNSEFnO, "49081", models.SideLongCE).
		WillReturnRows(trackerRow(now))

	out, err := repo.ActiveSameSide(context.Background(), models.SegmentNSEFnO, "49081", models.SideLongCE)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "49081", out[0].SecurityID)
	require.NoError(t, mock.ExpectationsWereMet())
}
