package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
)

func newMockStorage(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgreSQLStorageFromDB(db, zap.NewNop()), mock
}

func TestPostgres_RunAtomicallyCommits(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO items")).
		WithArgs("BEEF", "I01", "Beef", "kg", "meat", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		return tx.CreateItem(ctx, &inventory.Item{
			ID: "BEEF", Code: "I01", Name: "Beef", Unit: "kg", Category: "meat", IsActive: true,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UniqueViolationRollsBack(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO locations")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		return tx.CreateLocation(ctx, &inventory.Location{ID: "KITCHEN", Type: inventory.LocationTypeKitchen})
	})
	assert.ErrorIs(t, err, inventory.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RollsBackOnPanic(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = store.RunAtomically(context.Background(), func(inventory.Store) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BeginFailure(t *testing.T) {
	store, mock := newMockStorage(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	called := false
	err := store.RunAtomically(context.Background(), func(inventory.Store) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_NotFoundSentinels(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "unit", "category", "is_active", "created_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM location_stock")).
		WithArgs("KITCHEN", "NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"location_id", "item_id", "quantity", "wac", "updated_at"}))
	mock.ExpectCommit()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		_, err := tx.GetItem(ctx, "NOPE")
		assert.ErrorIs(t, err, inventory.ErrItemNotFound)
		_, err = tx.GetStock(ctx, "KITCHEN", "NOPE")
		assert.ErrorIs(t, err, inventory.ErrStockNotFound)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetStockScansDecimals(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()
	updated := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM location_stock")).
		WithArgs("KITCHEN", "BEEF").
		WillReturnRows(sqlmock.NewRows([]string{"location_id", "item_id", "quantity", "wac", "updated_at"}).
			AddRow("KITCHEN", "BEEF", "150.0000", "6.0000", updated))
	mock.ExpectCommit()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		stock, err := tx.GetStock(ctx, "KITCHEN", "BEEF")
		require.NoError(t, err)
		assert.True(t, stock.Quantity.Equal(decimal.NewFromInt(150)))
		assert.True(t, stock.WAC.Equal(decimal.NewFromInt(6)))
		assert.Equal(t, updated, stock.UpdatedAt)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LockStockTakesAdvisoryLock(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))")).
		WithArgs("KITCHEN", "BEEF").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		return tx.LockStock(ctx, "KITCHEN", "BEEF")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_NextNCRSequence(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO ncr_sequences")).
		WithArgs(2026).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(7))
	mock.ExpectCommit()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		seq, err := tx.NextNCRSequence(ctx, 2026)
		require.NoError(t, err)
		assert.Equal(t, 7, seq)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SumCompletedTransfers(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM transfers")).
		WithArgs("KITCHEN", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"in", "out"}).AddRow("0", "300.00"))
	mock.ExpectCommit()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		in, out, err := tx.SumCompletedTransfers(ctx, "KITCHEN", from, to)
		require.NoError(t, err)
		assert.True(t, in.IsZero())
		assert.True(t, out.Equal(decimal.NewFromInt(300)))
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgreSQLStorageFromDB(db, nil)

	mock.ExpectPing()
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ShareLocksForPostings(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM periods WHERE id = $1 FOR SHARE")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "start_date", "end_date", "status", "opened_at", "closed_at", "closed_by", "created_at"}).
			AddRow("p1", "2026-03", start, start.AddDate(0, 1, -1), "OPEN", start, nil, "", start))
	mock.ExpectQuery(regexp.QuoteMeta("FROM period_locations WHERE period_id = $1 AND location_id = $2 FOR SHARE")).
		WithArgs("p1", "KITCHEN").
		WillReturnRows(sqlmock.NewRows([]string{"period_id", "location_id", "status", "opening_value", "closing_value", "snapshot", "ready_at", "closed_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM period_locations WHERE period_id = $1 AND location_id = $2 FOR UPDATE")).
		WithArgs("p1", "KITCHEN").
		WillReturnRows(sqlmock.NewRows([]string{"period_id", "location_id", "status", "opening_value", "closing_value", "snapshot", "ready_at", "closed_at"}))
	mock.ExpectCommit()

	err := store.RunAtomically(ctx, func(tx inventory.Store) error {
		period, err := tx.GetPeriodForShare(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, inventory.PeriodStatusOpen, period.Status)

		_, err = tx.GetPeriodLocationForShare(ctx, "p1", "KITCHEN")
		assert.ErrorIs(t, err, inventory.ErrPeriodLocationNotFound)
		_, err = tx.GetPeriodLocationForUpdate(ctx, "p1", "KITCHEN")
		assert.ErrorIs(t, err, inventory.ErrPeriodLocationNotFound)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
