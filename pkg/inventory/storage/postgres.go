package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
)

// PostgreSQLStorage implements the Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewPostgreSQLStorageFromDB(db, logger), nil
}

// NewPostgreSQLStorageFromDB wraps an already opened database handle
// 既に開かれたデータベースハンドルをラップ
func NewPostgreSQLStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{
		db:     db,
		logger: logger,
	}
}

// RunAtomically runs fn inside one database transaction. The transaction is
// rolled back when fn returns an error or panics.
// 1つのデータベーストランザクション内でfnを実行
func (s *PostgreSQLStorage) RunAtomically(ctx context.Context, fn func(tx inventory.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// Ping checks database connectivity
// データベース接続を確認
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

var _ inventory.Storage = (*PostgreSQLStorage)(nil)

// pgTx is the Store view of one open transaction
type pgTx struct {
	tx *sql.Tx
}

var _ inventory.Store = (*pgTx)(nil)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func duplicate(what string) error {
	return fmt.Errorf("%sは既に存在します: %w", what, inventory.ErrDuplicate)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// CreateItem creates a new item
// 新しい商品を作成
func (t *pgTx) CreateItem(ctx context.Context, item *inventory.Item) error {
	query := `
		INSERT INTO items (id, code, name, unit, category, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.ExecContext(ctx, query,
		item.ID, item.Code, item.Name, item.Unit, item.Category, item.IsActive, item.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("商品")
		}
		return fmt.Errorf("商品作成に失敗しました: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID
// IDで商品を取得
func (t *pgTx) GetItem(ctx context.Context, itemID string) (*inventory.Item, error) {
	query := `
		SELECT id, code, name, unit, category, is_active, created_at
		FROM items WHERE id = $1`

	var item inventory.Item
	err := t.tx.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID, &item.Code, &item.Name, &item.Unit, &item.Category, &item.IsActive, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrItemNotFound
		}
		return nil, fmt.Errorf("商品取得に失敗しました: %w", err)
	}
	return &item, nil
}

// CreateLocation creates a new location
// 新しいロケーションを作成
func (t *pgTx) CreateLocation(ctx context.Context, location *inventory.Location) error {
	query := `
		INSERT INTO locations (id, code, name, type, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := t.tx.ExecContext(ctx, query,
		location.ID, location.Code, location.Name, string(location.Type), location.IsActive, location.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("ロケーション")
		}
		return fmt.Errorf("ロケーション作成に失敗しました: %w", err)
	}
	return nil
}

// GetLocation retrieves a location by ID
// IDでロケーションを取得
func (t *pgTx) GetLocation(ctx context.Context, locationID string) (*inventory.Location, error) {
	query := `
		SELECT id, code, name, type, is_active, created_at
		FROM locations WHERE id = $1`

	var loc inventory.Location
	var locType string
	err := t.tx.QueryRowContext(ctx, query, locationID).Scan(
		&loc.ID, &loc.Code, &loc.Name, &locType, &loc.IsActive, &loc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrLocationNotFound
		}
		return nil, fmt.Errorf("ロケーション取得に失敗しました: %w", err)
	}
	loc.Type = inventory.LocationType(locType)
	return &loc, nil
}

// ListLocations lists locations ordered by ID
// ロケーション一覧をID順で取得
func (t *pgTx) ListLocations(ctx context.Context, activeOnly bool) ([]inventory.Location, error) {
	query := `
		SELECT id, code, name, type, is_active, created_at
		FROM locations
		WHERE ($1 = FALSE OR is_active = TRUE)
		ORDER BY id`

	rows, err := t.tx.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("ロケーション一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var locations []inventory.Location
	for rows.Next() {
		var loc inventory.Location
		var locType string
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name, &locType, &loc.IsActive, &loc.CreatedAt); err != nil {
			return nil, fmt.Errorf("ロケーションデータの読み込みに失敗しました: %w", err)
		}
		loc.Type = inventory.LocationType(locType)
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// LockStock takes a transaction-scoped advisory lock on one (location, item)
// pair, so that rows that do not exist yet are serialised as well.
// 拠点×品目単位のトランザクションスコープのアドバイザリロックを取得
func (t *pgTx) LockStock(ctx context.Context, locationID, itemID string) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, locationID, itemID)
	if err != nil {
		return fmt.Errorf("在庫ロックの取得に失敗しました: %w", err)
	}
	return nil
}

// GetStock retrieves the stock row of an item at a location
// 拠点の品目在庫を取得
func (t *pgTx) GetStock(ctx context.Context, locationID, itemID string) (*inventory.LocationStock, error) {
	query := `
		SELECT location_id, item_id, quantity, wac, updated_at
		FROM location_stock
		WHERE location_id = $1 AND item_id = $2`

	var stock inventory.LocationStock
	err := t.tx.QueryRowContext(ctx, query, locationID, itemID).Scan(
		&stock.LocationID, &stock.ItemID, &stock.Quantity, &stock.WAC, &stock.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrStockNotFound
		}
		return nil, fmt.Errorf("在庫記録取得に失敗しました: %w", err)
	}
	return &stock, nil
}

// SaveStock upserts a stock row
// 在庫記録を登録または更新
func (t *pgTx) SaveStock(ctx context.Context, stock *inventory.LocationStock) error {
	query := `
		INSERT INTO location_stock (location_id, item_id, quantity, wac, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (location_id, item_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, wac = EXCLUDED.wac, updated_at = EXCLUDED.updated_at`

	_, err := t.tx.ExecContext(ctx, query,
		stock.LocationID, stock.ItemID, stock.Quantity, stock.WAC, stock.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("在庫記録更新に失敗しました: %w", err)
	}
	return nil
}

// ListStockByLocation lists all stock rows of a location
// 拠点別の在庫一覧を取得
func (t *pgTx) ListStockByLocation(ctx context.Context, locationID string) ([]inventory.LocationStock, error) {
	query := `
		SELECT location_id, item_id, quantity, wac, updated_at
		FROM location_stock
		WHERE location_id = $1
		ORDER BY item_id`

	rows, err := t.tx.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, fmt.Errorf("在庫一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stocks []inventory.LocationStock
	for rows.Next() {
		var stock inventory.LocationStock
		if err := rows.Scan(&stock.LocationID, &stock.ItemID, &stock.Quantity, &stock.WAC, &stock.UpdatedAt); err != nil {
			return nil, fmt.Errorf("在庫データの読み込みに失敗しました: %w", err)
		}
		stocks = append(stocks, stock)
	}
	return stocks, rows.Err()
}

const periodColumns = `id, name, start_date, end_date, status, opened_at, closed_at, closed_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (*inventory.Period, error) {
	var p inventory.Period
	var status string
	var openedAt, closedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &status, &openedAt, &closedAt, &p.ClosedBy, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = inventory.PeriodStatus(status)
	p.OpenedAt = timePtr(openedAt)
	p.ClosedAt = timePtr(closedAt)
	return &p, nil
}

// CreatePeriod creates a new period
// 新しい期間を作成
func (t *pgTx) CreatePeriod(ctx context.Context, period *inventory.Period) error {
	query := `
		INSERT INTO periods (` + periodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.ExecContext(ctx, query,
		period.ID, period.Name, period.StartDate, period.EndDate, string(period.Status),
		nullTime(period.OpenedAt), nullTime(period.ClosedAt), period.ClosedBy, period.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("期間")
		}
		return fmt.Errorf("期間作成に失敗しました: %w", err)
	}
	return nil
}

// GetPeriod retrieves a period by ID
// IDで期間を取得
func (t *pgTx) GetPeriod(ctx context.Context, periodID string) (*inventory.Period, error) {
	return t.getPeriod(ctx, `SELECT `+periodColumns+` FROM periods WHERE id = $1`, periodID)
}

// GetPeriodForUpdate retrieves a period and locks its row
// 期間を取得し行ロックを取得
func (t *pgTx) GetPeriodForUpdate(ctx context.Context, periodID string) (*inventory.Period, error) {
	return t.getPeriod(ctx, `SELECT `+periodColumns+` FROM periods WHERE id = $1 FOR UPDATE`, periodID)
}

// GetPeriodForShare retrieves a period under a shared row lock
// 期間を共有ロック付きで取得（投入中の締めを防止）
func (t *pgTx) GetPeriodForShare(ctx context.Context, periodID string) (*inventory.Period, error) {
	return t.getPeriod(ctx, `SELECT `+periodColumns+` FROM periods WHERE id = $1 FOR SHARE`, periodID)
}

func (t *pgTx) getPeriod(ctx context.Context, query, periodID string) (*inventory.Period, error) {
	p, err := scanPeriod(t.tx.QueryRowContext(ctx, query, periodID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrPeriodNotFound
		}
		return nil, fmt.Errorf("期間取得に失敗しました: %w", err)
	}
	return p, nil
}

// UpdatePeriod updates an existing period
// 既存の期間を更新
func (t *pgTx) UpdatePeriod(ctx context.Context, period *inventory.Period) error {
	query := `
		UPDATE periods
		SET name = $2, start_date = $3, end_date = $4, status = $5, opened_at = $6, closed_at = $7, closed_by = $8
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query,
		period.ID, period.Name, period.StartDate, period.EndDate, string(period.Status),
		nullTime(period.OpenedAt), nullTime(period.ClosedAt), period.ClosedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("開始中の期間が既に存在します: %w", inventory.ErrInvalidStatusTransition)
		}
		return fmt.Errorf("期間更新に失敗しました: %w", err)
	}
	return requireRow(result, inventory.ErrPeriodNotFound)
}

// ListPeriods lists all periods ordered by start date
// 期間一覧を開始日順で取得
func (t *pgTx) ListPeriods(ctx context.Context) ([]inventory.Period, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+periodColumns+` FROM periods ORDER BY start_date, id`)
	if err != nil {
		return nil, fmt.Errorf("期間一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var periods []inventory.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("期間データの読み込みに失敗しました: %w", err)
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

const periodLocationColumns = `period_id, location_id, status, opening_value, closing_value, snapshot, ready_at, closed_at`

func scanPeriodLocation(row rowScanner) (*inventory.PeriodLocation, error) {
	var pl inventory.PeriodLocation
	var status string
	var closing decimal.NullDecimal
	var snapshot []byte
	var readyAt, closedAt sql.NullTime
	if err := row.Scan(&pl.PeriodID, &pl.LocationID, &status, &pl.OpeningValue, &closing, &snapshot, &readyAt, &closedAt); err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &pl.Snapshot); err != nil {
			return nil, fmt.Errorf("スナップショットのデコードに失敗しました: %w", err)
		}
	}
	pl.Status = inventory.PeriodLocationStatus(status)
	pl.ClosingValue = decimalPtr(closing)
	pl.ReadyAt = timePtr(readyAt)
	pl.ClosedAt = timePtr(closedAt)
	return &pl, nil
}

func encodeSnapshot(lines []inventory.StockSnapshotLine) ([]byte, error) {
	if lines == nil {
		lines = []inventory.StockSnapshotLine{}
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("スナップショットのエンコードに失敗しました: %w", err)
	}
	return b, nil
}

// CreatePeriodLocation registers a location in a period
// 期間に拠点を登録
func (t *pgTx) CreatePeriodLocation(ctx context.Context, pl *inventory.PeriodLocation) error {
	snapshot, err := encodeSnapshot(pl.Snapshot)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO period_locations (` + periodLocationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = t.tx.ExecContext(ctx, query,
		pl.PeriodID, pl.LocationID, string(pl.Status), pl.OpeningValue, nullDecimal(pl.ClosingValue),
		snapshot, nullTime(pl.ReadyAt), nullTime(pl.ClosedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("期間の拠点")
		}
		return fmt.Errorf("期間の拠点作成に失敗しました: %w", err)
	}
	return nil
}

// GetPeriodLocation retrieves one location of a period
// 期間の拠点を取得
func (t *pgTx) GetPeriodLocation(ctx context.Context, periodID, locationID string) (*inventory.PeriodLocation, error) {
	return t.getPeriodLocation(ctx, "", periodID, locationID)
}

// GetPeriodLocationForShare は拠点行を共有ロックで取得
func (t *pgTx) GetPeriodLocationForShare(ctx context.Context, periodID, locationID string) (*inventory.PeriodLocation, error) {
	return t.getPeriodLocation(ctx, " FOR SHARE", periodID, locationID)
}

// GetPeriodLocationForUpdate は拠点行を排他ロックで取得
func (t *pgTx) GetPeriodLocationForUpdate(ctx context.Context, periodID, locationID string) (*inventory.PeriodLocation, error) {
	return t.getPeriodLocation(ctx, " FOR UPDATE", periodID, locationID)
}

func (t *pgTx) getPeriodLocation(ctx context.Context, lock, periodID, locationID string) (*inventory.PeriodLocation, error) {
	query := `SELECT ` + periodLocationColumns + ` FROM period_locations WHERE period_id = $1 AND location_id = $2` + lock

	pl, err := scanPeriodLocation(t.tx.QueryRowContext(ctx, query, periodID, locationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrPeriodLocationNotFound
		}
		return nil, fmt.Errorf("期間の拠点取得に失敗しました: %w", err)
	}
	return pl, nil
}

// UpdatePeriodLocation updates one location of a period
// 期間の拠点を更新
func (t *pgTx) UpdatePeriodLocation(ctx context.Context, pl *inventory.PeriodLocation) error {
	snapshot, err := encodeSnapshot(pl.Snapshot)
	if err != nil {
		return err
	}

	query := `
		UPDATE period_locations
		SET status = $3, opening_value = $4, closing_value = $5, snapshot = $6, ready_at = $7, closed_at = $8
		WHERE period_id = $1 AND location_id = $2`

	result, err := t.tx.ExecContext(ctx, query,
		pl.PeriodID, pl.LocationID, string(pl.Status), pl.OpeningValue, nullDecimal(pl.ClosingValue),
		snapshot, nullTime(pl.ReadyAt), nullTime(pl.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("期間の拠点更新に失敗しました: %w", err)
	}
	return requireRow(result, inventory.ErrPeriodLocationNotFound)
}

// ListPeriodLocations lists the locations of a period
// 期間の拠点一覧を取得
func (t *pgTx) ListPeriodLocations(ctx context.Context, periodID string) ([]inventory.PeriodLocation, error) {
	query := `SELECT ` + periodLocationColumns + ` FROM period_locations WHERE period_id = $1 ORDER BY location_id`

	rows, err := t.tx.QueryContext(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("期間の拠点一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []inventory.PeriodLocation
	for rows.Next() {
		pl, err := scanPeriodLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("期間の拠点データの読み込みに失敗しました: %w", err)
		}
		list = append(list, *pl)
	}
	return list, rows.Err()
}

// GetPrice retrieves the price book entry of an item for a period
// 期間の品目単価を取得
func (t *pgTx) GetPrice(ctx context.Context, itemID, periodID string) (*inventory.PriceBookEntry, error) {
	query := `
		SELECT item_id, period_id, price, set_by, set_at
		FROM price_book WHERE item_id = $1 AND period_id = $2`

	var e inventory.PriceBookEntry
	err := t.tx.QueryRowContext(ctx, query, itemID, periodID).Scan(&e.ItemID, &e.PeriodID, &e.Price, &e.SetBy, &e.SetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrPriceNotFound
		}
		return nil, fmt.Errorf("価格表取得に失敗しました: %w", err)
	}
	return &e, nil
}

// SavePrice upserts a price book entry
// 価格表を登録または更新
func (t *pgTx) SavePrice(ctx context.Context, entry *inventory.PriceBookEntry) error {
	query := `
		INSERT INTO price_book (item_id, period_id, price, set_by, set_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, period_id)
		DO UPDATE SET price = EXCLUDED.price, set_by = EXCLUDED.set_by, set_at = EXCLUDED.set_at`

	_, err := t.tx.ExecContext(ctx, query, entry.ItemID, entry.PeriodID, entry.Price, entry.SetBy, entry.SetAt)
	if err != nil {
		return fmt.Errorf("価格表更新に失敗しました: %w", err)
	}
	return nil
}

// ListPrices lists the price book of a period
// 期間の価格表を取得
func (t *pgTx) ListPrices(ctx context.Context, periodID string) ([]inventory.PriceBookEntry, error) {
	query := `
		SELECT item_id, period_id, price, set_by, set_at
		FROM price_book WHERE period_id = $1 ORDER BY item_id`

	rows, err := t.tx.QueryContext(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("価格表一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []inventory.PriceBookEntry
	for rows.Next() {
		var e inventory.PriceBookEntry
		if err := rows.Scan(&e.ItemID, &e.PeriodID, &e.Price, &e.SetBy, &e.SetAt); err != nil {
			return nil, fmt.Errorf("価格表データの読み込みに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
