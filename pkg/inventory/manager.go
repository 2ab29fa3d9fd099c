package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Manager implements the LedgerService interface
// LedgerServiceインターフェースの実装
type Manager struct {
	storage   Storage        // ストレージ層
	publisher EventPublisher // イベント発行者
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
	now       func() time.Time

	ledger    *StockLedger
	priceBook *PriceBook
	ncrs      *NCRGenerator
	processor *TransactionProcessor
	transfers *TransferWorkflow
	periods   *PeriodManager
	recon     *ReconciliationEngine
}

// すべてのインターフェースを実装することを明示
var (
	_ LedgerService     = (*Manager)(nil)
	_ MasterDataManager = (*Manager)(nil)
)

// Config holds configuration for the ledger manager
// 台帳マネージャーの設定を保持
type Config struct {
	NCRPrefix               string           `yaml:"ncr_prefix"`                  // NCR番号の接頭辞
	CopyPricesOnRollForward bool             `yaml:"copy_prices_on_roll_forward"` // 繰越時に価格表を複写
	Clock                   func() time.Time `yaml:"-"`                           // 時刻取得（テスト用）
}

type contextKey string

// UserIDKey is the context key carrying the acting user
const UserIDKey contextKey = "user_id"

// WithUserID returns a context carrying the acting user ID
// 操作ユーザーIDをコンテキストに設定
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserFromContext extracts user ID from context
// コンテキストからユーザーIDを取得
func UserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		return userID
	}
	return "system"
}

// NewManager creates a new ledger manager
// 新しい台帳マネージャーを作成
func NewManager(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config) *Manager {
	if config == nil {
		config = &Config{
			NCRPrefix:               DefaultNCRPrefix,
			CopyPricesOnRollForward: true,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}

	ledger := NewStockLedger(logger, now)
	priceBook := NewPriceBook(now)
	ncrs := NewNCRGenerator(config.NCRPrefix, logger, now)
	recon := NewReconciliationEngine(ledger, logger, now)

	return &Manager{
		storage:   storage,
		publisher: publisher,
		logger:    logger,
		config:    config,
		now:       now,
		ledger:    ledger,
		priceBook: priceBook,
		ncrs:      ncrs,
		processor: NewTransactionProcessor(ledger, priceBook, ncrs, logger, now),
		transfers: NewTransferWorkflow(ledger, logger, now),
		periods:   NewPeriodManager(ledger, priceBook, recon, logger, now),
		recon:     recon,
	}
}

// PostDelivery posts a goods receipt
// 納品を計上
func (m *Manager) PostDelivery(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	user := UserFromContext(ctx)

	var result *DeliveryResult
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		result, err = m.processor.PostDelivery(ctx, tx, req, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	// イベント発行
	if m.publisher != nil {
		event := DeliveryPostedEvent{
			DeliveryID:  result.Delivery.ID,
			LocationID:  result.Delivery.LocationID,
			PeriodID:    result.Delivery.PeriodID,
			TotalAmount: result.Delivery.TotalAmount,
			LineCount:   len(result.Delivery.Lines),
			NCRCount:    len(result.NCRsCreated),
			Timestamp:   m.now(),
			UserID:      user,
		}
		if err := m.publisher.PublishDeliveryPosted(ctx, event); err != nil {
			m.logger.Error("イベント発行に失敗しました", zap.Error(err), zap.String("delivery_id", event.DeliveryID))
		}
		for _, ncr := range result.NCRsCreated {
			m.publishNCR(ctx, &ncr, user)
		}
	}
	return result, nil
}

// PostIssue posts a consumption
// 払出を計上
func (m *Manager) PostIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	user := UserFromContext(ctx)

	var issue *Issue
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		issue, err = m.processor.PostIssue(ctx, tx, req, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	if m.publisher != nil {
		event := IssuePostedEvent{
			IssueID:    issue.ID,
			LocationID: issue.LocationID,
			PeriodID:   issue.PeriodID,
			TotalValue: issue.TotalValue,
			LineCount:  len(issue.Lines),
			Timestamp:  m.now(),
			UserID:     user,
		}
		if err := m.publisher.PublishIssuePosted(ctx, event); err != nil {
			m.logger.Error("イベント発行に失敗しました", zap.Error(err), zap.String("issue_id", issue.ID))
		}
	}
	return issue, nil
}

// CreateTransfer creates a transfer awaiting approval
// 移動依頼を作成
func (m *Manager) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.FromLocationID == req.ToLocationID {
		return nil, ErrSameLocation
	}
	user := UserFromContext(ctx)

	var transfer *Transfer
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		transfer, err = m.transfers.Create(ctx, tx, req, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.publishTransfer(ctx, transfer, user)
	return transfer, nil
}

// ApproveTransfer approves and executes a pending transfer. Requires elevated capability.
// 移動依頼を承認して実行（上位権限が必要）
func (m *Manager) ApproveTransfer(ctx context.Context, transferID, approver string) (*Transfer, error) {
	if approver == "" {
		approver = UserFromContext(ctx)
	}

	var transfer *Transfer
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		transfer, err = m.transfers.Approve(ctx, tx, transferID, approver)
		return err
	})
	if err != nil {
		m.logger.Warn("移動依頼の承認に失敗しました", zap.String("transfer_id", transferID), zap.Error(err))
		return nil, err
	}
	m.publishTransfer(ctx, transfer, approver)
	return transfer, nil
}

// RejectTransfer rejects a pending transfer. Requires elevated capability.
// 移動依頼を却下（上位権限が必要）
func (m *Manager) RejectTransfer(ctx context.Context, transferID, approver, comment string) (*Transfer, error) {
	if approver == "" {
		approver = UserFromContext(ctx)
	}

	var transfer *Transfer
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		transfer, err = m.transfers.Reject(ctx, tx, transferID, approver, comment)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.publishTransfer(ctx, transfer, approver)
	return transfer, nil
}

// GetTransfer retrieves a transfer with its lines
// 移動依頼を取得
func (m *Manager) GetTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	var transfer *Transfer
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		transfer, err = tx.GetTransfer(ctx, transferID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get_transfer", "移動依頼の取得に失敗しました", err)
	}
	return transfer, nil
}

// CreatePeriod creates a DRAFT period
// 準備中の期間を作成
func (m *Manager) CreatePeriod(ctx context.Context, req CreatePeriodRequest) (*Period, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var period *Period
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		period, err = m.periods.Create(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.publishPeriod(ctx, period, UserFromContext(ctx))
	return period, nil
}

// SetPrice sets a locked price on a DRAFT period. Requires elevated capability.
// 準備中の期間に価格を設定（上位権限が必要）
func (m *Manager) SetPrice(ctx context.Context, req SetPriceRequest) (*PriceBookEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	user := UserFromContext(ctx)
	var entry *PriceBookEntry
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		entry, err = m.periods.SetPrice(ctx, tx, req, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ActivatePeriod opens a DRAFT period
// 準備中の期間を開始
func (m *Manager) ActivatePeriod(ctx context.Context, periodID string) (*Period, error) {
	return m.runPeriod(ctx, func(tx Store) (*Period, error) {
		return m.periods.Activate(ctx, tx, periodID)
	})
}

// OpenPeriod creates, prices and opens a period atomically
// 期間を作成して開始
func (m *Manager) OpenPeriod(ctx context.Context, req OpenPeriodRequest) (*Period, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	user := UserFromContext(ctx)
	return m.runPeriod(ctx, func(tx Store) (*Period, error) {
		return m.periods.Open(ctx, tx, req, user)
	})
}

// MarkLocationReady marks a location READY for close
// 拠点を準備完了にする
func (m *Manager) MarkLocationReady(ctx context.Context, periodID, locationID string) (*PeriodLocation, error) {
	user := UserFromContext(ctx)
	var pl *PeriodLocation
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		pl, err = m.periods.MarkReady(ctx, tx, periodID, locationID, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// ReopenLocation returns a READY location to OPEN
// 拠点を未完了に戻す
func (m *Manager) ReopenLocation(ctx context.Context, periodID, locationID string) (*PeriodLocation, error) {
	var pl *PeriodLocation
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		pl, err = m.periods.Reopen(ctx, tx, periodID, locationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// RequestClose requests closing of an OPEN period
// 締めを申請
func (m *Manager) RequestClose(ctx context.Context, periodID string) (*Period, error) {
	return m.runPeriod(ctx, func(tx Store) (*Period, error) {
		return m.periods.RequestClose(ctx, tx, periodID)
	})
}

// WithdrawClose withdraws a close request
// 締め申請を取り下げ
func (m *Manager) WithdrawClose(ctx context.Context, periodID string) (*Period, error) {
	return m.runPeriod(ctx, func(tx Store) (*Period, error) {
		return m.periods.WithdrawClose(ctx, tx, periodID)
	})
}

// ApproveClose approves a close request. Requires elevated capability.
// 締めを承認（上位権限が必要）
func (m *Manager) ApproveClose(ctx context.Context, periodID string) (*Period, error) {
	return m.runPeriod(ctx, func(tx Store) (*Period, error) {
		return m.periods.ApproveClose(ctx, tx, periodID)
	})
}

// ClosePeriod snapshots all locations and closes the period. Requires elevated capability.
// 期間を締める（上位権限が必要）
func (m *Manager) ClosePeriod(ctx context.Context, periodID string) (*PeriodCloseResult, error) {
	user := UserFromContext(ctx)
	var result *PeriodCloseResult
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		result, err = m.periods.Close(ctx, tx, periodID, user)
		return err
	})
	if err != nil {
		m.logger.Warn("期間の締めに失敗しました", zap.String("period_id", periodID), zap.Error(err))
		return nil, err
	}
	m.publishPeriod(ctx, result.Period, user)
	return result, nil
}

// RollForward opens the period following a closed one. Requires elevated capability.
// 次期間へ繰越（上位権限が必要）
func (m *Manager) RollForward(ctx context.Context, periodID string, opts RollForwardOptions) (*Period, error) {
	if err := validateRequest(opts); err != nil {
		return nil, err
	}
	opts.CopyPrices = opts.CopyPrices || m.config.CopyPricesOnRollForward
	user := UserFromContext(ctx)
	return m.runPeriod(ctx, func(tx Store) (*Period, error) {
		return m.periods.RollForward(ctx, tx, periodID, opts, user)
	})
}

// GetPeriod retrieves a period
// 期間を取得
func (m *Manager) GetPeriod(ctx context.Context, periodID string) (*Period, error) {
	var period *Period
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		period, err = tx.GetPeriod(ctx, periodID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	return period, nil
}

// ListPeriodLocations lists the locations of a period
// 期間の拠点一覧を取得
func (m *Manager) ListPeriodLocations(ctx context.Context, periodID string) ([]PeriodLocation, error) {
	var pls []PeriodLocation
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		if _, err := tx.GetPeriod(ctx, periodID); err != nil {
			return err
		}
		var err error
		pls, err = tx.ListPeriodLocations(ctx, periodID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list_period_locations", "期間の拠点一覧取得に失敗しました", err)
	}
	return pls, nil
}

// GetOrComputeReconciliation returns the saved reconciliation or a freshly computed one
// 照合を取得または計算
func (m *Manager) GetOrComputeReconciliation(ctx context.Context, periodID, locationID string) (*Reconciliation, bool, error) {
	var (
		rec  *Reconciliation
		auto bool
	)
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		rec, auto, err = m.recon.GetOrCompute(ctx, tx, periodID, locationID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, auto, nil
}

// SaveReconciliationAdjustments saves manual adjustments. Requires elevated capability.
// 照合の手動調整を保存（上位権限が必要）
func (m *Manager) SaveReconciliationAdjustments(ctx context.Context, req SaveAdjustmentsRequest) (*Reconciliation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	user := UserFromContext(ctx)
	var rec *Reconciliation
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		rec, err = m.recon.SaveAdjustments(ctx, tx, req, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordMandays records persons fed on one day
// 日別食数を記録
func (m *Manager) RecordMandays(ctx context.Context, req MandayRequest) (*MandayEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var entry *MandayEntry
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		entry, err = m.recon.RecordMandays(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreateManualNCR raises a user-entered NCR
// 手動の不適合報告を作成
func (m *Manager) CreateManualNCR(ctx context.Context, req ManualNCRRequest) (*NCR, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	user := UserFromContext(ctx)
	var ncr *NCR
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		ncr, err = m.ncrs.CreateManual(ctx, tx, req, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.publishNCR(ctx, ncr, user)
	return ncr, nil
}

// UpdateNCRStatus moves an NCR through its lifecycle
// 不適合報告のステータスを更新
func (m *Manager) UpdateNCRStatus(ctx context.Context, ncrID string, status NCRStatus, notes string) (*NCR, error) {
	var ncr *NCR
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		ncr, err = m.ncrs.UpdateStatus(ctx, tx, ncrID, status, notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.publishNCR(ctx, ncr, UserFromContext(ctx))
	return ncr, nil
}

// GetNCR retrieves an NCR
// 不適合報告を取得
func (m *Manager) GetNCR(ctx context.Context, ncrID string) (*NCR, error) {
	var ncr *NCR
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		ncr, err = tx.GetNCR(ctx, ncrID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get_ncr", "不適合報告の取得に失敗しました", err)
	}
	return ncr, nil
}

// GetStock gets current stock for an item at a location. Never-received items read as zero.
// 指定商品・ロケーションの在庫を取得
func (m *Manager) GetStock(ctx context.Context, locationID, itemID string) (*LocationStock, error) {
	var stock *LocationStock
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		stock, err = m.ledger.Read(ctx, tx, locationID, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stock, nil
}

// GetStockByLocation gets all stock rows at a location
// ロケーションの全在庫を取得
func (m *Manager) GetStockByLocation(ctx context.Context, locationID string) ([]LocationStock, error) {
	var stocks []LocationStock
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		stocks, err = tx.ListStockByLocation(ctx, locationID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list_stock", "在庫一覧取得に失敗しました", err)
	}
	return stocks, nil
}

// GetLocationValuation values a location's stock at WAC
// ロケーションの在庫評価額を取得
func (m *Manager) GetLocationValuation(ctx context.Context, locationID string) (*LocationValuation, error) {
	var valuation *LocationValuation
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		if _, err := tx.GetLocation(ctx, locationID); err != nil {
			return err
		}
		lines, total, err := m.ledger.Snapshot(ctx, tx, locationID)
		if err != nil {
			return err
		}
		valuation = &LocationValuation{LocationID: locationID, Lines: lines, TotalValue: total}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("valuation", "在庫評価に失敗しました", err)
	}
	return valuation, nil
}

// CreateItem creates a new item
// 新しい商品を作成
func (m *Manager) CreateItem(ctx context.Context, item *Item) error {
	if item != nil && item.ID == "" {
		item.ID = NewID()
	}
	if err := ValidateItem(item); err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now()
	}
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		return tx.CreateItem(ctx, item)
	})
	if err != nil {
		return wrapStorage("create_item", "商品作成に失敗しました", err)
	}
	m.logger.Info("商品を作成しました", zap.String("item_id", item.ID), zap.String("name", item.Name))
	return nil
}

// GetItem retrieves an item by ID
// IDで商品を取得
func (m *Manager) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var item *Item
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		item, err = tx.GetItem(ctx, itemID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get_item", "商品取得に失敗しました", err)
	}
	return item, nil
}

// CreateLocation creates a new location
// 新しいロケーションを作成
func (m *Manager) CreateLocation(ctx context.Context, location *Location) error {
	if location != nil && location.ID == "" {
		location.ID = NewID()
	}
	if err := ValidateLocation(location); err != nil {
		return err
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = m.now()
	}
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		return tx.CreateLocation(ctx, location)
	})
	if err != nil {
		return wrapStorage("create_location", "ロケーション作成に失敗しました", err)
	}
	m.logger.Info("ロケーションを作成しました", zap.String("location_id", location.ID), zap.String("name", location.Name))
	return nil
}

// GetLocation retrieves a location by ID
// IDでロケーションを取得
func (m *Manager) GetLocation(ctx context.Context, locationID string) (*Location, error) {
	var location *Location
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		location, err = tx.GetLocation(ctx, locationID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get_location", "ロケーション取得に失敗しました", err)
	}
	return location, nil
}

// ListLocations lists all locations
// ロケーション一覧を取得
func (m *Manager) ListLocations(ctx context.Context) ([]Location, error) {
	var locations []Location
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		locations, err = tx.ListLocations(ctx, false)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list_locations", "ロケーション一覧取得に失敗しました", err)
	}
	return locations, nil
}

func (m *Manager) runPeriod(ctx context.Context, fn func(tx Store) (*Period, error)) (*Period, error) {
	var period *Period
	err := m.storage.RunAtomically(ctx, func(tx Store) error {
		var err error
		period, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.publishPeriod(ctx, period, UserFromContext(ctx))
	return period, nil
}

func (m *Manager) publishTransfer(ctx context.Context, t *Transfer, user string) {
	if m.publisher == nil {
		return
	}
	event := TransferChangedEvent{
		TransferID:     t.ID,
		FromLocationID: t.FromLocationID,
		ToLocationID:   t.ToLocationID,
		Status:         t.Status,
		TotalValue:     t.TotalValue,
		Timestamp:      m.now(),
		UserID:         user,
	}
	if err := m.publisher.PublishTransferChanged(ctx, event); err != nil {
		m.logger.Error("イベント発行に失敗しました", zap.Error(err), zap.String("transfer_id", t.ID))
	}
}

func (m *Manager) publishNCR(ctx context.Context, n *NCR, user string) {
	if m.publisher == nil {
		return
	}
	event := NCRChangedEvent{
		NCRID:         n.ID,
		NCRNumber:     n.NCRNumber,
		Type:          n.Type,
		Status:        n.Status,
		AutoGenerated: n.AutoGenerated,
		Value:         n.Value,
		Timestamp:     m.now(),
		UserID:        user,
	}
	if err := m.publisher.PublishNCRChanged(ctx, event); err != nil {
		m.logger.Error("イベント発行に失敗しました", zap.Error(err), zap.String("ncr_id", n.ID))
	}
}

func (m *Manager) publishPeriod(ctx context.Context, p *Period, user string) {
	if m.publisher == nil {
		return
	}
	event := PeriodChangedEvent{
		PeriodID:  p.ID,
		Status:    p.Status,
		Timestamp: m.now(),
		UserID:    user,
	}
	if err := m.publisher.PublishPeriodChanged(ctx, event); err != nil {
		m.logger.Error("イベント発行に失敗しました", zap.Error(err), zap.String("period_id", p.ID))
	}
}
