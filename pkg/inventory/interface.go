package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerService defines every operation of the stock ledger and period engine
// 在庫台帳・期間締めエンジンの全操作を定義
type LedgerService interface {
	// 取引計上 - Transaction posting
	PostDelivery(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error)
	PostIssue(ctx context.Context, req IssueRequest) (*Issue, error)

	// 拠点間移動 - Inter-location transfers
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	ApproveTransfer(ctx context.Context, transferID, approver string) (*Transfer, error)
	RejectTransfer(ctx context.Context, transferID, approver, comment string) (*Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (*Transfer, error)

	// 期間管理 - Period management
	CreatePeriod(ctx context.Context, req CreatePeriodRequest) (*Period, error)
	SetPrice(ctx context.Context, req SetPriceRequest) (*PriceBookEntry, error)
	ActivatePeriod(ctx context.Context, periodID string) (*Period, error)
	OpenPeriod(ctx context.Context, req OpenPeriodRequest) (*Period, error)
	MarkLocationReady(ctx context.Context, periodID, locationID string) (*PeriodLocation, error)
	ReopenLocation(ctx context.Context, periodID, locationID string) (*PeriodLocation, error)
	RequestClose(ctx context.Context, periodID string) (*Period, error)
	WithdrawClose(ctx context.Context, periodID string) (*Period, error)
	ApproveClose(ctx context.Context, periodID string) (*Period, error)
	ClosePeriod(ctx context.Context, periodID string) (*PeriodCloseResult, error)
	RollForward(ctx context.Context, periodID string, opts RollForwardOptions) (*Period, error)
	GetPeriod(ctx context.Context, periodID string) (*Period, error)
	ListPeriodLocations(ctx context.Context, periodID string) ([]PeriodLocation, error)

	// 照合 - Reconciliation
	GetOrComputeReconciliation(ctx context.Context, periodID, locationID string) (*Reconciliation, bool, error)
	SaveReconciliationAdjustments(ctx context.Context, req SaveAdjustmentsRequest) (*Reconciliation, error)
	RecordMandays(ctx context.Context, req MandayRequest) (*MandayEntry, error)

	// 不適合報告 - Non-conformance reports
	CreateManualNCR(ctx context.Context, req ManualNCRRequest) (*NCR, error)
	UpdateNCRStatus(ctx context.Context, ncrID string, status NCRStatus, notes string) (*NCR, error)
	GetNCR(ctx context.Context, ncrID string) (*NCR, error)

	// 在庫照会 - Stock inquiry
	GetStock(ctx context.Context, locationID, itemID string) (*LocationStock, error)
	GetStockByLocation(ctx context.Context, locationID string) ([]LocationStock, error)
	GetLocationValuation(ctx context.Context, locationID string) (*LocationValuation, error)
}

// MasterDataManager defines management of items and locations
// 商品・ロケーションのマスタ管理を定義
type MasterDataManager interface {
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, itemID string) (*Item, error)
	CreateLocation(ctx context.Context, location *Location) error
	GetLocation(ctx context.Context, locationID string) (*Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
}

// Storage defines the interface for data persistence layer. All reads and
// writes go through RunAtomically; fn either commits as a whole or not at all.
// データ永続化層のインターフェースを定義
type Storage interface {
	RunAtomically(ctx context.Context, fn func(tx Store) error) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Store is the repository view available inside one unit of work
// 1つの作業単位内で利用できるリポジトリ
type Store interface {
	// Master data
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, itemID string) (*Item, error)
	CreateLocation(ctx context.Context, location *Location) error
	GetLocation(ctx context.Context, locationID string) (*Location, error)
	ListLocations(ctx context.Context, activeOnly bool) ([]Location, error)

	// Stock. LockStock serialises concurrent writers of one (location, item)
	// until the unit of work ends.
	LockStock(ctx context.Context, locationID, itemID string) error
	GetStock(ctx context.Context, locationID, itemID string) (*LocationStock, error)
	SaveStock(ctx context.Context, stock *LocationStock) error
	ListStockByLocation(ctx context.Context, locationID string) ([]LocationStock, error)

	// Periods
	CreatePeriod(ctx context.Context, period *Period) error
	GetPeriod(ctx context.Context, periodID string) (*Period, error)
	GetPeriodForUpdate(ctx context.Context, periodID string) (*Period, error)
	// GetPeriodForShare blocks a concurrent close until the unit of work ends
	GetPeriodForShare(ctx context.Context, periodID string) (*Period, error)
	UpdatePeriod(ctx context.Context, period *Period) error
	ListPeriods(ctx context.Context) ([]Period, error)
	CreatePeriodLocation(ctx context.Context, pl *PeriodLocation) error
	GetPeriodLocation(ctx context.Context, periodID, locationID string) (*PeriodLocation, error)
	GetPeriodLocationForShare(ctx context.Context, periodID, locationID string) (*PeriodLocation, error)
	GetPeriodLocationForUpdate(ctx context.Context, periodID, locationID string) (*PeriodLocation, error)
	UpdatePeriodLocation(ctx context.Context, pl *PeriodLocation) error
	ListPeriodLocations(ctx context.Context, periodID string) ([]PeriodLocation, error)

	// Price book
	GetPrice(ctx context.Context, itemID, periodID string) (*PriceBookEntry, error)
	SavePrice(ctx context.Context, entry *PriceBookEntry) error
	ListPrices(ctx context.Context, periodID string) ([]PriceBookEntry, error)

	// Postings
	CreateDelivery(ctx context.Context, delivery *Delivery) error
	SumDeliveries(ctx context.Context, periodID, locationID string) (decimal.Decimal, error)
	CreateIssue(ctx context.Context, issue *Issue) error
	SumIssues(ctx context.Context, periodID, locationID string) (decimal.Decimal, error)

	// Transfers
	CreateTransfer(ctx context.Context, transfer *Transfer) error
	GetTransfer(ctx context.Context, transferID string) (*Transfer, error)
	GetTransferForUpdate(ctx context.Context, transferID string) (*Transfer, error)
	UpdateTransfer(ctx context.Context, transfer *Transfer) error
	SumCompletedTransfers(ctx context.Context, locationID string, from, to time.Time) (in, out decimal.Decimal, err error)

	// NCRs
	NextNCRSequence(ctx context.Context, year int) (int, error)
	CreateNCR(ctx context.Context, ncr *NCR) error
	GetNCR(ctx context.Context, ncrID string) (*NCR, error)
	GetNCRForUpdate(ctx context.Context, ncrID string) (*NCR, error)
	UpdateNCR(ctx context.Context, ncr *NCR) error

	// Reconciliation
	GetReconciliation(ctx context.Context, periodID, locationID string) (*Reconciliation, error)
	SaveReconciliation(ctx context.Context, rec *Reconciliation) error
	SaveMandays(ctx context.Context, entry *MandayEntry) error
	SumMandays(ctx context.Context, periodID, locationID string) (decimal.Decimal, error)
}

// EventPublisher defines interface for publishing ledger events. It is
// called after commit; failures are logged and never undo the operation.
// 台帳イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishDeliveryPosted(ctx context.Context, event DeliveryPostedEvent) error
	PublishIssuePosted(ctx context.Context, event IssuePostedEvent) error
	PublishTransferChanged(ctx context.Context, event TransferChangedEvent) error
	PublishNCRChanged(ctx context.Context, event NCRChangedEvent) error
	PublishPeriodChanged(ctx context.Context, event PeriodChangedEvent) error
}

// Events for ledger operations
// 台帳操作のイベント定義

// DeliveryPostedEvent represents a committed delivery
// 納品計上イベントを表現
type DeliveryPostedEvent struct {
	DeliveryID  string          `json:"delivery_id"`
	LocationID  string          `json:"location_id"`
	PeriodID    string          `json:"period_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	LineCount   int             `json:"line_count"`
	NCRCount    int             `json:"ncr_count"`
	Timestamp   time.Time       `json:"timestamp"`
	UserID      string          `json:"user_id"`
}

// IssuePostedEvent represents a committed issue
// 払出計上イベントを表現
type IssuePostedEvent struct {
	IssueID    string          `json:"issue_id"`
	LocationID string          `json:"location_id"`
	PeriodID   string          `json:"period_id"`
	TotalValue decimal.Decimal `json:"total_value"`
	LineCount  int             `json:"line_count"`
	Timestamp  time.Time       `json:"timestamp"`
	UserID     string          `json:"user_id"`
}

// TransferChangedEvent represents a transfer status change
// 移動ステータス変更イベントを表現
type TransferChangedEvent struct {
	TransferID     string          `json:"transfer_id"`
	FromLocationID string          `json:"from_location_id"`
	ToLocationID   string          `json:"to_location_id"`
	Status         TransferStatus  `json:"status"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Timestamp      time.Time       `json:"timestamp"`
	UserID         string          `json:"user_id"`
}

// NCRChangedEvent represents NCR creation or a status change
// 不適合報告の作成・ステータス変更イベントを表現
type NCRChangedEvent struct {
	NCRID         string          `json:"ncr_id"`
	NCRNumber     string          `json:"ncr_number"`
	Type          NCRType         `json:"type"`
	Status        NCRStatus       `json:"status"`
	AutoGenerated bool            `json:"auto_generated"`
	Value         decimal.Decimal `json:"value"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id"`
}

// PeriodChangedEvent represents a period status change
// 期間ステータス変更イベントを表現
type PeriodChangedEvent struct {
	PeriodID  string       `json:"period_id"`
	Status    PeriodStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	UserID    string       `json:"user_id"`
}
