package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request types accepted by LedgerService. Struct tags are checked by
// validateRequest before any unit of work starts.
// LedgerServiceが受け付けるリクエスト型

// DeliveryLineInput is one received line
// 納品明細の入力
type DeliveryLineInput struct {
	ItemID    string          `json:"item_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// DeliveryRequest posts a goods receipt
// 納品計上リクエスト
type DeliveryRequest struct {
	LocationID     string              `json:"location_id" validate:"required"`
	PeriodID       string              `json:"period_id" validate:"required"`
	Supplier       string              `json:"supplier" validate:"max=255"`
	DeliveryNumber string              `json:"delivery_number" validate:"max=64"`
	DeliveryDate   time.Time           `json:"delivery_date"`
	Lines          []DeliveryLineInput `json:"lines" validate:"required,min=1,dive"`
}

// DeliveryResult is the committed delivery together with any NCRs it raised
// 納品結果と自動起票された不適合報告
type DeliveryResult struct {
	Delivery    *Delivery `json:"delivery"`
	NCRsCreated []NCR     `json:"ncrs_created"`
}

// IssueLineInput is one consumed line
// 払出明細の入力
type IssueLineInput struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

// IssueRequest posts a consumption
// 払出計上リクエスト
type IssueRequest struct {
	LocationID string           `json:"location_id" validate:"required"`
	PeriodID   string           `json:"period_id" validate:"required"`
	CostCentre string           `json:"cost_centre" validate:"max=64"`
	IssueDate  time.Time        `json:"issue_date"`
	Lines      []IssueLineInput `json:"lines" validate:"required,min=1,dive"`
}

// TransferLineInput is one requested transfer line
// 移動明細の入力
type TransferLineInput struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

// TransferRequest creates a transfer awaiting approval
// 移動依頼作成リクエスト
type TransferRequest struct {
	FromLocationID string              `json:"from_location_id" validate:"required"`
	ToLocationID   string              `json:"to_location_id" validate:"required"`
	Notes          string              `json:"notes" validate:"max=1000"`
	Lines          []TransferLineInput `json:"lines" validate:"required,min=1,dive"`
}

// CreatePeriodRequest creates a DRAFT period
// 期間作成リクエスト
type CreatePeriodRequest struct {
	Name      string    `json:"name" validate:"required,max=100"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// PriceInput is one price book entry
// 価格表の入力
type PriceInput struct {
	ItemID string          `json:"item_id" validate:"required"`
	Price  decimal.Decimal `json:"price" validate:"gte=0"`
}

// SetPriceRequest sets a price on a DRAFT period
// 価格設定リクエスト
type SetPriceRequest struct {
	PeriodID string          `json:"period_id" validate:"required"`
	ItemID   string          `json:"item_id" validate:"required"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
}

// OpenPeriodRequest creates, prices and activates a period in one step
// 期間の作成・価格設定・開始を一括で行うリクエスト
type OpenPeriodRequest struct {
	Name      string       `json:"name" validate:"required,max=100"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	Prices    []PriceInput `json:"prices" validate:"dive"`
}

// RollForwardOptions controls how the next period is prepared
// 次期間繰越のオプション
type RollForwardOptions struct {
	CopyPrices bool   `json:"copy_prices"`
	Name       string `json:"name" validate:"max=100"`
}

// PeriodCloseResult is the closed period with its snapshotted locations
// 締め済み期間と拠点スナップショット
type PeriodCloseResult struct {
	Period    *Period          `json:"period"`
	Locations []PeriodLocation `json:"locations"`
}

// SaveAdjustmentsRequest records manual reconciliation adjustments
// 照合の手動調整保存リクエスト
type SaveAdjustmentsRequest struct {
	PeriodID      string          `json:"period_id" validate:"required"`
	LocationID    string          `json:"location_id" validate:"required"`
	BackCharges   decimal.Decimal `json:"back_charges" validate:"gte=0"`
	Credits       decimal.Decimal `json:"credits" validate:"gte=0"`
	Condemnations decimal.Decimal `json:"condemnations" validate:"gte=0"`
	Adjustments   decimal.Decimal `json:"adjustments"`
}

// MandayRequest records persons fed on one day
// 日別食数の記録リクエスト
type MandayRequest struct {
	PeriodID   string          `json:"period_id" validate:"required"`
	LocationID string          `json:"location_id" validate:"required"`
	Date       time.Time       `json:"date"`
	Count      decimal.Decimal `json:"count" validate:"gte=0"`
}

// ManualNCRLine is one affected item of a manual NCR
// 手動不適合報告の品目明細
type ManualNCRLine struct {
	ItemID    string          `json:"item_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// ManualNCRRequest raises a user-entered NCR
// 手動不適合報告の作成リクエスト
type ManualNCRRequest struct {
	LocationID string          `json:"location_id" validate:"required"`
	DeliveryID *string         `json:"delivery_id"`
	Reason     string          `json:"reason" validate:"required,max=2000"`
	Lines      []ManualNCRLine `json:"lines" validate:"required,min=1,dive"`
}
