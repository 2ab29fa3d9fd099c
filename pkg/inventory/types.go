// Package inventory provides the stock ledger, cost accounting and period
// reconciliation engine for multi-location inventory.
// 複数拠点の在庫台帳・原価計算・期間締め照合エンジンを提供
package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocationType is the site role of a location
// ロケーションの拠点種別
type LocationType string

const (
	LocationTypeKitchen   LocationType = "KITCHEN"   // 厨房
	LocationTypeStore     LocationType = "STORE"     // 倉庫
	LocationTypeCentral   LocationType = "CENTRAL"   // 中央倉庫
	LocationTypeSatellite LocationType = "SATELLITE" // サテライト拠点
)

// Location represents a physical stock-holding site
// 在庫を保有する物理拠点を表現
type Location struct {
	ID        string       `json:"id" db:"id"`                 // ロケーションID
	Code      string       `json:"code" db:"code"`             // ロケーションコード
	Name      string       `json:"name" db:"name"`             // ロケーション名
	Type      LocationType `json:"type" db:"type"`             // 拠点種別
	IsActive  bool         `json:"is_active" db:"is_active"`   // アクティブ状態
	CreatedAt time.Time    `json:"created_at" db:"created_at"` // 作成日時
}

// Item represents a stocked product, global across locations
// 全拠点共通の在庫品目を表現
type Item struct {
	ID        string    `json:"id" db:"id"`                 // 商品ID
	Code      string    `json:"code" db:"code"`             // 商品コード
	Name      string    `json:"name" db:"name"`             // 商品名
	Unit      string    `json:"unit" db:"unit"`             // 単位
	Category  string    `json:"category" db:"category"`     // カテゴリ
	IsActive  bool      `json:"is_active" db:"is_active"`   // アクティブ状態
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 作成日時
}

// LocationStock is the quantity on hand and weighted average cost of an item at a location
// 拠点ごとの品目の在庫数量と移動平均単価
type LocationStock struct {
	LocationID string          `json:"location_id" db:"location_id"` // ロケーションID
	ItemID     string          `json:"item_id" db:"item_id"`         // 商品ID
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`       // 在庫数量
	WAC        decimal.Decimal `json:"wac" db:"wac"`                 // 移動平均単価
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`   // 最終更新日時
}

// Value returns quantity × WAC without rounding
// 在庫金額（数量×単価）を返す
func (s LocationStock) Value() decimal.Decimal {
	return s.Quantity.Mul(s.WAC)
}

// Period is an accounting interval during which prices are locked
// 価格が固定される会計期間
type Period struct {
	ID        string       `json:"id" db:"id"`                 // 期間ID
	Name      string       `json:"name" db:"name"`             // 期間名
	StartDate time.Time    `json:"start_date" db:"start_date"` // 開始日
	EndDate   time.Time    `json:"end_date" db:"end_date"`     // 終了日
	Status    PeriodStatus `json:"status" db:"status"`         // ステータス
	OpenedAt  *time.Time   `json:"opened_at" db:"opened_at"`   // 開始日時
	ClosedAt  *time.Time   `json:"closed_at" db:"closed_at"`   // 締め日時
	ClosedBy  string       `json:"closed_by" db:"closed_by"`   // 締め実行者
	CreatedAt time.Time    `json:"created_at" db:"created_at"` // 作成日時
}

// Contains reports whether t falls inside the period's date range (inclusive)
// 日時が期間内（両端含む）かを判定
func (p Period) Contains(t time.Time) bool {
	day := truncateDay(t.In(p.StartDate.Location()))
	return !day.Before(truncateDay(p.StartDate)) && !day.After(truncateDay(p.EndDate))
}

// PeriodLocation tracks readiness and valuation of one location in one period
// 期間ごとの拠点の締め準備状態と評価額
type PeriodLocation struct {
	PeriodID     string               `json:"period_id" db:"period_id"`         // 期間ID
	LocationID   string               `json:"location_id" db:"location_id"`     // ロケーションID
	Status       PeriodLocationStatus `json:"status" db:"status"`               // ステータス
	OpeningValue decimal.Decimal      `json:"opening_value" db:"opening_value"` // 期首在庫金額
	ClosingValue *decimal.Decimal     `json:"closing_value" db:"closing_value"` // 期末在庫金額
	Snapshot     []StockSnapshotLine  `json:"snapshot" db:"snapshot"`           // 締め時点の在庫スナップショット
	ReadyAt      *time.Time           `json:"ready_at" db:"ready_at"`           // 準備完了日時
	ClosedAt     *time.Time           `json:"closed_at" db:"closed_at"`         // 締め日時
}

// StockSnapshotLine is one item row of the closing snapshot
// 期末スナップショットの1品目行
type StockSnapshotLine struct {
	ItemID   string          `json:"item_id"`  // 商品ID
	Quantity decimal.Decimal `json:"quantity"` // 数量
	WAC      decimal.Decimal `json:"wac"`      // 単価
	Value    decimal.Decimal `json:"value"`    // 金額
}

// PriceBookEntry is the locked unit price of an item for a period
// 期間ごとの品目の固定単価
type PriceBookEntry struct {
	ItemID    string          `json:"item_id" db:"item_id"`       // 商品ID
	PeriodID  string          `json:"period_id" db:"period_id"`   // 期間ID
	Price     decimal.Decimal `json:"price" db:"price"`           // 固定単価
	SetBy     string          `json:"set_by" db:"set_by"`         // 設定者
	SetAt     time.Time       `json:"set_at" db:"set_at"`         // 設定日時
}

// Delivery is a goods receipt at a location
// 拠点への入荷（納品）
type Delivery struct {
	ID             string          `json:"id" db:"id"`                           // 納品ID
	DeliveryNumber string          `json:"delivery_number" db:"delivery_number"` // 納品番号
	LocationID     string          `json:"location_id" db:"location_id"`         // ロケーションID
	PeriodID       string          `json:"period_id" db:"period_id"`             // 期間ID
	Supplier       string          `json:"supplier" db:"supplier"`               // 仕入先
	DeliveryDate   time.Time       `json:"delivery_date" db:"delivery_date"`     // 納品日
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"`       // 合計金額
	HasVariance    bool            `json:"has_variance" db:"has_variance"`       // 価格差異あり
	Lines          []DeliveryLine  `json:"lines"`                                // 明細
	PostedBy       string          `json:"posted_by" db:"posted_by"`             // 計上者
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`           // 作成日時
}

// DeliveryLine is one received item of a delivery
// 納品明細
type DeliveryLine struct {
	ID          string           `json:"id" db:"id"`                     // 明細ID
	DeliveryID  string           `json:"delivery_id" db:"delivery_id"`   // 納品ID
	ItemID      string           `json:"item_id" db:"item_id"`           // 商品ID
	Quantity    decimal.Decimal  `json:"quantity" db:"quantity"`         // 数量
	UnitPrice   decimal.Decimal  `json:"unit_price" db:"unit_price"`     // 実単価
	PeriodPrice *decimal.Decimal `json:"period_price" db:"period_price"` // 期間固定単価（計上時点）
	Variance    decimal.Decimal  `json:"variance" db:"variance"`         // 単価差異
	LineTotal   decimal.Decimal  `json:"line_total" db:"line_total"`     // 明細金額
}

// Issue is a consumption of stock at a location
// 拠点での在庫払出
type Issue struct {
	ID          string          `json:"id" db:"id"`                     // 払出ID
	IssueNumber string          `json:"issue_number" db:"issue_number"` // 払出番号
	LocationID  string          `json:"location_id" db:"location_id"`   // ロケーションID
	PeriodID    string          `json:"period_id" db:"period_id"`       // 期間ID
	CostCentre  string          `json:"cost_centre" db:"cost_centre"`   // コストセンター
	IssueDate   time.Time       `json:"issue_date" db:"issue_date"`     // 払出日
	TotalValue  decimal.Decimal `json:"total_value" db:"total_value"`   // 合計金額
	Lines       []IssueLine     `json:"lines"`                          // 明細
	PostedBy    string          `json:"posted_by" db:"posted_by"`       // 計上者
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`     // 作成日時
}

// IssueLine carries the WAC frozen at the moment of issue
// 払出時点の単価を保持する払出明細
type IssueLine struct {
	ID        string          `json:"id" db:"id"`                 // 明細ID
	IssueID   string          `json:"issue_id" db:"issue_id"`     // 払出ID
	ItemID    string          `json:"item_id" db:"item_id"`       // 商品ID
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`     // 数量
	WAC       decimal.Decimal `json:"wac" db:"wac"`               // 払出時単価
	LineValue decimal.Decimal `json:"line_value" db:"line_value"` // 明細金額
}

// Transfer is a request to move stock between two locations
// 拠点間の在庫移動依頼
type Transfer struct {
	ID              string         `json:"id" db:"id"`                             // 移動ID
	TransferNumber  string         `json:"transfer_number" db:"transfer_number"`   // 移動番号
	FromLocationID  string         `json:"from_location_id" db:"from_location_id"` // 移動元
	ToLocationID    string         `json:"to_location_id" db:"to_location_id"`     // 移動先
	Status          TransferStatus `json:"status" db:"status"`                     // ステータス
	RequestedBy     string         `json:"requested_by" db:"requested_by"`         // 依頼者
	RequestDate     time.Time      `json:"request_date" db:"request_date"`         // 依頼日
	ApprovedBy      string         `json:"approved_by" db:"approved_by"`           // 承認者
	ApprovalDate    *time.Time     `json:"approval_date" db:"approval_date"`       // 承認日
	ApprovalComment string         `json:"approval_comment" db:"approval_comment"` // 承認コメント
	TransferDate    *time.Time     `json:"transfer_date" db:"transfer_date"`       // 移動実施日
	Notes           string         `json:"notes" db:"notes"`                       // 備考
	TotalValue      decimal.Decimal `json:"total_value" db:"total_value"`          // 合計金額
	Lines           []TransferLine `json:"lines"`                                  // 明細
}

// TransferLine freezes the source WAC at request time
// 依頼時点の移動元単価を保持する移動明細
type TransferLine struct {
	ID                string          `json:"id" db:"id"`                                   // 明細ID
	TransferID        string          `json:"transfer_id" db:"transfer_id"`                 // 移動ID
	ItemID            string          `json:"item_id" db:"item_id"`                         // 商品ID
	RequestedQuantity decimal.Decimal `json:"requested_quantity" db:"requested_quantity"`   // 依頼数量
	WACAtTransfer     decimal.Decimal `json:"wac_at_transfer" db:"wac_at_transfer"`         // 依頼時単価
	LineValue         decimal.Decimal `json:"line_value" db:"line_value"`                   // 明細金額
}

// NCRType distinguishes manual reports from automatic price variance reports
// 不適合報告の種別
type NCRType string

const (
	NCRTypeManual        NCRType = "MANUAL"         // 手動
	NCRTypePriceVariance NCRType = "PRICE_VARIANCE" // 価格差異
)

// NCR is a non-conformance report tracked through a resolution lifecycle
// 解決まで追跡される不適合報告
type NCR struct {
	ID              string          `json:"id" db:"id"`                             // NCR ID
	NCRNumber       string          `json:"ncr_number" db:"ncr_number"`             // NCR番号
	LocationID      string          `json:"location_id" db:"location_id"`           // ロケーションID
	DeliveryID      *string         `json:"delivery_id" db:"delivery_id"`           // 納品ID
	DeliveryLineID  *string         `json:"delivery_line_id" db:"delivery_line_id"` // 納品明細ID
	Type            NCRType         `json:"type" db:"type"`                         // 種別
	AutoGenerated   bool            `json:"auto_generated" db:"auto_generated"`     // 自動生成
	Reason          string          `json:"reason" db:"reason"`                     // 理由
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`                 // 数量
	Value           decimal.Decimal `json:"value" db:"value"`                       // 金額
	Status          NCRStatus       `json:"status" db:"status"`                     // ステータス
	ResolvedAt      *time.Time      `json:"resolved_at" db:"resolved_at"`           // 解決日時
	ResolutionNotes string          `json:"resolution_notes" db:"resolution_notes"` // 解決メモ
	CreatedBy       string          `json:"created_by" db:"created_by"`             // 作成者
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`             // 作成日時
}

// MandayEntry records the number of people fed at a location on a day
// 拠点の日別食数（人日）記録
type MandayEntry struct {
	PeriodID   string          `json:"period_id" db:"period_id"`     // 期間ID
	LocationID string          `json:"location_id" db:"location_id"` // ロケーションID
	Date       time.Time       `json:"date" db:"date"`               // 日付
	Count      decimal.Decimal `json:"count" db:"count"`             // 人数
}

// Reconciliation is the period-end consumption computation for one location
// 拠点ごとの期末消費照合
type Reconciliation struct {
	PeriodID          string           `json:"period_id" db:"period_id"`                   // 期間ID
	LocationID        string           `json:"location_id" db:"location_id"`               // ロケーションID
	OpeningStock      decimal.Decimal  `json:"opening_stock" db:"opening_stock"`           // 期首在庫
	Receipts          decimal.Decimal  `json:"receipts" db:"receipts"`                     // 入荷
	TransfersIn       decimal.Decimal  `json:"transfers_in" db:"transfers_in"`             // 移動入
	TransfersOut      decimal.Decimal  `json:"transfers_out" db:"transfers_out"`           // 移動出
	Issues            decimal.Decimal  `json:"issues" db:"issues"`                         // 払出
	ClosingStock      decimal.Decimal  `json:"closing_stock" db:"closing_stock"`           // 期末在庫
	BackCharges       decimal.Decimal  `json:"back_charges" db:"back_charges"`             // 戻し請求
	Credits           decimal.Decimal  `json:"credits" db:"credits"`                       // クレジット
	Condemnations     decimal.Decimal  `json:"condemnations" db:"condemnations"`           // 廃棄
	Adjustments       decimal.Decimal  `json:"adjustments" db:"adjustments"`               // その他調整
	TotalAdjustments  decimal.Decimal  `json:"total_adjustments" db:"total_adjustments"`   // 調整合計
	BaseConsumption   decimal.Decimal  `json:"base_consumption" db:"base_consumption"`     // 基本消費
	Consumption       decimal.Decimal  `json:"consumption" db:"consumption"`               // 消費額
	TotalMandays      decimal.Decimal  `json:"total_mandays" db:"total_mandays"`           // 総人日
	MandayCost        *decimal.Decimal `json:"manday_cost" db:"manday_cost"`               // 人日単価（人日0の場合nil）
	SavedBy           string           `json:"saved_by" db:"saved_by"`                     // 保存者
	SavedAt           *time.Time       `json:"saved_at" db:"saved_at"`                     // 保存日時
}

// NewID generates a new entity ID
// 新しいエンティティIDを生成
func NewID() string {
	return uuid.New().String()
}

// newDocumentNumber builds a short human-readable document number
// 人が読める短い伝票番号を生成
func newDocumentNumber(prefix string, at time.Time) string {
	return prefix + "-" + at.Format("20060102") + "-" + uuid.New().String()[:8]
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
