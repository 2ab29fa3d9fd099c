package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// Inventory valuation at weighted average cost. Valuation is always live:
// it reads the current ledger rows inside the caller's unit of work.
// 移動平均法による在庫評価

// Valuation returns Σ(qty × WAC) over all items of a location, unrounded
// 拠点の在庫評価額を計算
func (l *StockLedger) Valuation(ctx context.Context, tx Store, locationID string) (decimal.Decimal, error) {
	stocks, err := tx.ListStockByLocation(ctx, locationID)
	if err != nil {
		return decimal.Zero, wrapStorage("list_stock", "在庫一覧取得に失敗しました", err)
	}
	total := decimal.Zero
	for _, s := range stocks {
		total = total.Add(s.Value())
	}
	return total, nil
}

// Snapshot captures every item row of a location. Line values are rounded to
// cents; the returned total is the rounded sum of the unrounded values.
// 拠点の在庫スナップショットを取得
func (l *StockLedger) Snapshot(ctx context.Context, tx Store, locationID string) ([]StockSnapshotLine, decimal.Decimal, error) {
	stocks, err := tx.ListStockByLocation(ctx, locationID)
	if err != nil {
		return nil, decimal.Zero, wrapStorage("list_stock", "在庫一覧取得に失敗しました", err)
	}
	lines := make([]StockSnapshotLine, 0, len(stocks))
	total := decimal.Zero
	for _, s := range stocks {
		value := s.Value()
		total = total.Add(value)
		lines = append(lines, StockSnapshotLine{
			ItemID:   s.ItemID,
			Quantity: s.Quantity,
			WAC:      s.WAC,
			Value:    RoundMoney(value),
		})
	}
	return lines, RoundMoney(total), nil
}

// LocationValuation is the live value of one location's stock
// 拠点の現在在庫評価
type LocationValuation struct {
	LocationID string              `json:"location_id"`
	Lines      []StockSnapshotLine `json:"lines"`
	TotalValue decimal.Decimal     `json:"total_value"`
}
