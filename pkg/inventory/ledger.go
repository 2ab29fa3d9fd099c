package inventory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockLedger maintains quantity on hand and WAC per (location, item).
// It never opens its own unit of work; callers pass the Store of theirs.
// 拠点×品目ごとの在庫数量と移動平均単価を管理
type StockLedger struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewStockLedger creates a new stock ledger
// 新しい在庫台帳を作成
func NewStockLedger(logger *zap.Logger, now func() time.Time) *StockLedger {
	if now == nil {
		now = time.Now
	}
	return &StockLedger{logger: logger, now: now}
}

// Read returns the stock row, or a zero row when the item has never been received
// 在庫を取得（未入荷の場合は数量0の行を返す）
func (l *StockLedger) Read(ctx context.Context, tx Store, locationID, itemID string) (*LocationStock, error) {
	stock, err := tx.GetStock(ctx, locationID, itemID)
	if errors.Is(err, ErrStockNotFound) {
		return &LocationStock{
			LocationID: locationID,
			ItemID:     itemID,
			Quantity:   decimal.Zero,
			WAC:        decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, wrapStorage("get_stock", "在庫取得に失敗しました", err)
	}
	return stock, nil
}

// Receive adds qty at unitPrice and recomputes the WAC
// 入荷処理（数量加算と移動平均単価の再計算）
func (l *StockLedger) Receive(ctx context.Context, tx Store, locationID, itemID string, qty, unitPrice decimal.Decimal) (*LocationStock, error) {
	if qty.Sign() <= 0 {
		return nil, NewValidationError("quantity", "数量は正の値である必要があります", qty.String())
	}
	if unitPrice.Sign() < 0 {
		return nil, NewValidationError("unit_price", "単価は0以上である必要があります", unitPrice.String())
	}
	if err := tx.LockStock(ctx, locationID, itemID); err != nil {
		return nil, wrapStorage("lock_stock", "在庫ロックに失敗しました", err)
	}
	stock, err := l.Read(ctx, tx, locationID, itemID)
	if err != nil {
		return nil, err
	}

	stock.WAC = CalculateWAC(stock.Quantity, stock.WAC, qty, unitPrice)
	stock.Quantity = RoundQuantity(stock.Quantity.Add(qty))
	stock.UpdatedAt = l.now()

	if err := tx.SaveStock(ctx, stock); err != nil {
		return nil, wrapStorage("save_stock", "在庫更新に失敗しました", err)
	}

	l.logger.Debug("入荷を台帳に反映しました",
		zap.String("location_id", locationID),
		zap.String("item_id", itemID),
		zap.String("quantity", qty.String()),
		zap.String("unit_price", unitPrice.String()),
		zap.String("wac", stock.WAC.String()),
	)
	return stock, nil
}

// Consume removes qty without changing the WAC. It returns the WAC at the
// moment of consumption.
// 払出処理（移動平均単価は変更しない）
func (l *StockLedger) Consume(ctx context.Context, tx Store, locationID, itemID string, qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.Sign() <= 0 {
		return decimal.Zero, NewValidationError("quantity", "数量は正の値である必要があります", qty.String())
	}
	if err := tx.LockStock(ctx, locationID, itemID); err != nil {
		return decimal.Zero, wrapStorage("lock_stock", "在庫ロックに失敗しました", err)
	}
	stock, err := l.Read(ctx, tx, locationID, itemID)
	if err != nil {
		return decimal.Zero, err
	}

	if stock.Quantity.LessThan(qty) {
		shortage := StockShortage{ItemID: itemID, Requested: qty, Available: stock.Quantity}
		if item, err := tx.GetItem(ctx, itemID); err == nil {
			shortage.ItemName = item.Name
		}
		return decimal.Zero, &InsufficientStockError{LocationID: locationID, Shortages: []StockShortage{shortage}}
	}

	wac := stock.WAC
	stock.Quantity = RoundQuantity(stock.Quantity.Sub(qty))
	stock.UpdatedAt = l.now()

	if err := tx.SaveStock(ctx, stock); err != nil {
		return decimal.Zero, wrapStorage("save_stock", "在庫更新に失敗しました", err)
	}

	l.logger.Debug("払出を台帳に反映しました",
		zap.String("location_id", locationID),
		zap.String("item_id", itemID),
		zap.String("quantity", qty.String()),
		zap.String("wac", wac.String()),
	)
	return wac, nil
}

// CheckAvailability collects every line whose requested quantity exceeds the
// quantity on hand. Requests for the same item are summed and locked in item ID
// order, so shortages are reported in that order too.
// 在庫充足を事前チェックし、不足をすべて集める
func (l *StockLedger) CheckAvailability(ctx context.Context, tx Store, locationID string, lines []stockRequest) error {
	totals := make(map[string]decimal.Decimal)
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := totals[line.itemID]; !seen {
			order = append(order, line.itemID)
			totals[line.itemID] = decimal.Zero
		}
		totals[line.itemID] = totals[line.itemID].Add(line.quantity)
	}

	sort.Strings(order)

	var shortages []StockShortage
	for _, itemID := range order {
		if err := tx.LockStock(ctx, locationID, itemID); err != nil {
			return wrapStorage("lock_stock", "在庫ロックに失敗しました", err)
		}
		stock, err := l.Read(ctx, tx, locationID, itemID)
		if err != nil {
			return err
		}
		if stock.Quantity.LessThan(totals[itemID]) {
			shortage := StockShortage{ItemID: itemID, Requested: totals[itemID], Available: stock.Quantity}
			if item, err := tx.GetItem(ctx, itemID); err == nil {
				shortage.ItemName = item.Name
			}
			shortages = append(shortages, shortage)
		}
	}
	if len(shortages) > 0 {
		return &InsufficientStockError{LocationID: locationID, Shortages: shortages}
	}
	return nil
}

// LockAll takes the stock locks of every key in (location, item) order.
// Units of work touching several locations lock through here first.
// 複数拠点の在庫ロックを一定順序で取得
func (l *StockLedger) LockAll(ctx context.Context, tx Store, keys []StockKey) error {
	sorted := append([]StockKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].LocationID != sorted[j].LocationID {
			return sorted[i].LocationID < sorted[j].LocationID
		}
		return sorted[i].ItemID < sorted[j].ItemID
	})
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		if err := tx.LockStock(ctx, k.LocationID, k.ItemID); err != nil {
			return wrapStorage("lock_stock", "在庫ロックに失敗しました", err)
		}
	}
	return nil
}

// StockKey identifies one stock row
type StockKey struct {
	LocationID string
	ItemID     string
}

type stockRequest struct {
	itemID   string
	quantity decimal.Decimal
}
