package inventory

import (
	"context"
	"errors"
	"time"
)

// PriceBook resolves the locked period price of an item
// 期間ごとの固定単価を解決する価格表
type PriceBook struct {
	now func() time.Time
}

// NewPriceBook creates a new price book
// 新しい価格表を作成
func NewPriceBook(now func() time.Time) *PriceBook {
	if now == nil {
		now = time.Now
	}
	return &PriceBook{now: now}
}

// Lookup returns the entry for (item, period). found is false when no price was set.
// 品目・期間の価格を取得
func (p *PriceBook) Lookup(ctx context.Context, tx Store, itemID, periodID string) (*PriceBookEntry, bool, error) {
	entry, err := tx.GetPrice(ctx, itemID, periodID)
	if errors.Is(err, ErrPriceNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStorage("get_price", "価格取得に失敗しました", err)
	}
	return entry, true, nil
}

// Set upserts the entry for (item, period). Status checks belong to the caller.
// 品目・期間の価格を登録（上書き）
func (p *PriceBook) Set(ctx context.Context, tx Store, entry *PriceBookEntry) error {
	if entry.Price.Sign() < 0 {
		return NewValidationError("price", "価格は0以上である必要があります", entry.Price.String())
	}
	if entry.SetAt.IsZero() {
		entry.SetAt = p.now()
	}
	if err := tx.SavePrice(ctx, entry); err != nil {
		return wrapStorage("save_price", "価格登録に失敗しました", err)
	}
	return nil
}

// CopyMissing copies entries of one period into another, skipping items that
// already have a price in the target. It returns the number of copied entries.
// 未登録の価格のみを別期間へ複写
func (p *PriceBook) CopyMissing(ctx context.Context, tx Store, fromPeriodID, toPeriodID, setBy string) (int, error) {
	source, err := tx.ListPrices(ctx, fromPeriodID)
	if err != nil {
		return 0, wrapStorage("list_prices", "価格一覧取得に失敗しました", err)
	}
	existing, err := tx.ListPrices(ctx, toPeriodID)
	if err != nil {
		return 0, wrapStorage("list_prices", "価格一覧取得に失敗しました", err)
	}
	present := make(map[string]bool, len(existing))
	for _, e := range existing {
		present[e.ItemID] = true
	}

	copied := 0
	for _, e := range source {
		if present[e.ItemID] {
			continue
		}
		entry := &PriceBookEntry{
			ItemID:   e.ItemID,
			PeriodID: toPeriodID,
			Price:    e.Price,
			SetBy:    setBy,
		}
		if err := p.Set(ctx, tx, entry); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
