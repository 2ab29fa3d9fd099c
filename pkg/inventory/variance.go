package inventory

import "github.com/shopspring/decimal"

// PriceVariance is the difference between the paid price and the locked period price
// 実単価と期間固定単価の差異
type PriceVariance struct {
	ItemID      string          `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	PeriodPrice decimal.Decimal `json:"period_price"`
	Variance    decimal.Decimal `json:"variance"` // unit_price - period_price
}

// Value returns |variance| × quantity rounded to cents
// 差異金額を返す
func (v PriceVariance) Value() decimal.Decimal {
	return RoundMoney(v.Variance.Abs().Mul(v.Quantity))
}

// DetectVariance compares a delivery line to its price book entry. It returns
// nil when there is no entry or when the prices are equal.
// 納品明細と価格表を比較して差異を検出
func DetectVariance(line DeliveryLineInput, entry *PriceBookEntry) *PriceVariance {
	if entry == nil {
		return nil
	}
	variance := line.UnitPrice.Sub(entry.Price)
	if variance.IsZero() {
		return nil
	}
	return &PriceVariance{
		ItemID:      line.ItemID,
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice,
		PeriodPrice: entry.Price,
		Variance:    variance,
	}
}
