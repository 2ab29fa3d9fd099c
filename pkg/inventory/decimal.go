package inventory

import "github.com/shopspring/decimal"

const (
	// QuantityPlaces is the scale of stock quantities
	// 数量の小数桁数
	QuantityPlaces int32 = 4
	// MoneyPlaces is the scale of monetary amounts
	// 金額の小数桁数
	MoneyPlaces int32 = 2
)

// RoundQuantity rounds a quantity half away from zero to 4 places
// 数量を小数4桁に丸める
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// RoundMoney rounds a monetary amount half away from zero to 2 places
// 金額を小数2桁に丸める
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func sumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
