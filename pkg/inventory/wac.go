package inventory

import "github.com/shopspring/decimal"

// wacDivisionPrecision keeps intermediate WAC values exact enough that
// rounding only happens on final figures
const wacDivisionPrecision int32 = 16

// CalculateWAC returns the weighted average cost after receiving qty at unitPrice
// 入荷後の移動平均単価を計算
//
//	newWAC = (onHand × wac + qty × unitPrice) / (onHand + qty)
//
// When nothing is on hand the result is unitPrice.
func CalculateWAC(onHand, wac, qty, unitPrice decimal.Decimal) decimal.Decimal {
	if onHand.Sign() <= 0 {
		return unitPrice
	}
	total := onHand.Add(qty)
	if total.Sign() <= 0 {
		return unitPrice
	}
	value := onHand.Mul(wac).Add(qty.Mul(unitPrice))
	return value.DivRound(total, wacDivisionPrecision)
}
