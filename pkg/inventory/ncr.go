package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultNCRPrefix is the prefix of NCR numbers
const DefaultNCRPrefix = "NCR"

// NCRGenerator issues numbered non-conformance reports and moves them through their lifecycle
// 不適合報告の採番・起票・ステータス管理
type NCRGenerator struct {
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewNCRGenerator creates a new NCR generator
// 新しい不適合報告ジェネレーターを作成
func NewNCRGenerator(prefix string, logger *zap.Logger, now func() time.Time) *NCRGenerator {
	if prefix == "" {
		prefix = DefaultNCRPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &NCRGenerator{prefix: prefix, logger: logger, now: now}
}

// nextNumber allocates the next number of the current calendar year
func (g *NCRGenerator) nextNumber(ctx context.Context, tx Store, at time.Time) (string, error) {
	seq, err := tx.NextNCRSequence(ctx, at.Year())
	if err != nil {
		return "", wrapStorage("next_ncr_sequence", "NCR採番に失敗しました", err)
	}
	return fmt.Sprintf("%s-%d-%04d", g.prefix, at.Year(), seq), nil
}

// RaiseForVariance creates the automatic PRICE_VARIANCE NCR for one delivery line
// 価格差異による不適合報告を自動起票
func (g *NCRGenerator) RaiseForVariance(ctx context.Context, tx Store, delivery *Delivery, line *DeliveryLine, v *PriceVariance, createdBy string) (*NCR, error) {
	now := g.now()
	number, err := g.nextNumber(ctx, tx, now)
	if err != nil {
		return nil, err
	}

	deliveryID := delivery.ID
	lineID := line.ID
	ncr := &NCR{
		ID:             NewID(),
		NCRNumber:      number,
		LocationID:     delivery.LocationID,
		DeliveryID:     &deliveryID,
		DeliveryLineID: &lineID,
		Type:           NCRTypePriceVariance,
		AutoGenerated:  true,
		Reason: fmt.Sprintf("価格差異: 品目 %s 実単価 %s / 期間単価 %s (差異 %s)",
			v.ItemID, v.UnitPrice.StringFixed(MoneyPlaces), v.PeriodPrice.StringFixed(MoneyPlaces), v.Variance.String()),
		Quantity:  v.Quantity,
		Value:     v.Value(),
		Status:    NCRStatusOpen,
		CreatedBy: createdBy,
		CreatedAt: now,
	}

	if err := tx.CreateNCR(ctx, ncr); err != nil {
		return nil, wrapStorage("create_ncr", "不適合報告の作成に失敗しました", err)
	}

	g.logger.Info("価格差異の不適合報告を起票しました",
		zap.String("ncr_number", ncr.NCRNumber),
		zap.String("delivery_id", delivery.ID),
		zap.String("item_id", v.ItemID),
		zap.String("variance", v.Variance.String()),
		zap.String("value", ncr.Value.String()),
	)
	return ncr, nil
}

// ncrBreakdownLine is the machine-readable row appended to manual NCR reasons
type ncrBreakdownLine struct {
	ItemID    string          `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Value     decimal.Decimal `json:"value"`
}

// CreateManual creates a user-entered NCR. The item breakdown is appended to
// the reason as JSON and the NCR value is the sum of the line values.
// 手動の不適合報告を作成
func (g *NCRGenerator) CreateManual(ctx context.Context, tx Store, req ManualNCRRequest, createdBy string) (*NCR, error) {
	if _, err := tx.GetLocation(ctx, req.LocationID); err != nil {
		return nil, wrapStorage("get_location", "ロケーション取得に失敗しました", err)
	}

	breakdown := make([]ncrBreakdownLine, 0, len(req.Lines))
	total := decimal.Zero
	quantity := decimal.Zero
	for _, line := range req.Lines {
		value := line.Quantity.Mul(line.UnitPrice)
		total = total.Add(value)
		quantity = quantity.Add(line.Quantity)
		breakdown = append(breakdown, ncrBreakdownLine{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Value:     RoundMoney(value),
		})
	}
	payload, err := json.Marshal(breakdown)
	if err != nil {
		return nil, fmt.Errorf("品目明細のシリアライズに失敗しました: %w", err)
	}

	now := g.now()
	number, err := g.nextNumber(ctx, tx, now)
	if err != nil {
		return nil, err
	}

	ncr := &NCR{
		ID:            NewID(),
		NCRNumber:     number,
		LocationID:    req.LocationID,
		DeliveryID:    req.DeliveryID,
		Type:          NCRTypeManual,
		AutoGenerated: false,
		Reason:        req.Reason + "\n\nItems: " + string(payload),
		Quantity:      RoundQuantity(quantity),
		Value:         RoundMoney(total),
		Status:        NCRStatusOpen,
		CreatedBy:     createdBy,
		CreatedAt:     now,
	}

	if err := tx.CreateNCR(ctx, ncr); err != nil {
		return nil, wrapStorage("create_ncr", "不適合報告の作成に失敗しました", err)
	}

	g.logger.Info("手動の不適合報告を作成しました",
		zap.String("ncr_number", ncr.NCRNumber),
		zap.String("location_id", ncr.LocationID),
		zap.String("value", ncr.Value.String()),
	)
	return ncr, nil
}

// UpdateStatus moves an NCR along OPEN → SENT → {CREDITED | REJECTED | RESOLVED}.
// Terminal transitions record the resolution time and notes.
// 不適合報告のステータスを更新
func (g *NCRGenerator) UpdateStatus(ctx context.Context, tx Store, ncrID string, status NCRStatus, notes string) (*NCR, error) {
	ncr, err := tx.GetNCRForUpdate(ctx, ncrID)
	if err != nil {
		return nil, wrapStorage("get_ncr", "不適合報告の取得に失敗しました", err)
	}
	if !ncr.Status.CanTransitionTo(status) {
		return nil, NewInvalidStatusTransitionError("ncr", ncr.ID, string(ncr.Status), string(status))
	}

	previous := ncr.Status
	ncr.Status = status
	if status.IsTerminal() {
		resolvedAt := g.now()
		ncr.ResolvedAt = &resolvedAt
		ncr.ResolutionNotes = notes
	}

	if err := tx.UpdateNCR(ctx, ncr); err != nil {
		return nil, wrapStorage("update_ncr", "不適合報告の更新に失敗しました", err)
	}

	g.logger.Info("不適合報告のステータスを更新しました",
		zap.String("ncr_number", ncr.NCRNumber),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
	)
	return ncr, nil
}
