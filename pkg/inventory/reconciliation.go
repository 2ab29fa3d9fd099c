package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconciliationEngine computes period-end consumption per location
// 拠点ごとの期末消費額を照合計算する
type ReconciliationEngine struct {
	ledger *StockLedger
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciliationEngine creates a new reconciliation engine
// 新しい照合エンジンを作成
func NewReconciliationEngine(ledger *StockLedger, logger *zap.Logger, now func() time.Time) *ReconciliationEngine {
	if now == nil {
		now = time.Now
	}
	return &ReconciliationEngine{ledger: ledger, logger: logger, now: now}
}

// GetOrCompute returns the saved reconciliation, or computes one from the
// committed postings and the live ledger. autoCalculated is true in the latter case.
// 保存済みの照合を返すか、未保存なら計算する
func (e *ReconciliationEngine) GetOrCompute(ctx context.Context, tx Store, periodID, locationID string) (*Reconciliation, bool, error) {
	saved, err := tx.GetReconciliation(ctx, periodID, locationID)
	if err == nil {
		return saved, false, nil
	}
	if !errors.Is(err, ErrReconciliationNotFound) {
		return nil, false, wrapStorage("get_reconciliation", "照合の取得に失敗しました", err)
	}

	period, pl, err := e.load(ctx, tx, periodID, locationID)
	if err != nil {
		return nil, false, err
	}
	rec, err := e.compute(ctx, tx, period, pl)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// CaptureAtReady recomputes the base components from the committed postings
// and saves them. Manual adjustments already saved are carried over.
// 準備完了時点の基本項目で照合を保存（手動調整は引き継ぐ）
func (e *ReconciliationEngine) CaptureAtReady(ctx context.Context, tx Store, period *Period, pl *PeriodLocation, user string) (*Reconciliation, error) {
	rec, err := e.compute(ctx, tx, period, pl)
	if err != nil {
		return nil, err
	}

	saved, err := tx.GetReconciliation(ctx, period.ID, pl.LocationID)
	switch {
	case err == nil:
		rec.BackCharges = saved.BackCharges
		rec.Credits = saved.Credits
		rec.Condemnations = saved.Condemnations
		rec.Adjustments = saved.Adjustments
		applyReconciliationTotals(rec)
	case !errors.Is(err, ErrReconciliationNotFound):
		return nil, wrapStorage("get_reconciliation", "照合の取得に失敗しました", err)
	}

	now := e.now()
	rec.SavedBy = user
	rec.SavedAt = &now
	if err := tx.SaveReconciliation(ctx, rec); err != nil {
		return nil, wrapStorage("save_reconciliation", "照合の保存に失敗しました", err)
	}
	return rec, nil
}

// SaveAdjustments records the manual adjustments. The first save freezes the
// base components computed at that moment; later saves only replace the adjustments.
// 手動調整を保存（初回保存時に基本項目を固定）
func (e *ReconciliationEngine) SaveAdjustments(ctx context.Context, tx Store, req SaveAdjustmentsRequest, user string) (*Reconciliation, error) {
	period, pl, err := e.load(ctx, tx, req.PeriodID, req.LocationID)
	if err != nil {
		return nil, err
	}
	if period.Status == PeriodStatusClosed {
		return nil, fmt.Errorf("期間 %s: %w", period.Name, ErrPeriodClosed)
	}

	rec, err := tx.GetReconciliation(ctx, req.PeriodID, req.LocationID)
	switch {
	case errors.Is(err, ErrReconciliationNotFound):
		rec, err = e.compute(ctx, tx, period, pl)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, wrapStorage("get_reconciliation", "照合の取得に失敗しました", err)
	}

	rec.BackCharges = RoundMoney(req.BackCharges)
	rec.Credits = RoundMoney(req.Credits)
	rec.Condemnations = RoundMoney(req.Condemnations)
	rec.Adjustments = RoundMoney(req.Adjustments)
	applyReconciliationTotals(rec)

	now := e.now()
	rec.SavedBy = user
	rec.SavedAt = &now
	if err := tx.SaveReconciliation(ctx, rec); err != nil {
		return nil, wrapStorage("save_reconciliation", "照合の保存に失敗しました", err)
	}

	e.logger.Info("照合を保存しました",
		zap.String("period_id", rec.PeriodID),
		zap.String("location_id", rec.LocationID),
		zap.String("consumption", rec.Consumption.String()),
		zap.String("saved_by", user),
	)
	return rec, nil
}

// RecordMandays stores the persons fed at a location on one day of the period
// 期間内の日別食数を記録
func (e *ReconciliationEngine) RecordMandays(ctx context.Context, tx Store, req MandayRequest) (*MandayEntry, error) {
	period, _, err := e.load(ctx, tx, req.PeriodID, req.LocationID)
	if err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, NewValidationError("date", "日付が指定されていません", "")
	}
	if !period.Contains(req.Date) {
		return nil, NewValidationError("date", "日付が期間外です", req.Date.Format("2006-01-02"))
	}

	entry := &MandayEntry{
		PeriodID:   req.PeriodID,
		LocationID: req.LocationID,
		Date:       truncateDay(req.Date),
		Count:      RoundQuantity(req.Count),
	}
	if err := tx.SaveMandays(ctx, entry); err != nil {
		return nil, wrapStorage("save_mandays", "食数の記録に失敗しました", err)
	}
	return entry, nil
}

func (e *ReconciliationEngine) load(ctx context.Context, tx Store, periodID, locationID string) (*Period, *PeriodLocation, error) {
	period, err := tx.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	pl, err := tx.GetPeriodLocation(ctx, periodID, locationID)
	if err != nil {
		return nil, nil, wrapStorage("get_period_location", "期間の拠点取得に失敗しました", err)
	}
	return period, pl, nil
}

// compute builds an unsaved reconciliation. Every component is rounded to
// cents first so the consumption identity holds exactly.
func (e *ReconciliationEngine) compute(ctx context.Context, tx Store, period *Period, pl *PeriodLocation) (*Reconciliation, error) {
	receipts, err := tx.SumDeliveries(ctx, period.ID, pl.LocationID)
	if err != nil {
		return nil, wrapStorage("sum_deliveries", "納品合計の取得に失敗しました", err)
	}
	issues, err := tx.SumIssues(ctx, period.ID, pl.LocationID)
	if err != nil {
		return nil, wrapStorage("sum_issues", "払出合計の取得に失敗しました", err)
	}
	from, to := periodBounds(period)
	transfersIn, transfersOut, err := tx.SumCompletedTransfers(ctx, pl.LocationID, from, to)
	if err != nil {
		return nil, wrapStorage("sum_transfers", "移動合計の取得に失敗しました", err)
	}

	var closing decimal.Decimal
	if pl.Status == PeriodLocationClosed && pl.ClosingValue != nil {
		closing = *pl.ClosingValue
	} else {
		closing, err = e.ledger.Valuation(ctx, tx, pl.LocationID)
		if err != nil {
			return nil, err
		}
	}
	mandays, err := tx.SumMandays(ctx, period.ID, pl.LocationID)
	if err != nil {
		return nil, wrapStorage("sum_mandays", "食数合計の取得に失敗しました", err)
	}

	rec := &Reconciliation{
		PeriodID:      period.ID,
		LocationID:    pl.LocationID,
		OpeningStock:  RoundMoney(pl.OpeningValue),
		Receipts:      RoundMoney(receipts),
		TransfersIn:   RoundMoney(transfersIn),
		TransfersOut:  RoundMoney(transfersOut),
		Issues:        RoundMoney(issues),
		ClosingStock:  RoundMoney(closing),
		BackCharges:   decimal.Zero,
		Credits:       decimal.Zero,
		Condemnations: decimal.Zero,
		Adjustments:   decimal.Zero,
		TotalMandays:  mandays,
	}
	rec.BaseConsumption = rec.OpeningStock.
		Add(rec.Receipts).
		Add(rec.TransfersIn).
		Sub(rec.TransfersOut).
		Sub(rec.Issues).
		Sub(rec.ClosingStock)
	applyReconciliationTotals(rec)
	return rec, nil
}

// applyReconciliationTotals derives adjustments, consumption and manday cost
// 調整合計・消費額・人日単価を算出
func applyReconciliationTotals(rec *Reconciliation) {
	rec.TotalAdjustments = sumMoney(rec.BackCharges, rec.Credits.Neg(), rec.Condemnations, rec.Adjustments)
	rec.Consumption = rec.BaseConsumption.Add(rec.TotalAdjustments)
	if rec.TotalMandays.Sign() > 0 {
		cost := RoundMoney(rec.Consumption.DivRound(rec.TotalMandays, wacDivisionPrecision))
		rec.MandayCost = &cost
	} else {
		rec.MandayCost = nil
	}
}

// periodBounds returns the first and last instant of the period's date range
func periodBounds(p *Period) (time.Time, time.Time) {
	from := truncateDay(p.StartDate)
	to := truncateDay(p.EndDate).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return from, to
}
