package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionProcessor posts deliveries and issues against an OPEN period
// 開始中の期間に対して納品・払出を計上する
type TransactionProcessor struct {
	ledger    *StockLedger
	priceBook *PriceBook
	ncrs      *NCRGenerator
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransactionProcessor creates a new transaction processor
// 新しい取引処理を作成
func NewTransactionProcessor(ledger *StockLedger, priceBook *PriceBook, ncrs *NCRGenerator, logger *zap.Logger, now func() time.Time) *TransactionProcessor {
	if now == nil {
		now = time.Now
	}
	return &TransactionProcessor{
		ledger:    ledger,
		priceBook: priceBook,
		ncrs:      ncrs,
		logger:    logger,
		now:       now,
	}
}

// requireOpenPeriod fails with ErrPeriodClosed unless the period is OPEN
// 期間が開始状態であることを確認
func requireOpenPeriod(ctx context.Context, tx Store, periodID string) (*Period, error) {
	period, err := tx.GetPeriodForShare(ctx, periodID)
	if err != nil {
		return nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	if period.Status != PeriodStatusOpen {
		return nil, fmt.Errorf("期間 %s (%s): %w", period.Name, period.Status, ErrPeriodClosed)
	}
	return period, nil
}

// requireOpenLocation rejects postings once the location is READY for close.
// Locations added after the period was opened have no row and stay postable.
// 締め準備完了の拠点への計上を拒否
func requireOpenLocation(ctx context.Context, tx Store, period *Period, locationID string) error {
	pl, err := tx.GetPeriodLocationForShare(ctx, period.ID, locationID)
	if errors.Is(err, ErrPeriodLocationNotFound) {
		return nil
	}
	if err != nil {
		return wrapStorage("get_period_location", "期間の拠点取得に失敗しました", err)
	}
	if pl.Status != PeriodLocationOpen {
		return fmt.Errorf("期間 %s の拠点 %s (%s): %w", period.Name, locationID, pl.Status, ErrPeriodClosed)
	}
	return nil
}

// openPeriodAt finds the OPEN period whose range contains at and locks it
// against a concurrent close
// 指定日時を含む開始中の期間を取得
func openPeriodAt(ctx context.Context, tx Store, at time.Time) (*Period, error) {
	periods, err := tx.ListPeriods(ctx)
	if err != nil {
		return nil, wrapStorage("list_periods", "期間一覧取得に失敗しました", err)
	}
	for _, p := range periods {
		if p.Status != PeriodStatusOpen || !p.Contains(at) {
			continue
		}
		return requireOpenPeriod(ctx, tx, p.ID)
	}
	return nil, fmt.Errorf("%s を含む開始中の期間がありません: %w", at.Format("2006-01-02"), ErrPeriodClosed)
}

// PostDelivery receives every line at its actual price, raising an NCR for
// each line whose price differs from the locked period price
// 納品を計上し、価格差異があれば不適合報告を起票
func (p *TransactionProcessor) PostDelivery(ctx context.Context, tx Store, req DeliveryRequest, user string) (*DeliveryResult, error) {
	period, err := requireOpenPeriod(ctx, tx, req.PeriodID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetLocation(ctx, req.LocationID); err != nil {
		return nil, wrapStorage("get_location", "ロケーション取得に失敗しました", err)
	}
	if err := requireOpenLocation(ctx, tx, period, req.LocationID); err != nil {
		return nil, err
	}

	now := p.now()
	delivery := &Delivery{
		ID:             NewID(),
		DeliveryNumber: req.DeliveryNumber,
		LocationID:     req.LocationID,
		PeriodID:       req.PeriodID,
		Supplier:       req.Supplier,
		DeliveryDate:   req.DeliveryDate,
		PostedBy:       user,
		CreatedAt:      now,
	}
	if delivery.DeliveryNumber == "" {
		delivery.DeliveryNumber = newDocumentNumber("DLV", now)
	}
	if delivery.DeliveryDate.IsZero() {
		delivery.DeliveryDate = now
	}

	variances := make([]*PriceVariance, len(req.Lines))
	total := decimal.Zero
	for i, in := range req.Lines {
		if _, err := tx.GetItem(ctx, in.ItemID); err != nil {
			return nil, wrapStorage("get_item", "商品取得に失敗しました", err)
		}
		entry, found, err := p.priceBook.Lookup(ctx, tx, in.ItemID, req.PeriodID)
		if err != nil {
			return nil, err
		}

		line := DeliveryLine{
			ID:         NewID(),
			DeliveryID: delivery.ID,
			ItemID:     in.ItemID,
			Quantity:   in.Quantity,
			UnitPrice:  in.UnitPrice,
			Variance:   decimal.Zero,
			LineTotal:  RoundMoney(in.Quantity.Mul(in.UnitPrice)),
		}
		if !found {
			// 価格表に登録がない品目は差異チェックを行わない
			p.logger.Debug("価格表の登録がないため差異チェックをスキップします",
				zap.String("item_id", in.ItemID),
				zap.String("period_id", req.PeriodID),
			)
		} else {
			price := entry.Price
			line.PeriodPrice = &price
			if v := DetectVariance(in, entry); v != nil {
				line.Variance = v.Variance
				variances[i] = v
				delivery.HasVariance = true
			}
		}
		total = total.Add(in.Quantity.Mul(in.UnitPrice))
		delivery.Lines = append(delivery.Lines, line)
	}
	delivery.TotalAmount = RoundMoney(total)

	if err := tx.CreateDelivery(ctx, delivery); err != nil {
		return nil, wrapStorage("create_delivery", "納品の登録に失敗しました", err)
	}

	keys := make([]StockKey, 0, len(delivery.Lines))
	for _, line := range delivery.Lines {
		keys = append(keys, StockKey{LocationID: delivery.LocationID, ItemID: line.ItemID})
	}
	if err := p.ledger.LockAll(ctx, tx, keys); err != nil {
		return nil, err
	}

	result := &DeliveryResult{Delivery: delivery, NCRsCreated: []NCR{}}
	for i := range delivery.Lines {
		line := &delivery.Lines[i]
		if v := variances[i]; v != nil {
			ncr, err := p.ncrs.RaiseForVariance(ctx, tx, delivery, line, v, user)
			if err != nil {
				return nil, err
			}
			result.NCRsCreated = append(result.NCRsCreated, *ncr)
		}
		if _, err := p.ledger.Receive(ctx, tx, delivery.LocationID, line.ItemID, line.Quantity, line.UnitPrice); err != nil {
			return nil, err
		}
	}

	p.logger.Info("納品を計上しました",
		zap.String("delivery_id", delivery.ID),
		zap.String("delivery_number", delivery.DeliveryNumber),
		zap.String("location_id", delivery.LocationID),
		zap.String("period_id", delivery.PeriodID),
		zap.Int("lines", len(delivery.Lines)),
		zap.String("total_amount", delivery.TotalAmount.String()),
		zap.Int("ncrs_created", len(result.NCRsCreated)),
	)
	return result, nil
}

// PostIssue consumes every line at the current WAC. All lines are checked
// before any is applied, and every deficient item is reported together.
// 払出を計上（全明細を事前チェックしてから反映）
func (p *TransactionProcessor) PostIssue(ctx context.Context, tx Store, req IssueRequest, user string) (*Issue, error) {
	period, err := requireOpenPeriod(ctx, tx, req.PeriodID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetLocation(ctx, req.LocationID); err != nil {
		return nil, wrapStorage("get_location", "ロケーション取得に失敗しました", err)
	}
	if err := requireOpenLocation(ctx, tx, period, req.LocationID); err != nil {
		return nil, err
	}

	requests := make([]stockRequest, 0, len(req.Lines))
	for _, in := range req.Lines {
		requests = append(requests, stockRequest{itemID: in.ItemID, quantity: in.Quantity})
	}
	if err := p.ledger.CheckAvailability(ctx, tx, req.LocationID, requests); err != nil {
		return nil, err
	}

	now := p.now()
	issue := &Issue{
		ID:          NewID(),
		IssueNumber: newDocumentNumber("ISS", now),
		LocationID:  req.LocationID,
		PeriodID:    req.PeriodID,
		CostCentre:  req.CostCentre,
		IssueDate:   req.IssueDate,
		PostedBy:    user,
		CreatedAt:   now,
	}
	if issue.IssueDate.IsZero() {
		issue.IssueDate = now
	}

	total := decimal.Zero
	for _, in := range req.Lines {
		wac, err := p.ledger.Consume(ctx, tx, req.LocationID, in.ItemID, in.Quantity)
		if err != nil {
			return nil, err
		}
		value := RoundMoney(in.Quantity.Mul(wac))
		total = total.Add(value)
		issue.Lines = append(issue.Lines, IssueLine{
			ID:        NewID(),
			IssueID:   issue.ID,
			ItemID:    in.ItemID,
			Quantity:  in.Quantity,
			WAC:       wac,
			LineValue: value,
		})
	}
	issue.TotalValue = total

	if err := tx.CreateIssue(ctx, issue); err != nil {
		return nil, wrapStorage("create_issue", "払出の登録に失敗しました", err)
	}

	p.logger.Info("払出を計上しました",
		zap.String("issue_id", issue.ID),
		zap.String("location_id", issue.LocationID),
		zap.String("period_id", issue.PeriodID),
		zap.String("cost_centre", issue.CostCentre),
		zap.Int("lines", len(issue.Lines)),
		zap.String("total_value", issue.TotalValue.String()),
	)
	return issue, nil
}
