package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PeriodManager drives the period lifecycle, location readiness and the
// coordinated multi-location close
// 期間のライフサイクル・拠点準備・一括締めを管理
type PeriodManager struct {
	ledger    *StockLedger
	priceBook *PriceBook
	recon     *ReconciliationEngine
	logger    *zap.Logger
	now       func() time.Time
}

// NewPeriodManager creates a new period manager
// 新しい期間マネージャーを作成
func NewPeriodManager(ledger *StockLedger, priceBook *PriceBook, recon *ReconciliationEngine, logger *zap.Logger, now func() time.Time) *PeriodManager {
	if now == nil {
		now = time.Now
	}
	return &PeriodManager{
		ledger:    ledger,
		priceBook: priceBook,
		recon:     recon,
		logger:    logger,
		now:       now,
	}
}

// Create adds a DRAFT period
// 準備中の期間を作成
func (m *PeriodManager) Create(ctx context.Context, tx Store, req CreatePeriodRequest) (*Period, error) {
	if err := validateDateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	period := &Period{
		ID:        NewID(),
		Name:      req.Name,
		StartDate: truncateDay(req.StartDate),
		EndDate:   truncateDay(req.EndDate),
		Status:    PeriodStatusDraft,
		CreatedAt: m.now(),
	}
	if err := tx.CreatePeriod(ctx, period); err != nil {
		return nil, wrapStorage("create_period", "期間の作成に失敗しました", err)
	}
	return period, nil
}

// SetPrice sets a price book entry. Prices are editable only while the period is DRAFT.
// 価格を設定（準備中の期間のみ）
func (m *PeriodManager) SetPrice(ctx context.Context, tx Store, req SetPriceRequest, user string) (*PriceBookEntry, error) {
	period, err := tx.GetPeriodForUpdate(ctx, req.PeriodID)
	if err != nil {
		return nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	if period.Status != PeriodStatusDraft {
		return nil, &PriceLockedError{PeriodID: period.ID, ItemID: req.ItemID, Status: period.Status}
	}
	if _, err := tx.GetItem(ctx, req.ItemID); err != nil {
		return nil, wrapStorage("get_item", "商品取得に失敗しました", err)
	}
	entry := &PriceBookEntry{
		ItemID:   req.ItemID,
		PeriodID: req.PeriodID,
		Price:    req.Price,
		SetBy:    user,
	}
	if err := m.priceBook.Set(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Activate moves a DRAFT period to OPEN and seeds one PeriodLocation per
// active location with the closing value of its latest closed period
// 期間を開始し、拠点ごとに期首在庫を設定
func (m *PeriodManager) Activate(ctx context.Context, tx Store, periodID string) (*Period, error) {
	period, err := tx.GetPeriodForUpdate(ctx, periodID)
	if err != nil {
		return nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	if !period.Status.CanTransitionTo(PeriodStatusOpen) {
		return nil, NewInvalidStatusTransitionError("period", period.ID, string(period.Status), string(PeriodStatusOpen))
	}

	periods, err := tx.ListPeriods(ctx)
	if err != nil {
		return nil, wrapStorage("list_periods", "期間一覧取得に失敗しました", err)
	}
	for _, other := range periods {
		if other.ID != period.ID && other.Status == PeriodStatusOpen {
			return nil, fmt.Errorf("期間 %s が既に開始されています: %w", other.Name, ErrInvalidStatusTransition)
		}
	}
	previous := closedBefore(periods, period)

	locations, err := tx.ListLocations(ctx, true)
	if err != nil {
		return nil, wrapStorage("list_locations", "ロケーション一覧取得に失敗しました", err)
	}
	for _, loc := range locations {
		if _, err := tx.GetPeriodLocation(ctx, period.ID, loc.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrPeriodLocationNotFound) {
			return nil, wrapStorage("get_period_location", "期間の拠点取得に失敗しました", err)
		}
		opening, err := openingValue(ctx, tx, previous, loc.ID)
		if err != nil {
			return nil, err
		}
		pl := &PeriodLocation{
			PeriodID:     period.ID,
			LocationID:   loc.ID,
			Status:       PeriodLocationOpen,
			OpeningValue: opening,
		}
		if err := tx.CreatePeriodLocation(ctx, pl); err != nil {
			return nil, wrapStorage("create_period_location", "期間の拠点作成に失敗しました", err)
		}
	}

	now := m.now()
	period.Status = PeriodStatusOpen
	period.OpenedAt = &now
	if err := tx.UpdatePeriod(ctx, period); err != nil {
		return nil, wrapStorage("update_period", "期間の更新に失敗しました", err)
	}

	m.logger.Info("期間を開始しました",
		zap.String("period_id", period.ID),
		zap.String("name", period.Name),
		zap.Int("locations", len(locations)),
	)
	return period, nil
}

// Open creates a period, sets its prices and activates it in one step
// 期間の作成・価格設定・開始を一括実行
func (m *PeriodManager) Open(ctx context.Context, tx Store, req OpenPeriodRequest, user string) (*Period, error) {
	period, err := m.Create(ctx, tx, CreatePeriodRequest{Name: req.Name, StartDate: req.StartDate, EndDate: req.EndDate})
	if err != nil {
		return nil, err
	}
	for _, p := range req.Prices {
		if _, err := m.SetPrice(ctx, tx, SetPriceRequest{PeriodID: period.ID, ItemID: p.ItemID, Price: p.Price}, user); err != nil {
			return nil, err
		}
	}
	return m.Activate(ctx, tx, period.ID)
}

// MarkReady moves a location to READY and saves its reconciliation as of now.
// Postings at the location are refused until it is reopened.
// A reconciliation without mandays still qualifies.
// 拠点を準備完了にする（照合を現時点の値で保存）
func (m *PeriodManager) MarkReady(ctx context.Context, tx Store, periodID, locationID, user string) (*PeriodLocation, error) {
	period, err := requireOpenPeriod(ctx, tx, periodID)
	if err != nil {
		return nil, err
	}
	pl, err := tx.GetPeriodLocationForUpdate(ctx, periodID, locationID)
	if err != nil {
		return nil, wrapStorage("get_period_location", "期間の拠点取得に失敗しました", err)
	}
	if !pl.Status.CanTransitionTo(PeriodLocationReady) {
		return nil, NewInvalidStatusTransitionError("period_location", locationID, string(pl.Status), string(PeriodLocationReady))
	}

	rec, err := m.recon.CaptureAtReady(ctx, tx, period, pl, user)
	if err != nil {
		return nil, err
	}

	now := m.now()
	pl.Status = PeriodLocationReady
	pl.ReadyAt = &now
	if err := tx.UpdatePeriodLocation(ctx, pl); err != nil {
		return nil, wrapStorage("update_period_location", "期間の拠点更新に失敗しました", err)
	}

	m.logger.Info("拠点を準備完了にしました",
		zap.String("period_id", periodID),
		zap.String("location_id", locationID),
		zap.String("consumption", rec.Consumption.String()),
		zap.Bool("manday_cost_defined", rec.MandayCost != nil),
	)
	return pl, nil
}

// Reopen moves a READY location back to OPEN
// 準備完了の拠点を未完了に戻す
func (m *PeriodManager) Reopen(ctx context.Context, tx Store, periodID, locationID string) (*PeriodLocation, error) {
	if _, err := requireOpenPeriod(ctx, tx, periodID); err != nil {
		return nil, err
	}
	pl, err := tx.GetPeriodLocationForUpdate(ctx, periodID, locationID)
	if err != nil {
		return nil, wrapStorage("get_period_location", "期間の拠点取得に失敗しました", err)
	}
	if !pl.Status.CanTransitionTo(PeriodLocationOpen) {
		return nil, NewInvalidStatusTransitionError("period_location", locationID, string(pl.Status), string(PeriodLocationOpen))
	}
	pl.Status = PeriodLocationOpen
	pl.ReadyAt = nil
	if err := tx.UpdatePeriodLocation(ctx, pl); err != nil {
		return nil, wrapStorage("update_period_location", "期間の拠点更新に失敗しました", err)
	}
	return pl, nil
}

// RequestClose moves an OPEN period to PENDING_CLOSE once every location is READY
// 締め申請（全拠点が準備完了であること）
func (m *PeriodManager) RequestClose(ctx context.Context, tx Store, periodID string) (*Period, error) {
	return m.advance(ctx, tx, periodID, PeriodStatusPendingClose, true)
}

// WithdrawClose returns a PENDING_CLOSE period to OPEN
// 締め申請を取り下げる
func (m *PeriodManager) WithdrawClose(ctx context.Context, tx Store, periodID string) (*Period, error) {
	return m.advance(ctx, tx, periodID, PeriodStatusOpen, false)
}

// ApproveClose moves a PENDING_CLOSE period to APPROVED
// 締めを承認
func (m *PeriodManager) ApproveClose(ctx context.Context, tx Store, periodID string) (*Period, error) {
	return m.advance(ctx, tx, periodID, PeriodStatusApproved, true)
}

func (m *PeriodManager) advance(ctx context.Context, tx Store, periodID string, to PeriodStatus, requireReady bool) (*Period, error) {
	period, err := tx.GetPeriodForUpdate(ctx, periodID)
	if err != nil {
		return nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	if !period.Status.CanTransitionTo(to) {
		return nil, NewInvalidStatusTransitionError("period", period.ID, string(period.Status), string(to))
	}
	if requireReady {
		if _, err := m.readyLocations(ctx, tx, period.ID); err != nil {
			return nil, err
		}
	}
	from := period.Status
	period.Status = to
	if err := tx.UpdatePeriod(ctx, period); err != nil {
		return nil, wrapStorage("update_period", "期間の更新に失敗しました", err)
	}
	m.logger.Info("期間のステータスを更新しました",
		zap.String("period_id", period.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return period, nil
}

// readyLocations returns the period's locations, failing with
// *LocationsNotReadyError when any of them is not READY
func (m *PeriodManager) readyLocations(ctx context.Context, tx Store, periodID string) ([]PeriodLocation, error) {
	pls, err := tx.ListPeriodLocations(ctx, periodID)
	if err != nil {
		return nil, wrapStorage("list_period_locations", "期間の拠点一覧取得に失敗しました", err)
	}
	var notReady []NotReadyLocation
	for _, pl := range pls {
		if pl.Status == PeriodLocationReady {
			continue
		}
		nr := NotReadyLocation{LocationID: pl.LocationID, Status: pl.Status}
		if loc, err := tx.GetLocation(ctx, pl.LocationID); err == nil {
			nr.Name = loc.Name
		}
		notReady = append(notReady, nr)
	}
	if len(notReady) > 0 {
		return nil, &LocationsNotReadyError{PeriodID: periodID, Locations: notReady}
	}
	return pls, nil
}

// closeChain is the path a period walks to CLOSED from each closable status
var closeChain = map[PeriodStatus][]PeriodStatus{
	PeriodStatusOpen:         {PeriodStatusPendingClose, PeriodStatusApproved, PeriodStatusClosed},
	PeriodStatusPendingClose: {PeriodStatusApproved, PeriodStatusClosed},
	PeriodStatusApproved:     {PeriodStatusClosed},
}

// Close snapshots every location and closes the period. Nothing is written
// unless every location is READY.
// 全拠点の在庫をスナップショットして期間を締める
func (m *PeriodManager) Close(ctx context.Context, tx Store, periodID, user string) (*PeriodCloseResult, error) {
	period, err := tx.GetPeriodForUpdate(ctx, periodID)
	if err != nil {
		return nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	chain, ok := closeChain[period.Status]
	if !ok {
		return nil, NewInvalidStatusTransitionError("period", period.ID, string(period.Status), string(PeriodStatusClosed))
	}

	pls, err := m.readyLocations(ctx, tx, period.ID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	for i := range pls {
		pl := &pls[i]
		lines, total, err := m.ledger.Snapshot(ctx, tx, pl.LocationID)
		if err != nil {
			return nil, err
		}
		if !pl.Status.CanTransitionTo(PeriodLocationClosed) {
			return nil, NewInvalidStatusTransitionError("period_location", pl.LocationID, string(pl.Status), string(PeriodLocationClosed))
		}
		closing := total
		pl.Snapshot = lines
		pl.ClosingValue = &closing
		pl.Status = PeriodLocationClosed
		pl.ClosedAt = &now
		if err := tx.UpdatePeriodLocation(ctx, pl); err != nil {
			return nil, wrapStorage("update_period_location", "期間の拠点更新に失敗しました", err)
		}
	}

	for _, next := range chain {
		if !period.Status.CanTransitionTo(next) {
			return nil, NewInvalidStatusTransitionError("period", period.ID, string(period.Status), string(next))
		}
		period.Status = next
	}
	period.ClosedAt = &now
	period.ClosedBy = user
	if err := tx.UpdatePeriod(ctx, period); err != nil {
		return nil, wrapStorage("update_period", "期間の更新に失敗しました", err)
	}

	m.logger.Info("期間を締めました",
		zap.String("period_id", period.ID),
		zap.String("name", period.Name),
		zap.Int("locations", len(pls)),
		zap.String("closed_by", user),
	)
	return &PeriodCloseResult{Period: period, Locations: pls}, nil
}

// RollForward prepares and opens the period following a CLOSED one. A DRAFT
// period starting after it is reused; otherwise the next calendar month is created.
// 締め済み期間の次期間を準備して開始
func (m *PeriodManager) RollForward(ctx context.Context, tx Store, periodID string, opts RollForwardOptions, user string) (*Period, error) {
	closed, err := tx.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, wrapStorage("get_period", "期間取得に失敗しました", err)
	}
	if closed.Status != PeriodStatusClosed {
		return nil, NewInvalidStatusTransitionError("period", closed.ID, string(closed.Status), "ROLL_FORWARD")
	}

	periods, err := tx.ListPeriods(ctx)
	if err != nil {
		return nil, wrapStorage("list_periods", "期間一覧取得に失敗しました", err)
	}
	next := nextDraft(periods, closed)
	if next == nil {
		start := truncateDay(closed.EndDate).AddDate(0, 0, 1)
		end := start.AddDate(0, 1, -start.Day())
		name := opts.Name
		if name == "" {
			name = start.Format("2006-01")
		}
		next, err = m.Create(ctx, tx, CreatePeriodRequest{Name: name, StartDate: start, EndDate: end})
		if err != nil {
			return nil, err
		}
	}

	if opts.CopyPrices {
		copied, err := m.priceBook.CopyMissing(ctx, tx, closed.ID, next.ID, user)
		if err != nil {
			return nil, err
		}
		m.logger.Info("価格表を次期間へ複写しました",
			zap.String("from_period_id", closed.ID),
			zap.String("to_period_id", next.ID),
			zap.Int("copied", copied),
		)
	}

	return m.Activate(ctx, tx, next.ID)
}

// closedBefore returns the latest CLOSED period ending before p starts
func closedBefore(periods []Period, p *Period) *Period {
	var candidates []Period
	for _, other := range periods {
		if other.ID != p.ID && other.Status == PeriodStatusClosed && other.EndDate.Before(p.StartDate) {
			candidates = append(candidates, other)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EndDate.After(candidates[j].EndDate)
	})
	return &candidates[0]
}

// nextDraft returns the earliest DRAFT period starting after p ends
func nextDraft(periods []Period, p *Period) *Period {
	var found *Period
	for i := range periods {
		other := periods[i]
		if other.Status != PeriodStatusDraft || !other.StartDate.After(p.EndDate) {
			continue
		}
		if found == nil || other.StartDate.Before(found.StartDate) {
			found = &other
		}
	}
	return found
}

func openingValue(ctx context.Context, tx Store, previous *Period, locationID string) (decimal.Decimal, error) {
	if previous == nil {
		return decimal.Zero, nil
	}
	pl, err := tx.GetPeriodLocation(ctx, previous.ID, locationID)
	if errors.Is(err, ErrPeriodLocationNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, wrapStorage("get_period_location", "期間の拠点取得に失敗しました", err)
	}
	if pl.ClosingValue == nil {
		return decimal.Zero, nil
	}
	return *pl.ClosingValue, nil
}
