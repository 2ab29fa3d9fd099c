package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
	"github.com/nemonet1337/zaiCostLedger/pkg/inventory/storage"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, label string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", label, want, got.String())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fixture は3拠点・2品目・開始済みの3月期間を持つテスト環境
type fixture struct {
	t       *testing.T
	ctx     context.Context
	manager *inventory.Manager
	period  *inventory.Period
}

func newFixture(t *testing.T, publisher inventory.EventPublisher) *fixture {
	t.Helper()
	return newFixtureOn(t, storage.NewMemory(), publisher)
}

func newFixtureOn(t *testing.T, store inventory.Storage, publisher inventory.EventPublisher) *fixture {
	t.Helper()
	manager := inventory.NewManager(store, publisher, zap.NewNop(), &inventory.Config{
		NCRPrefix: inventory.DefaultNCRPrefix,
		Clock:     func() time.Time { return testNow },
	})
	ctx := inventory.WithUserID(context.Background(), "tester")

	locations := []inventory.Location{
		{ID: "KITCHEN", Code: "L01", Name: "Kitchen", Type: inventory.LocationTypeKitchen, IsActive: true},
		{ID: "STORE", Code: "L02", Name: "Main Store", Type: inventory.LocationTypeStore, IsActive: true},
		{ID: "SATELLITE", Code: "L03", Name: "Satellite", Type: inventory.LocationTypeSatellite, IsActive: true},
	}
	for i := range locations {
		require.NoError(t, manager.CreateLocation(ctx, &locations[i]))
	}
	items := []inventory.Item{
		{ID: "BEEF", Code: "I01", Name: "Beef", Unit: "kg", IsActive: true},
		{ID: "RICE", Code: "I02", Name: "Rice", Unit: "kg", IsActive: true},
	}
	for i := range items {
		require.NoError(t, manager.CreateItem(ctx, &items[i]))
	}

	period, err := manager.OpenPeriod(ctx, inventory.OpenPeriodRequest{
		Name:      "2026-03",
		StartDate: day(2026, time.March, 1),
		EndDate:   day(2026, time.March, 31),
		Prices:    []inventory.PriceInput{{ItemID: "BEEF", Price: dec("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, inventory.PeriodStatusOpen, period.Status)

	return &fixture{t: t, ctx: ctx, manager: manager, period: period}
}

func (f *fixture) deliver(locationID, itemID, qty, price string) *inventory.DeliveryResult {
	f.t.Helper()
	result, err := f.manager.PostDelivery(f.ctx, inventory.DeliveryRequest{
		LocationID: locationID,
		PeriodID:   f.period.ID,
		Supplier:   "Acme Foods",
		Lines:      []inventory.DeliveryLineInput{{ItemID: itemID, Quantity: dec(qty), UnitPrice: dec(price)}},
	})
	require.NoError(f.t, err)
	return result
}

func (f *fixture) issue(locationID string, lines ...inventory.IssueLineInput) (*inventory.Issue, error) {
	return f.manager.PostIssue(f.ctx, inventory.IssueRequest{
		LocationID: locationID,
		PeriodID:   f.period.ID,
		CostCentre: "CC-100",
		Lines:      lines,
	})
}

func (f *fixture) transfer(from, to, itemID, qty string) *inventory.Transfer {
	f.t.Helper()
	transfer, err := f.manager.CreateTransfer(f.ctx, inventory.TransferRequest{
		FromLocationID: from,
		ToLocationID:   to,
		Lines:          []inventory.TransferLineInput{{ItemID: itemID, Quantity: dec(qty)}},
	})
	require.NoError(f.t, err)
	return transfer
}

func (f *fixture) stock(locationID, itemID string) *inventory.LocationStock {
	f.t.Helper()
	stock, err := f.manager.GetStock(f.ctx, locationID, itemID)
	require.NoError(f.t, err)
	return stock
}

// receiveRice は 100@5 と 50@8 を入荷し、在庫150・単価6の状態を作る
func (f *fixture) receiveRice() {
	f.t.Helper()
	f.deliver("KITCHEN", "RICE", "100", "5.00")
	f.deliver("KITCHEN", "RICE", "50", "8.00")
}

func TestManager_ReceiptRecomputesWAC(t *testing.T) {
	f := newFixture(t, nil)

	first := f.deliver("KITCHEN", "RICE", "100", "5.00")
	assert.Empty(t, first.NCRsCreated, "価格表にない品目は差異チェック対象外")
	assertDecimal(t, "500.00", first.Delivery.TotalAmount, "total")
	stock := f.stock("KITCHEN", "RICE")
	assertDecimal(t, "100", stock.Quantity, "quantity")
	assertDecimal(t, "5", stock.WAC, "wac")

	f.deliver("KITCHEN", "RICE", "50", "8.00")
	stock = f.stock("KITCHEN", "RICE")
	assertDecimal(t, "150", stock.Quantity, "quantity")
	assertDecimal(t, "6", stock.WAC, "wac")
}

func TestManager_IssueKeepsWAC(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveRice()

	issue, err := f.issue("KITCHEN", inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("30")})
	require.NoError(t, err)
	require.Len(t, issue.Lines, 1)
	assertDecimal(t, "6", issue.Lines[0].WAC, "line wac")
	assertDecimal(t, "180.00", issue.Lines[0].LineValue, "line value")
	assertDecimal(t, "180.00", issue.TotalValue, "total")
	assert.Equal(t, "tester", issue.PostedBy)

	stock := f.stock("KITCHEN", "RICE")
	assertDecimal(t, "120", stock.Quantity, "quantity")
	assertDecimal(t, "6", stock.WAC, "wac")
}

func TestManager_TransferApproval(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveRice()
	_, err := f.issue("KITCHEN", inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("30")})
	require.NoError(t, err)

	transfer := f.transfer("KITCHEN", "STORE", "RICE", "50")
	assert.Equal(t, inventory.TransferStatusPendingApproval, transfer.Status)
	assert.Equal(t, "tester", transfer.RequestedBy)
	assertDecimal(t, "6", transfer.Lines[0].WACAtTransfer, "frozen wac")
	assertDecimal(t, "300.00", transfer.TotalValue, "total")
	// 承認前は在庫が動かない
	assertDecimal(t, "120", f.stock("KITCHEN", "RICE").Quantity, "source before approval")

	approved, err := f.manager.ApproveTransfer(f.ctx, transfer.ID, "supervisor-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferStatusCompleted, approved.Status)
	assert.Equal(t, "supervisor-1", approved.ApprovedBy)
	require.NotNil(t, approved.TransferDate)
	assert.Equal(t, testNow, *approved.TransferDate)

	source := f.stock("KITCHEN", "RICE")
	dest := f.stock("STORE", "RICE")
	assertDecimal(t, "70", source.Quantity, "source quantity")
	assertDecimal(t, "6", source.WAC, "source wac")
	assertDecimal(t, "50", dest.Quantity, "dest quantity")
	assertDecimal(t, "6", dest.WAC, "dest wac")

	stored, err := f.manager.GetTransfer(f.ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferStatusCompleted, stored.Status)

	_, err = f.manager.ApproveTransfer(f.ctx, transfer.ID, "supervisor-1")
	assert.ErrorIs(t, err, inventory.ErrInvalidStatusTransition, "二重承認は不可")
}

func TestManager_IssueInsufficientStock(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "70", "6.00")

	_, err := f.issue("KITCHEN", inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("100")})
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortages, 1)
	assert.Equal(t, "Rice", stockErr.Shortages[0].ItemName)
	assertDecimal(t, "100", stockErr.Shortages[0].Requested, "requested")
	assertDecimal(t, "70", stockErr.Shortages[0].Available, "available")

	assertDecimal(t, "70", f.stock("KITCHEN", "RICE").Quantity, "unchanged")
}

func TestManager_IssueReportsEveryShortage(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "10", "2.00")

	_, err := f.issue("KITCHEN",
		inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("6")},
		inventory.IssueLineInput{ItemID: "BEEF", Quantity: dec("1")},
		inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("6")},
	)
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortages, 2)
	// 品目ID順に報告される
	assert.Equal(t, "BEEF", stockErr.Shortages[0].ItemID)
	assertDecimal(t, "0", stockErr.Shortages[0].Available, "never received")
	assert.Equal(t, "RICE", stockErr.Shortages[1].ItemID)
	assertDecimal(t, "12", stockErr.Shortages[1].Requested, "summed request")

	// 一部の明細だけが反映されることはない
	assertDecimal(t, "10", f.stock("KITCHEN", "RICE").Quantity, "unchanged")
}

func TestManager_DeliveryWithUnknownItemPostsNothing(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.PostDelivery(f.ctx, inventory.DeliveryRequest{
		LocationID: "KITCHEN",
		PeriodID:   f.period.ID,
		Lines: []inventory.DeliveryLineInput{
			{ItemID: "RICE", Quantity: dec("10"), UnitPrice: dec("5")},
			{ItemID: "GHOST", Quantity: dec("1"), UnitPrice: dec("1")},
		},
	})
	assert.ErrorIs(t, err, inventory.ErrItemNotFound)
	assert.True(t, inventory.IsNotFound(err))
	assertDecimal(t, "0", f.stock("KITCHEN", "RICE").Quantity, "nothing received")
}

func TestManager_PostingRequiresOpenPeriod(t *testing.T) {
	f := newFixture(t, nil)

	draft, err := f.manager.CreatePeriod(f.ctx, inventory.CreatePeriodRequest{
		Name:      "2026-04",
		StartDate: day(2026, time.April, 1),
		EndDate:   day(2026, time.April, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, inventory.PeriodStatusDraft, draft.Status)

	_, err = f.manager.PostDelivery(f.ctx, inventory.DeliveryRequest{
		LocationID: "KITCHEN",
		PeriodID:   draft.ID,
		Lines:      []inventory.DeliveryLineInput{{ItemID: "RICE", Quantity: dec("1"), UnitPrice: dec("1")}},
	})
	assert.ErrorIs(t, err, inventory.ErrPeriodClosed)

	_, err = f.manager.PostIssue(f.ctx, inventory.IssueRequest{
		LocationID: "KITCHEN",
		PeriodID:   draft.ID,
		Lines:      []inventory.IssueLineInput{{ItemID: "RICE", Quantity: dec("1")}},
	})
	assert.ErrorIs(t, err, inventory.ErrPeriodClosed)
	assertDecimal(t, "0", f.stock("KITCHEN", "RICE").Quantity, "unchanged")
}

func TestManager_ValidationRejectedBeforeLedger(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.PostDelivery(f.ctx, inventory.DeliveryRequest{
		LocationID: "KITCHEN",
		PeriodID:   f.period.ID,
		Lines:      []inventory.DeliveryLineInput{{ItemID: "RICE", Quantity: dec("-1"), UnitPrice: dec("1")}},
	})
	var verr *inventory.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lines[0].quantity", verr.Field)
}

func TestManager_QuantityFinerThanLedgerScaleRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "10", "2")

	for _, qty := range []string{"0.00004", "1.00005"} {
		_, err := f.manager.PostDelivery(f.ctx, inventory.DeliveryRequest{
			LocationID: "KITCHEN",
			PeriodID:   f.period.ID,
			Lines:      []inventory.DeliveryLineInput{{ItemID: "RICE", Quantity: dec(qty), UnitPrice: dec("2")}},
		})
		var verr *inventory.ValidationError
		require.ErrorAs(t, err, &verr, qty)
		assert.Equal(t, "lines[0].quantity", verr.Field)

		_, err = f.issue("KITCHEN", inventory.IssueLineInput{ItemID: "RICE", Quantity: dec(qty)})
		assert.ErrorIs(t, err, inventory.ErrValidation, qty)
	}

	stock := f.stock("KITCHEN", "RICE")
	assertDecimal(t, "10", stock.Quantity, "unchanged")
	assertDecimal(t, "2", stock.WAC, "wac unchanged")
}

func TestManager_TransferSameLocation(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "10", "1")

	_, err := f.manager.CreateTransfer(f.ctx, inventory.TransferRequest{
		FromLocationID: "KITCHEN",
		ToLocationID:   "KITCHEN",
		Lines:          []inventory.TransferLineInput{{ItemID: "RICE", Quantity: dec("1")}},
	})
	assert.ErrorIs(t, err, inventory.ErrSameLocation)
}

func TestManager_TransferCreationChecksStock(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "10", "1")

	_, err := f.manager.CreateTransfer(f.ctx, inventory.TransferRequest{
		FromLocationID: "KITCHEN",
		ToLocationID:   "STORE",
		Lines:          []inventory.TransferLineInput{{ItemID: "RICE", Quantity: dec("11")}},
	})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestManager_TransferRejection(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "10", "1")
	transfer := f.transfer("KITCHEN", "STORE", "RICE", "4")

	_, err := f.manager.RejectTransfer(f.ctx, transfer.ID, "supervisor-1", "  ")
	assert.ErrorIs(t, err, inventory.ErrValidation, "却下理由は必須")

	rejected, err := f.manager.RejectTransfer(f.ctx, transfer.ID, "supervisor-1", "数量過多")
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferStatusRejected, rejected.Status)
	assert.Equal(t, "数量過多", rejected.ApprovalComment)

	_, err = f.manager.ApproveTransfer(f.ctx, transfer.ID, "supervisor-1")
	assert.ErrorIs(t, err, inventory.ErrInvalidStatusTransition)
	assertDecimal(t, "10", f.stock("KITCHEN", "RICE").Quantity, "source unchanged")
	assertDecimal(t, "0", f.stock("STORE", "RICE").Quantity, "dest unchanged")
}

func TestManager_ConcurrentApprovalsNeverOverdraw(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "70", "6")

	// 作成時のチェックは参考値のため両方とも作成できる
	first := f.transfer("KITCHEN", "STORE", "RICE", "50")
	second := f.transfer("KITCHEN", "SATELLITE", "RICE", "50")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.manager.ApproveTransfer(f.ctx, id, "supervisor-1")
		}(i, id)
	}
	wg.Wait()

	ids := []string{first.ID, second.ID}
	succeeded := 0
	for i, err := range errs {
		stored, getErr := f.manager.GetTransfer(f.ctx, ids[i])
		require.NoError(t, getErr)
		if err == nil {
			succeeded++
			assert.Equal(t, inventory.TransferStatusCompleted, stored.Status)
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		// 失敗した側は承認情報も含めて一切変わらない
		assert.Equal(t, inventory.TransferStatusPendingApproval, stored.Status)
		assert.Empty(t, stored.ApprovedBy)
		assert.Nil(t, stored.ApprovalDate)
		assert.Nil(t, stored.TransferDate)
	}
	assert.Equal(t, 1, succeeded)

	assertDecimal(t, "20", f.stock("KITCHEN", "RICE").Quantity, "source")
	moved := f.stock("STORE", "RICE").Quantity.Add(f.stock("SATELLITE", "RICE").Quantity)
	assertDecimal(t, "50", moved, "moved")
}

func TestManager_TransferApprovalNeedsOpenPeriod(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "10", "5")
	transfer := f.transfer("KITCHEN", "STORE", "RICE", "4")

	f.markReady("KITCHEN", "STORE", "SATELLITE")
	_, err := f.manager.ClosePeriod(f.ctx, f.period.ID)
	require.NoError(t, err)
	closed := f.periodLocations(f.period.ID)

	_, err = f.manager.ApproveTransfer(f.ctx, transfer.ID, "supervisor-1")
	assert.ErrorIs(t, err, inventory.ErrPeriodClosed)

	stored, err := f.manager.GetTransfer(f.ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferStatusPendingApproval, stored.Status)
	assert.Nil(t, stored.ApprovalDate)
	assertDecimal(t, "10", f.stock("KITCHEN", "RICE").Quantity, "source unchanged")
	assertDecimal(t, "0", f.stock("STORE", "RICE").Quantity, "dest unchanged")

	// 締め済みのスナップショットと台帳が一致したまま
	kitchen := closed["KITCHEN"]
	require.NotNil(t, kitchen.ClosingValue)
	assertDecimal(t, "50.00", *kitchen.ClosingValue, "closing")
	valuation, err := f.manager.GetLocationValuation(f.ctx, "KITCHEN")
	require.NoError(t, err)
	assertDecimal(t, kitchen.ClosingValue.String(), valuation.TotalValue, "ledger matches snapshot")
}

func TestManager_TransferApprovalRefusedAtReadyLocation(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "10", "5")
	transfer := f.transfer("KITCHEN", "STORE", "RICE", "4")
	f.markReady("STORE")

	_, err := f.manager.ApproveTransfer(f.ctx, transfer.ID, "supervisor-1")
	assert.ErrorIs(t, err, inventory.ErrPeriodClosed)
	assertDecimal(t, "10", f.stock("KITCHEN", "RICE").Quantity, "source unchanged")

	_, err = f.manager.ReopenLocation(f.ctx, f.period.ID, "STORE")
	require.NoError(t, err)
	approved, err := f.manager.ApproveTransfer(f.ctx, transfer.ID, "supervisor-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferStatusCompleted, approved.Status)
}

// lockRecorder records every stock lock taken inside its units of work
type lockRecorder struct {
	inventory.Storage
	mu    sync.Mutex
	locks []string
}

func (r *lockRecorder) RunAtomically(ctx context.Context, fn func(tx inventory.Store) error) error {
	return r.Storage.RunAtomically(ctx, func(tx inventory.Store) error {
		return fn(&recordingTx{Store: tx, r: r})
	})
}

func (r *lockRecorder) reset() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	locks := r.locks
	r.locks = nil
	return locks
}

type recordingTx struct {
	inventory.Store
	r *lockRecorder
}

func (t *recordingTx) LockStock(ctx context.Context, locationID, itemID string) error {
	t.r.mu.Lock()
	t.r.locks = append(t.r.locks, locationID+"/"+itemID)
	t.r.mu.Unlock()
	return t.Store.LockStock(ctx, locationID, itemID)
}

func TestManager_StockLocksTakenInKeyOrder(t *testing.T) {
	recorder := &lockRecorder{Storage: storage.NewMemory()}
	f := newFixtureOn(t, recorder, nil)

	_, err := f.manager.PostDelivery(f.ctx, inventory.DeliveryRequest{
		LocationID: "STORE",
		PeriodID:   f.period.ID,
		Lines: []inventory.DeliveryLineInput{
			{ItemID: "RICE", Quantity: dec("10"), UnitPrice: dec("2")},
			{ItemID: "BEEF", Quantity: dec("10"), UnitPrice: dec("5")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"STORE/BEEF", "STORE/RICE"}, recorder.reset()[:2])

	_, err = f.issue("STORE",
		inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("1")},
		inventory.IssueLineInput{ItemID: "BEEF", Quantity: dec("1")},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"STORE/BEEF", "STORE/RICE"}, recorder.reset()[:2])

	transfer, err := f.manager.CreateTransfer(f.ctx, inventory.TransferRequest{
		FromLocationID: "STORE",
		ToLocationID:   "KITCHEN",
		Lines: []inventory.TransferLineInput{
			{ItemID: "RICE", Quantity: dec("2")},
			{ItemID: "BEEF", Quantity: dec("2")},
		},
	})
	require.NoError(t, err)
	recorder.reset()

	_, err = f.manager.ApproveTransfer(f.ctx, transfer.ID, "supervisor-1")
	require.NoError(t, err)
	// 移動先・移動元を問わず拠点→品目の順で最初にロックする
	assert.Equal(t, []string{"KITCHEN/BEEF", "KITCHEN/RICE", "STORE/BEEF", "STORE/RICE"}, recorder.reset()[:4])
}

func TestManager_LocationValuation(t *testing.T) {
	f := newFixture(t, nil)
	f.deliver("KITCHEN", "RICE", "100", "5")
	f.deliver("KITCHEN", "BEEF", "3", "5")

	valuation, err := f.manager.GetLocationValuation(f.ctx, "KITCHEN")
	require.NoError(t, err)
	require.Len(t, valuation.Lines, 2)
	assert.Equal(t, "BEEF", valuation.Lines[0].ItemID)
	assertDecimal(t, "515.00", valuation.TotalValue, "total")

	stocks, err := f.manager.GetStockByLocation(f.ctx, "KITCHEN")
	require.NoError(t, err)
	assert.Len(t, stocks, 2)

	_, err = f.manager.GetLocationValuation(f.ctx, "NOWHERE")
	assert.ErrorIs(t, err, inventory.ErrLocationNotFound)
}

func TestManager_MasterData(t *testing.T) {
	f := newFixture(t, nil)

	item := &inventory.Item{Name: "Salt", Unit: "kg", IsActive: true}
	require.NoError(t, f.manager.CreateItem(f.ctx, item))
	assert.NotEmpty(t, item.ID, "IDは自動採番")
	assert.Equal(t, testNow, item.CreatedAt)

	got, err := f.manager.GetItem(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Salt", got.Name)

	err = f.manager.CreateItem(f.ctx, &inventory.Item{ID: "BEEF", Name: "Beef again"})
	assert.ErrorIs(t, err, inventory.ErrDuplicate)
	assert.True(t, inventory.IsConflict(err))

	_, err = f.manager.GetItem(f.ctx, "NOPE")
	assert.True(t, inventory.IsNotFound(err))

	err = f.manager.CreateLocation(f.ctx, &inventory.Location{ID: "BAD", Name: "Bad", Type: "GARAGE"})
	assert.ErrorIs(t, err, inventory.ErrValidation)

	locations, err := f.manager.ListLocations(f.ctx)
	require.NoError(t, err)
	require.Len(t, locations, 3)
	assert.Equal(t, "KITCHEN", locations[0].ID)

	loc, err := f.manager.GetLocation(f.ctx, "STORE")
	require.NoError(t, err)
	assert.Equal(t, "Main Store", loc.Name)
	_, err = f.manager.GetLocation(f.ctx, "NOPE")
	assert.ErrorIs(t, err, inventory.ErrLocationNotFound)
}

// mockPublisher はテスト用のEventPublisherモック
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishDeliveryPosted(ctx context.Context, event inventory.DeliveryPostedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishIssuePosted(ctx context.Context, event inventory.IssuePostedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishTransferChanged(ctx context.Context, event inventory.TransferChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishNCRChanged(ctx context.Context, event inventory.NCRChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishPeriodChanged(ctx context.Context, event inventory.PeriodChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func newMockPublisher() *mockPublisher {
	pub := new(mockPublisher)
	pub.On("PublishPeriodChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	return pub
}

func TestManager_PublishesCommittedDelivery(t *testing.T) {
	pub := newMockPublisher()
	pub.On("PublishDeliveryPosted", mock.Anything, mock.MatchedBy(func(e inventory.DeliveryPostedEvent) bool {
		return e.LocationID == "KITCHEN" && e.NCRCount == 1 && e.LineCount == 1 && e.UserID == "tester"
	})).Return(nil).Once()
	pub.On("PublishNCRChanged", mock.Anything, mock.MatchedBy(func(e inventory.NCRChangedEvent) bool {
		return e.Type == inventory.NCRTypePriceVariance && e.Status == inventory.NCRStatusOpen && e.AutoGenerated
	})).Return(nil).Once()

	f := newFixture(t, pub)
	f.deliver("KITCHEN", "BEEF", "20", "5.50")

	pub.AssertExpectations(t)
}

func TestManager_PublishFailureDoesNotUndoPosting(t *testing.T) {
	pub := newMockPublisher()
	pub.On("PublishDeliveryPosted", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishIssuePosted", mock.Anything, mock.Anything).Return(errors.New("broker unavailable")).Once()

	f := newFixture(t, pub)
	f.deliver("KITCHEN", "RICE", "10", "2")

	issue, err := f.issue("KITCHEN", inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("4")})
	require.NoError(t, err)
	assertDecimal(t, "8.00", issue.TotalValue, "total")
	assertDecimal(t, "6", f.stock("KITCHEN", "RICE").Quantity, "committed")
	pub.AssertExpectations(t)
}

func TestManager_NoEventForFailedOperation(t *testing.T) {
	pub := newMockPublisher()
	f := newFixture(t, pub)

	_, err := f.issue("KITCHEN", inventory.IssueLineInput{ItemID: "RICE", Quantity: dec("1")})
	require.Error(t, err)
	pub.AssertNotCalled(t, "PublishIssuePosted", mock.Anything, mock.Anything)
}
