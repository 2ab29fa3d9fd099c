package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
)

// Memory is an in-memory Storage. Units of work are serialised by a single
// mutex and rolled back by restoring a snapshot taken before fn runs.
// インメモリのストレージ実装（テスト・組み込み用）
type Memory struct {
	mu    sync.Mutex
	state memoryState
}

type stockKey struct{ locationID, itemID string }
type periodLocationKey struct{ periodID, locationID string }
type priceKey struct{ itemID, periodID string }
type mandayKey struct{ periodID, locationID, date string }

type memoryState struct {
	items           map[string]inventory.Item
	locations       map[string]inventory.Location
	stock           map[stockKey]inventory.LocationStock
	periods         map[string]inventory.Period
	periodLocations map[periodLocationKey]inventory.PeriodLocation
	prices          map[priceKey]inventory.PriceBookEntry
	deliveries      map[string]inventory.Delivery
	issues          map[string]inventory.Issue
	transfers       map[string]inventory.Transfer
	ncrs            map[string]inventory.NCR
	ncrSequences    map[int]int
	reconciliations map[periodLocationKey]inventory.Reconciliation
	mandays         map[mandayKey]inventory.MandayEntry
}

var _ inventory.Storage = (*Memory)(nil)

// NewMemory creates an empty in-memory storage
// 空のインメモリストレージを作成
func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		items:           make(map[string]inventory.Item),
		locations:       make(map[string]inventory.Location),
		stock:           make(map[stockKey]inventory.LocationStock),
		periods:         make(map[string]inventory.Period),
		periodLocations: make(map[periodLocationKey]inventory.PeriodLocation),
		prices:          make(map[priceKey]inventory.PriceBookEntry),
		deliveries:      make(map[string]inventory.Delivery),
		issues:          make(map[string]inventory.Issue),
		transfers:       make(map[string]inventory.Transfer),
		ncrs:            make(map[string]inventory.NCR),
		ncrSequences:    make(map[int]int),
		reconciliations: make(map[periodLocationKey]inventory.Reconciliation),
		mandays:         make(map[mandayKey]inventory.MandayEntry),
	}
}

// RunAtomically executes fn as one unit of work. On error every write made
// by fn is discarded.
// 作業単位としてfnを実行（エラー時はロールバック）
func (m *Memory) RunAtomically(ctx context.Context, fn func(tx inventory.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op
func (m *Memory) Close() error { return nil }

// clone copies every map. Stored values are never mutated in place, so a
// map-level copy is enough to restore the previous state.
func (s memoryState) clone() memoryState {
	return memoryState{
		items:           cloneMap(s.items),
		locations:       cloneMap(s.locations),
		stock:           cloneMap(s.stock),
		periods:         cloneMap(s.periods),
		periodLocations: cloneMap(s.periodLocations),
		prices:          cloneMap(s.prices),
		deliveries:      cloneMap(s.deliveries),
		issues:          cloneMap(s.issues),
		transfers:       cloneMap(s.transfers),
		ncrs:            cloneMap(s.ncrs),
		ncrSequences:    cloneMap(s.ncrSequences),
		reconciliations: cloneMap(s.reconciliations),
		mandays:         cloneMap(s.mandays),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// memoryTx is the Store view handed to fn while the mutex is held
type memoryTx struct {
	state *memoryState
}

var _ inventory.Store = (*memoryTx)(nil)

// Master data

func (t *memoryTx) CreateItem(_ context.Context, item *inventory.Item) error {
	if _, ok := t.state.items[item.ID]; ok {
		return inventory.ErrDuplicate
	}
	t.state.items[item.ID] = *item
	return nil
}

func (t *memoryTx) GetItem(_ context.Context, itemID string) (*inventory.Item, error) {
	item, ok := t.state.items[itemID]
	if !ok {
		return nil, inventory.ErrItemNotFound
	}
	return &item, nil
}

func (t *memoryTx) CreateLocation(_ context.Context, location *inventory.Location) error {
	if _, ok := t.state.locations[location.ID]; ok {
		return inventory.ErrDuplicate
	}
	t.state.locations[location.ID] = *location
	return nil
}

func (t *memoryTx) GetLocation(_ context.Context, locationID string) (*inventory.Location, error) {
	location, ok := t.state.locations[locationID]
	if !ok {
		return nil, inventory.ErrLocationNotFound
	}
	return &location, nil
}

func (t *memoryTx) ListLocations(_ context.Context, activeOnly bool) ([]inventory.Location, error) {
	result := make([]inventory.Location, 0, len(t.state.locations))
	for _, l := range t.state.locations {
		if activeOnly && !l.IsActive {
			continue
		}
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Stock

// LockStock is a no-op: the unit of work already holds the store mutex
func (t *memoryTx) LockStock(context.Context, string, string) error { return nil }

func (t *memoryTx) GetStock(_ context.Context, locationID, itemID string) (*inventory.LocationStock, error) {
	stock, ok := t.state.stock[stockKey{locationID, itemID}]
	if !ok {
		return nil, inventory.ErrStockNotFound
	}
	return &stock, nil
}

func (t *memoryTx) SaveStock(_ context.Context, stock *inventory.LocationStock) error {
	t.state.stock[stockKey{stock.LocationID, stock.ItemID}] = *stock
	return nil
}

func (t *memoryTx) ListStockByLocation(_ context.Context, locationID string) ([]inventory.LocationStock, error) {
	var result []inventory.LocationStock
	for k, s := range t.state.stock {
		if k.locationID == locationID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

// Periods

func (t *memoryTx) CreatePeriod(_ context.Context, period *inventory.Period) error {
	if _, ok := t.state.periods[period.ID]; ok {
		return inventory.ErrDuplicate
	}
	t.state.periods[period.ID] = *period
	return nil
}

func (t *memoryTx) GetPeriod(_ context.Context, periodID string) (*inventory.Period, error) {
	period, ok := t.state.periods[periodID]
	if !ok {
		return nil, inventory.ErrPeriodNotFound
	}
	return &period, nil
}

func (t *memoryTx) GetPeriodForUpdate(ctx context.Context, periodID string) (*inventory.Period, error) {
	return t.GetPeriod(ctx, periodID)
}

func (t *memoryTx) GetPeriodForShare(ctx context.Context, periodID string) (*inventory.Period, error) {
	return t.GetPeriod(ctx, periodID)
}

func (t *memoryTx) UpdatePeriod(_ context.Context, period *inventory.Period) error {
	if _, ok := t.state.periods[period.ID]; !ok {
		return inventory.ErrPeriodNotFound
	}
	t.state.periods[period.ID] = *period
	return nil
}

func (t *memoryTx) ListPeriods(_ context.Context) ([]inventory.Period, error) {
	result := make([]inventory.Period, 0, len(t.state.periods))
	for _, p := range t.state.periods {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartDate.Before(result[j].StartDate) })
	return result, nil
}

func (t *memoryTx) CreatePeriodLocation(_ context.Context, pl *inventory.PeriodLocation) error {
	k := periodLocationKey{pl.PeriodID, pl.LocationID}
	if _, ok := t.state.periodLocations[k]; ok {
		return inventory.ErrDuplicate
	}
	t.state.periodLocations[k] = clonePeriodLocation(*pl)
	return nil
}

func (t *memoryTx) GetPeriodLocation(_ context.Context, periodID, locationID string) (*inventory.PeriodLocation, error) {
	pl, ok := t.state.periodLocations[periodLocationKey{periodID, locationID}]
	if !ok {
		return nil, inventory.ErrPeriodLocationNotFound
	}
	pl = clonePeriodLocation(pl)
	return &pl, nil
}

func (t *memoryTx) GetPeriodLocationForShare(ctx context.Context, periodID, locationID string) (*inventory.PeriodLocation, error) {
	return t.GetPeriodLocation(ctx, periodID, locationID)
}

func (t *memoryTx) GetPeriodLocationForUpdate(ctx context.Context, periodID, locationID string) (*inventory.PeriodLocation, error) {
	return t.GetPeriodLocation(ctx, periodID, locationID)
}

func (t *memoryTx) UpdatePeriodLocation(_ context.Context, pl *inventory.PeriodLocation) error {
	k := periodLocationKey{pl.PeriodID, pl.LocationID}
	if _, ok := t.state.periodLocations[k]; !ok {
		return inventory.ErrPeriodLocationNotFound
	}
	t.state.periodLocations[k] = clonePeriodLocation(*pl)
	return nil
}

func (t *memoryTx) ListPeriodLocations(_ context.Context, periodID string) ([]inventory.PeriodLocation, error) {
	var result []inventory.PeriodLocation
	for k, pl := range t.state.periodLocations {
		if k.periodID == periodID {
			result = append(result, clonePeriodLocation(pl))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LocationID < result[j].LocationID })
	return result, nil
}

// Price book

func (t *memoryTx) GetPrice(_ context.Context, itemID, periodID string) (*inventory.PriceBookEntry, error) {
	entry, ok := t.state.prices[priceKey{itemID, periodID}]
	if !ok {
		return nil, inventory.ErrPriceNotFound
	}
	return &entry, nil
}

func (t *memoryTx) SavePrice(_ context.Context, entry *inventory.PriceBookEntry) error {
	t.state.prices[priceKey{entry.ItemID, entry.PeriodID}] = *entry
	return nil
}

func (t *memoryTx) ListPrices(_ context.Context, periodID string) ([]inventory.PriceBookEntry, error) {
	var result []inventory.PriceBookEntry
	for k, e := range t.state.prices {
		if k.periodID == periodID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

// Postings

func (t *memoryTx) CreateDelivery(_ context.Context, delivery *inventory.Delivery) error {
	if _, ok := t.state.deliveries[delivery.ID]; ok {
		return inventory.ErrDuplicate
	}
	d := *delivery
	d.Lines = append([]inventory.DeliveryLine(nil), delivery.Lines...)
	t.state.deliveries[d.ID] = d
	return nil
}

func (t *memoryTx) SumDeliveries(_ context.Context, periodID, locationID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, d := range t.state.deliveries {
		if d.PeriodID == periodID && d.LocationID == locationID {
			total = total.Add(d.TotalAmount)
		}
	}
	return total, nil
}

func (t *memoryTx) CreateIssue(_ context.Context, issue *inventory.Issue) error {
	if _, ok := t.state.issues[issue.ID]; ok {
		return inventory.ErrDuplicate
	}
	i := *issue
	i.Lines = append([]inventory.IssueLine(nil), issue.Lines...)
	t.state.issues[i.ID] = i
	return nil
}

func (t *memoryTx) SumIssues(_ context.Context, periodID, locationID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, i := range t.state.issues {
		if i.PeriodID == periodID && i.LocationID == locationID {
			total = total.Add(i.TotalValue)
		}
	}
	return total, nil
}

// Transfers

func (t *memoryTx) CreateTransfer(_ context.Context, transfer *inventory.Transfer) error {
	if _, ok := t.state.transfers[transfer.ID]; ok {
		return inventory.ErrDuplicate
	}
	t.state.transfers[transfer.ID] = cloneTransfer(*transfer)
	return nil
}

func (t *memoryTx) GetTransfer(_ context.Context, transferID string) (*inventory.Transfer, error) {
	transfer, ok := t.state.transfers[transferID]
	if !ok {
		return nil, inventory.ErrTransferNotFound
	}
	transfer = cloneTransfer(transfer)
	return &transfer, nil
}

func (t *memoryTx) GetTransferForUpdate(ctx context.Context, transferID string) (*inventory.Transfer, error) {
	return t.GetTransfer(ctx, transferID)
}

func (t *memoryTx) UpdateTransfer(_ context.Context, transfer *inventory.Transfer) error {
	if _, ok := t.state.transfers[transfer.ID]; !ok {
		return inventory.ErrTransferNotFound
	}
	t.state.transfers[transfer.ID] = cloneTransfer(*transfer)
	return nil
}

func (t *memoryTx) SumCompletedTransfers(_ context.Context, locationID string, from, to time.Time) (decimal.Decimal, decimal.Decimal, error) {
	in, out := decimal.Zero, decimal.Zero
	for _, tr := range t.state.transfers {
		if tr.Status != inventory.TransferStatusCompleted || tr.TransferDate == nil {
			continue
		}
		if tr.TransferDate.Before(from) || tr.TransferDate.After(to) {
			continue
		}
		if tr.ToLocationID == locationID {
			in = in.Add(tr.TotalValue)
		}
		if tr.FromLocationID == locationID {
			out = out.Add(tr.TotalValue)
		}
	}
	return in, out, nil
}

// NCRs

func (t *memoryTx) NextNCRSequence(_ context.Context, year int) (int, error) {
	t.state.ncrSequences[year]++
	return t.state.ncrSequences[year], nil
}

func (t *memoryTx) CreateNCR(_ context.Context, ncr *inventory.NCR) error {
	if _, ok := t.state.ncrs[ncr.ID]; ok {
		return inventory.ErrDuplicate
	}
	t.state.ncrs[ncr.ID] = *ncr
	return nil
}

func (t *memoryTx) GetNCR(_ context.Context, ncrID string) (*inventory.NCR, error) {
	ncr, ok := t.state.ncrs[ncrID]
	if !ok {
		return nil, inventory.ErrNCRNotFound
	}
	return &ncr, nil
}

func (t *memoryTx) GetNCRForUpdate(ctx context.Context, ncrID string) (*inventory.NCR, error) {
	return t.GetNCR(ctx, ncrID)
}

func (t *memoryTx) UpdateNCR(_ context.Context, ncr *inventory.NCR) error {
	if _, ok := t.state.ncrs[ncr.ID]; !ok {
		return inventory.ErrNCRNotFound
	}
	t.state.ncrs[ncr.ID] = *ncr
	return nil
}

// Reconciliation

func (t *memoryTx) GetReconciliation(_ context.Context, periodID, locationID string) (*inventory.Reconciliation, error) {
	rec, ok := t.state.reconciliations[periodLocationKey{periodID, locationID}]
	if !ok {
		return nil, inventory.ErrReconciliationNotFound
	}
	return &rec, nil
}

func (t *memoryTx) SaveReconciliation(_ context.Context, rec *inventory.Reconciliation) error {
	t.state.reconciliations[periodLocationKey{rec.PeriodID, rec.LocationID}] = *rec
	return nil
}

func (t *memoryTx) SaveMandays(_ context.Context, entry *inventory.MandayEntry) error {
	t.state.mandays[mandayKey{entry.PeriodID, entry.LocationID, entry.Date.Format("2006-01-02")}] = *entry
	return nil
}

func (t *memoryTx) SumMandays(_ context.Context, periodID, locationID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for k, e := range t.state.mandays {
		if k.periodID == periodID && k.locationID == locationID {
			total = total.Add(e.Count)
		}
	}
	return total, nil
}

func clonePeriodLocation(pl inventory.PeriodLocation) inventory.PeriodLocation {
	pl.Snapshot = append([]inventory.StockSnapshotLine(nil), pl.Snapshot...)
	return pl
}

func cloneTransfer(t inventory.Transfer) inventory.Transfer {
	t.Lines = append([]inventory.TransferLine(nil), t.Lines...)
	return t
}
