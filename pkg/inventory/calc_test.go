package inventory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// assertDecimal は小数の値比較（スケール差は無視）
func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestCalculateWAC(t *testing.T) {
	tests := []struct {
		name      string
		onHand    string
		wac       string
		qty       string
		unitPrice string
		want      string
	}{
		{"初回入荷は単価そのもの", "0", "0", "100", "5", "5"},
		{"加重平均", "100", "5", "50", "8", "6"},
		{"割り切れない場合も丸めない", "3", "1", "1", "2", "1.25"},
		{"ゼロ単価の入荷", "10", "4", "10", "0", "2"},
		{"在庫が負の場合は入荷単価", "-1", "9", "5", "3", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateWAC(dec(tt.onHand), dec(tt.wac), dec(tt.qty), dec(tt.unitPrice))
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestCalculateWAC_KeepsPrecisionUntilFinalRounding(t *testing.T) {
	// 1 × 1 + 2 × 2 = 5 / 3 = 1.666…
	wac := CalculateWAC(dec("1"), dec("1"), dec("2"), dec("2"))
	assert.Equal(t, "1.6666666666666667", wac.String())
	assertDecimal(t, "5.00", RoundMoney(wac.Mul(dec("3"))))
}

func TestRounding(t *testing.T) {
	assertDecimal(t, "1.2346", RoundQuantity(dec("1.23455")))
	assertDecimal(t, "-1.2346", RoundQuantity(dec("-1.23455")))
	assertDecimal(t, "2.35", RoundMoney(dec("2.345")))
	assertDecimal(t, "-2.35", RoundMoney(dec("-2.345")))
}

func TestDetectVariance(t *testing.T) {
	line := DeliveryLineInput{ItemID: "BEEF", Quantity: dec("20"), UnitPrice: dec("5.5")}

	assert.Nil(t, DetectVariance(line, nil), "価格表なしでは差異なし")
	assert.Nil(t, DetectVariance(line, &PriceBookEntry{Price: dec("5.50")}), "同額なら差異なし")

	v := DetectVariance(line, &PriceBookEntry{Price: dec("5")})
	require.NotNil(t, v)
	assertDecimal(t, "0.5", v.Variance)
	assertDecimal(t, "10.00", v.Value())

	// 安く仕入れた場合も絶対値で評価
	cheaper := DetectVariance(DeliveryLineInput{ItemID: "BEEF", Quantity: dec("3"), UnitPrice: dec("4.333")}, &PriceBookEntry{Price: dec("5")})
	require.NotNil(t, cheaper)
	assertDecimal(t, "-0.667", cheaper.Variance)
	assertDecimal(t, "2.00", cheaper.Value())
}

func TestStatusTransitions(t *testing.T) {
	t.Run("transfer", func(t *testing.T) {
		assert.True(t, TransferStatusDraft.CanTransitionTo(TransferStatusPendingApproval))
		assert.True(t, TransferStatusPendingApproval.CanTransitionTo(TransferStatusApproved))
		assert.True(t, TransferStatusPendingApproval.CanTransitionTo(TransferStatusRejected))
		assert.True(t, TransferStatusApproved.CanTransitionTo(TransferStatusCompleted))
		assert.False(t, TransferStatusPendingApproval.CanTransitionTo(TransferStatusCompleted))
		assert.False(t, TransferStatusRejected.CanTransitionTo(TransferStatusApproved))
		assert.False(t, TransferStatusCompleted.CanTransitionTo(TransferStatusApproved))
	})

	t.Run("ncr", func(t *testing.T) {
		assert.True(t, NCRStatusOpen.CanTransitionTo(NCRStatusSent))
		for _, terminal := range []NCRStatus{NCRStatusCredited, NCRStatusRejected, NCRStatusResolved} {
			assert.True(t, NCRStatusSent.CanTransitionTo(terminal))
			assert.False(t, NCRStatusOpen.CanTransitionTo(terminal), "SENTを飛ばす遷移は不可")
			assert.False(t, terminal.CanTransitionTo(NCRStatusSent), "後戻りは不可")
			assert.True(t, terminal.IsTerminal())
		}
		assert.False(t, NCRStatusSent.CanTransitionTo(NCRStatusOpen))
		assert.False(t, NCRStatusSent.IsTerminal())
	})

	t.Run("period", func(t *testing.T) {
		assert.True(t, PeriodStatusDraft.CanTransitionTo(PeriodStatusOpen))
		assert.True(t, PeriodStatusOpen.CanTransitionTo(PeriodStatusPendingClose))
		assert.True(t, PeriodStatusPendingClose.CanTransitionTo(PeriodStatusOpen))
		assert.True(t, PeriodStatusPendingClose.CanTransitionTo(PeriodStatusApproved))
		assert.True(t, PeriodStatusApproved.CanTransitionTo(PeriodStatusClosed))
		assert.False(t, PeriodStatusOpen.CanTransitionTo(PeriodStatusClosed))
		assert.False(t, PeriodStatusClosed.CanTransitionTo(PeriodStatusOpen))
	})

	t.Run("period location", func(t *testing.T) {
		assert.True(t, PeriodLocationOpen.CanTransitionTo(PeriodLocationReady))
		assert.True(t, PeriodLocationReady.CanTransitionTo(PeriodLocationOpen))
		assert.True(t, PeriodLocationReady.CanTransitionTo(PeriodLocationClosed))
		assert.False(t, PeriodLocationOpen.CanTransitionTo(PeriodLocationClosed))
		assert.False(t, PeriodLocationClosed.CanTransitionTo(PeriodLocationOpen))
	})
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name  string
		req   interface{}
		field string
	}{
		{
			name:  "明細なし",
			req:   DeliveryRequest{LocationID: "KITCHEN", PeriodID: "p1"},
			field: "lines",
		},
		{
			name: "数量0",
			req: DeliveryRequest{LocationID: "KITCHEN", PeriodID: "p1", Lines: []DeliveryLineInput{
				{ItemID: "BEEF", Quantity: dec("1"), UnitPrice: dec("1")},
				{ItemID: "RICE", Quantity: decimal.Zero, UnitPrice: dec("1")},
			}},
			field: "lines[1].quantity",
		},
		{
			name: "負の単価",
			req: DeliveryRequest{LocationID: "KITCHEN", PeriodID: "p1", Lines: []DeliveryLineInput{
				{ItemID: "BEEF", Quantity: dec("1"), UnitPrice: dec("-0.01")},
			}},
			field: "lines[0].unit_price",
		},
		{
			name: "数量の桁数超過",
			req: DeliveryRequest{LocationID: "KITCHEN", PeriodID: "p1", Lines: []DeliveryLineInput{
				{ItemID: "BEEF", Quantity: dec("1.00005"), UnitPrice: dec("1")},
			}},
			field: "lines[0].quantity",
		},
		{
			name:  "丸めるとゼロになる数量",
			req:   IssueRequest{LocationID: "KITCHEN", PeriodID: "p1", Lines: []IssueLineInput{{ItemID: "BEEF", Quantity: dec("0.00004")}}},
			field: "lines[0].quantity",
		},
		{
			name: "移動数量の桁数超過",
			req: TransferRequest{FromLocationID: "KITCHEN", ToLocationID: "STORE", Lines: []TransferLineInput{
				{ItemID: "BEEF", Quantity: dec("1")},
				{ItemID: "RICE", Quantity: dec("2.123456")},
			}},
			field: "lines[1].quantity",
		},
		{
			name:  "拠点未指定",
			req:   IssueRequest{PeriodID: "p1", Lines: []IssueLineInput{{ItemID: "BEEF", Quantity: dec("1")}}},
			field: "location_id",
		},
		{
			name:  "理由なし",
			req:   ManualNCRRequest{LocationID: "KITCHEN", Lines: []ManualNCRLine{{ItemID: "BEEF", Quantity: dec("1")}}},
			field: "reason",
		},
		{
			name:  "負の食数",
			req:   MandayRequest{PeriodID: "p1", LocationID: "KITCHEN", Count: dec("-1")},
			field: "count",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	valid := IssueRequest{LocationID: "KITCHEN", PeriodID: "p1", Lines: []IssueLineInput{{ItemID: "BEEF", Quantity: dec("0.0001")}}}
	assert.NoError(t, validateRequest(valid))

	err := validateRequest(IssueRequest{LocationID: "KITCHEN", PeriodID: "p1", Lines: []IssueLineInput{{ItemID: "BEEF", Quantity: dec("1.00005")}}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "1.00005", verr.Value)
	assert.Contains(t, verr.Message, "小数4桁以内")
}

func TestValidateMasterData(t *testing.T) {
	assert.NoError(t, ValidateItem(&Item{ID: "BEEF-01", Name: "牛肉"}))
	assert.ErrorIs(t, ValidateItem(nil), ErrValidation)
	assert.ErrorIs(t, ValidateItem(&Item{ID: "bad id", Name: "x"}), ErrValidation)
	assert.ErrorIs(t, ValidateItem(&Item{ID: "BEEF", Name: "  "}), ErrValidation)

	assert.NoError(t, ValidateLocation(&Location{ID: "KITCHEN", Name: "Kitchen", Type: LocationTypeKitchen}))
	assert.ErrorIs(t, ValidateLocation(&Location{ID: "KITCHEN", Name: "Kitchen", Type: "GARAGE"}), ErrValidation)

	err := validateDateRange(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "end_date", verr.Field)
}

func TestErrorClassification(t *testing.T) {
	insufficient := &InsufficientStockError{LocationID: "KITCHEN", Shortages: []StockShortage{
		{ItemID: "BEEF", ItemName: "Beef", Requested: dec("100"), Available: dec("70")},
		{ItemID: "RICE", Requested: dec("5"), Available: dec("0")},
	}}
	assert.ErrorIs(t, insufficient, ErrInsufficientStock)
	assert.True(t, IsConflict(insufficient))
	assert.Contains(t, insufficient.Error(), "Beef (要求: 100, 在庫: 70)")
	assert.Contains(t, insufficient.Error(), "RICE")

	notReady := &LocationsNotReadyError{PeriodID: "p1", Locations: []NotReadyLocation{
		{LocationID: "KITCHEN", Name: "Kitchen", Status: PeriodLocationOpen},
		{LocationID: "BAR", Status: PeriodLocationOpen},
	}}
	assert.Equal(t, []string{"Kitchen", "BAR"}, notReady.Names())
	assert.True(t, IsConflict(notReady))

	wrapped := fmt.Errorf("期間 3月: %w", ErrPeriodClosed)
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.True(t, IsNotFound(ErrNCRNotFound))
	assert.True(t, IsConflict(&PriceLockedError{PeriodID: "p1", ItemID: "BEEF", Status: PeriodStatusOpen}))

	// ドメインエラーはそのまま、それ以外はストレージエラーで包む
	assert.Same(t, ErrItemNotFound, wrapStorage("get_item", "x", ErrItemNotFound))
	cause := errors.New("connection reset")
	err := wrapStorage("get_item", "商品取得に失敗しました", cause)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "get_item", serr.Operation)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, wrapStorage("noop", "x", nil))
}

func TestApplyReconciliationTotals(t *testing.T) {
	rec := &Reconciliation{
		BaseConsumption: dec("100.00"),
		BackCharges:     dec("10.00"),
		Credits:         dec("4.00"),
		Condemnations:   dec("2.50"),
		Adjustments:     dec("-1.25"),
		TotalMandays:    dec("25"),
	}
	applyReconciliationTotals(rec)

	assertDecimal(t, "7.25", rec.TotalAdjustments)
	assertDecimal(t, "107.25", rec.Consumption)
	require.NotNil(t, rec.MandayCost)
	assertDecimal(t, "4.29", *rec.MandayCost)

	rec.TotalMandays = decimal.Zero
	applyReconciliationTotals(rec)
	assert.Nil(t, rec.MandayCost, "人日0の場合は単価なし")
}

func TestPeriodBoundsAndContains(t *testing.T) {
	p := &Period{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	from, to := periodBounds(p)
	assert.Equal(t, p.StartDate, from)
	assert.Equal(t, time.Date(2026, 3, 31, 23, 59, 59, 999999999, time.UTC), to)

	assert.True(t, p.Contains(time.Date(2026, 3, 31, 18, 0, 0, 0, time.UTC)))
	assert.True(t, p.Contains(p.StartDate))
	assert.False(t, p.Contains(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)))
}

func TestClosedBeforeAndNextDraft(t *testing.T) {
	month := func(id string, m time.Month, status PeriodStatus) Period {
		start := time.Date(2026, m, 1, 0, 0, 0, 0, time.UTC)
		return Period{ID: id, StartDate: start, EndDate: start.AddDate(0, 1, -1), Status: status}
	}
	periods := []Period{
		month("jan", time.January, PeriodStatusClosed),
		month("feb", time.February, PeriodStatusClosed),
		month("mar", time.March, PeriodStatusOpen),
		month("may", time.May, PeriodStatusDraft),
		month("apr", time.April, PeriodStatusDraft),
	}

	prev := closedBefore(periods, &periods[2])
	require.NotNil(t, prev)
	assert.Equal(t, "feb", prev.ID)
	assert.Nil(t, closedBefore(periods, &periods[0]))

	next := nextDraft(periods, &periods[2])
	require.NotNil(t, next)
	assert.Equal(t, "apr", next.ID)
	assert.Nil(t, nextDraft(periods, &periods[3]))
}
