package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
)

func TestPublisher_Deliveries(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.PublishDeliveryPosted(ctx, inventory.DeliveryPostedEvent{
		DeliveryID:  "d1",
		LocationID:  "KITCHEN",
		TotalAmount: decimal.RequireFromString("120.50"),
	}))
	require.NoError(t, p.PublishDeliveryPosted(ctx, inventory.DeliveryPostedEvent{
		DeliveryID:  "d2",
		LocationID:  "KITCHEN",
		TotalAmount: decimal.RequireFromString("10"),
		NCRCount:    1,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.deliveries.WithLabelValues("KITCHEN", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.deliveries.WithLabelValues("KITCHEN", "true")))
	assert.InDelta(t, 130.5, testutil.ToFloat64(p.deliveryAmount.WithLabelValues("KITCHEN")), 1e-9)
}

func TestPublisher_StatusChanges(t *testing.T) {
	p := NewPublisher(nil)
	ctx := context.Background()

	require.NoError(t, p.PublishTransferChanged(ctx, inventory.TransferChangedEvent{Status: inventory.TransferStatusCompleted}))
	require.NoError(t, p.PublishPeriodChanged(ctx, inventory.PeriodChangedEvent{PeriodID: "p1", Status: inventory.PeriodStatusClosed}))
	require.NoError(t, p.PublishNCRChanged(ctx, inventory.NCRChangedEvent{
		Type:   inventory.NCRTypePriceVariance,
		Status: inventory.NCRStatusOpen,
		Value:  decimal.RequireFromString("25"),
	}))
	require.NoError(t, p.PublishNCRChanged(ctx, inventory.NCRChangedEvent{
		Type:   inventory.NCRTypePriceVariance,
		Status: inventory.NCRStatusSent,
		Value:  decimal.RequireFromString("25"),
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.transfers.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.periods.WithLabelValues("CLOSED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ncrs.WithLabelValues("PRICE_VARIANCE", "SENT")))
	// 金額は起票時のみ加算
	assert.Equal(t, 25.0, testutil.ToFloat64(p.ncrValue.WithLabelValues("PRICE_VARIANCE")))
}

func TestPublisher_Handler(t *testing.T) {
	p := NewPublisher(nil)
	require.NoError(t, p.PublishIssuePosted(context.Background(), inventory.IssuePostedEvent{
		IssueID:    "i1",
		LocationID: "STORE",
		TotalValue: decimal.RequireFromString("180"),
	}))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), MetricIssuesTotal)
	assert.Contains(t, string(body), `location="STORE"`)
}
