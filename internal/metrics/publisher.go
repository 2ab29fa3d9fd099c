// Package metrics exposes ledger events as Prometheus metrics.
// 台帳イベントをPrometheusメトリクスとして公開
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
)

// Prometheus metric names
const (
	MetricDeliveriesTotal      = "ledger_deliveries_posted_total"
	MetricDeliveryAmountTotal  = "ledger_delivery_amount_total"
	MetricIssuesTotal          = "ledger_issues_posted_total"
	MetricIssueValueTotal      = "ledger_issue_value_total"
	MetricTransferChangesTotal = "ledger_transfer_status_changes_total"
	MetricNCRChangesTotal      = "ledger_ncr_status_changes_total"
	MetricNCRValueTotal        = "ledger_ncr_value_total"
	MetricPeriodChangesTotal   = "ledger_period_status_changes_total"
)

// Publisher implements inventory.EventPublisher by counting events
// イベント件数を集計するEventPublisherの実装
type Publisher struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	deliveries     *prometheus.CounterVec
	deliveryAmount *prometheus.CounterVec
	issues         *prometheus.CounterVec
	issueValue     *prometheus.CounterVec
	transfers      *prometheus.CounterVec
	ncrs           *prometheus.CounterVec
	ncrValue       *prometheus.CounterVec
	periods        *prometheus.CounterVec
}

var _ inventory.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher with its own registry
// 専用レジストリを持つPublisherを作成
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDeliveriesTotal,
			Help: "Number of posted deliveries.",
		}, []string{"location", "variance"}),
		deliveryAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDeliveryAmountTotal,
			Help: "Sum of posted delivery amounts.",
		}, []string{"location"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricIssuesTotal,
			Help: "Number of posted issues.",
		}, []string{"location"}),
		issueValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricIssueValueTotal,
			Help: "Sum of posted issue values.",
		}, []string{"location"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTransferChangesTotal,
			Help: "Number of transfer status changes.",
		}, []string{"status"}),
		ncrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNCRChangesTotal,
			Help: "Number of NCR creations and status changes.",
		}, []string{"type", "status"}),
		ncrValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNCRValueTotal,
			Help: "Sum of values of created NCRs.",
		}, []string{"type"}),
		periods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPeriodChangesTotal,
			Help: "Number of period status changes.",
		}, []string{"status"}),
	}

	p.registry.MustRegister(
		p.deliveries, p.deliveryAmount,
		p.issues, p.issueValue,
		p.transfers,
		p.ncrs, p.ncrValue,
		p.periods,
	)
	return p
}

// Registry returns the registry backing the publisher
func (p *Publisher) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registered metrics
// メトリクス公開用のHTTPハンドラーを返す
func (p *Publisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// PublishDeliveryPosted counts a posted delivery
// 納品計上を集計
func (p *Publisher) PublishDeliveryPosted(ctx context.Context, event inventory.DeliveryPostedEvent) error {
	variance := "false"
	if event.NCRCount > 0 {
		variance = "true"
	}
	p.deliveries.WithLabelValues(event.LocationID, variance).Inc()
	p.deliveryAmount.WithLabelValues(event.LocationID).Add(event.TotalAmount.InexactFloat64())
	p.logger.Debug("納品イベントを記録しました", zap.String("delivery_id", event.DeliveryID))
	return nil
}

// PublishIssuePosted counts a posted issue
// 払出計上を集計
func (p *Publisher) PublishIssuePosted(ctx context.Context, event inventory.IssuePostedEvent) error {
	p.issues.WithLabelValues(event.LocationID).Inc()
	p.issueValue.WithLabelValues(event.LocationID).Add(event.TotalValue.InexactFloat64())
	p.logger.Debug("払出イベントを記録しました", zap.String("issue_id", event.IssueID))
	return nil
}

// PublishTransferChanged counts a transfer status change
// 移動ステータス変更を集計
func (p *Publisher) PublishTransferChanged(ctx context.Context, event inventory.TransferChangedEvent) error {
	p.transfers.WithLabelValues(string(event.Status)).Inc()
	return nil
}

// PublishNCRChanged counts an NCR creation or status change
// 不適合報告の作成・ステータス変更を集計
func (p *Publisher) PublishNCRChanged(ctx context.Context, event inventory.NCRChangedEvent) error {
	p.ncrs.WithLabelValues(string(event.Type), string(event.Status)).Inc()
	if event.Status == inventory.NCRStatusOpen {
		p.ncrValue.WithLabelValues(string(event.Type)).Add(event.Value.Abs().InexactFloat64())
	}
	return nil
}

// PublishPeriodChanged counts a period status change
// 期間ステータス変更を集計
func (p *Publisher) PublishPeriodChanged(ctx context.Context, event inventory.PeriodChangedEvent) error {
	p.periods.WithLabelValues(string(event.Status)).Inc()
	p.logger.Info("期間ステータスが変更されました",
		zap.String("period_id", event.PeriodID),
		zap.String("status", string(event.Status)),
	)
	return nil
}
