package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/pkg/apperror"
	"github.com/smallbiznis/folio/pkg/db"
)

const (
	ResultCreated  = "created"
	ResultExisting = "existing"
	ResultApplied  = "applied"
	ResultFailed   = "failed"
)

const (
	ReasonValidation = "validation"
	ReasonNotFound   = "not_found"
	ReasonConflict   = "conflict"
	ReasonDeadline   = "deadline_exceeded"
	ReasonDB         = "db"
	ReasonUnknown    = "unknown"
)

const (
	ReportByPeriod          = "by_period"
	ReportDetailed          = "detailed"
	ReportTopItems          = "top_items"
	ReportMonthlyComparison = "monthly_comparison"
)

// InvoicingMetrics captures invoice build, deposit and revenue query health.
type InvoicingMetrics struct {
	invoiceBuilds       *prometheus.CounterVec
	buildErrors         *prometheus.CounterVec
	lineItems           prometheus.Counter
	deposits            *prometheus.CounterVec
	depositRetries      prometheus.Counter
	auditAppendFailures *prometheus.CounterVec
	reportQueries       *prometheus.CounterVec
	reportDuration      *prometheus.HistogramVec
}

var (
	invoicingMetricsOnce sync.Once
	invoicingMetrics     *InvoicingMetrics
)

// Invoicing returns the process-wide metrics registered on the default registerer.
func Invoicing(cfg config.Config) *InvoicingMetrics {
	invoicingMetricsOnce.Do(func() {
		invoicingMetrics = NewInvoicingMetrics(prometheus.DefaultRegisterer, cfg.AppName, cfg.Environment)
	})
	return invoicingMetrics
}

func NewInvoicingMetrics(registerer prometheus.Registerer, serviceName, environment string) *InvoicingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = "folio"
	}
	environment = strings.TrimSpace(environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &InvoicingMetrics{
		invoiceBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "folio_invoice_builds_total",
			Help:        "Invoice build requests by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		buildErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "folio_invoice_build_errors_total",
			Help:        "Invoice build failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		lineItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "folio_invoice_line_items_total",
			Help:        "Line items materialized by committed invoice builds.",
			ConstLabels: constLabels,
		}),
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "folio_deposits_total",
			Help:        "Deposit applications by result and reason.",
			ConstLabels: constLabels,
		}, []string{"result", "reason"}),
		depositRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "folio_deposit_conflict_retries_total",
			Help:        "Deposit attempts replayed after losing an optimistic lock race.",
			ConstLabels: constLabels,
		}),
		auditAppendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "folio_payment_audit_append_failures_total",
			Help:        "Payment audit records that could not be appended after a committed deposit.",
			ConstLabels: constLabels,
		}, []string{"recorder"}),
		reportQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "folio_revenue_queries_total",
			Help:        "Revenue report queries by kind and result.",
			ConstLabels: constLabels,
		}, []string{"kind", "result"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "folio_revenue_query_duration_seconds",
			Help:        "Revenue report query latency.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"kind"}),
	}

	registerer.MustRegister(
		m.invoiceBuilds,
		m.buildErrors,
		m.lineItems,
		m.deposits,
		m.depositRetries,
		m.auditAppendFailures,
		m.reportQueries,
		m.reportDuration,
	)
	return m
}

// RecordBuild counts a build outcome. err is only inspected for failures.
func (m *InvoicingMetrics) RecordBuild(result string, itemsCreated int, err error) {
	if m == nil {
		return
	}
	m.invoiceBuilds.WithLabelValues(result).Inc()
	if result == ResultFailed {
		m.buildErrors.WithLabelValues(ClassifyReason(err)).Inc()
		return
	}
	if itemsCreated > 0 {
		m.lineItems.Add(float64(itemsCreated))
	}
}

func (m *InvoicingMetrics) RecordDeposit(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.deposits.WithLabelValues(ResultFailed, ClassifyReason(err)).Inc()
		return
	}
	m.deposits.WithLabelValues(ResultApplied, "").Inc()
}

func (m *InvoicingMetrics) RecordDepositRetry() {
	if m == nil {
		return
	}
	m.depositRetries.Inc()
}

func (m *InvoicingMetrics) RecordAuditAppendFailure(recorder string) {
	if m == nil {
		return
	}
	m.auditAppendFailures.WithLabelValues(strings.TrimSpace(recorder)).Inc()
}

// ObserveReport records one revenue query started at start.
func (m *InvoicingMetrics) ObserveReport(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = ResultFailed
	}
	m.reportQueries.WithLabelValues(kind, result).Inc()
	m.reportDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// ClassifyReason maps an error onto a bounded label value.
func ClassifyReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadline
	}
	switch apperror.KindOf(err) {
	case apperror.ErrValidation:
		return ReasonValidation
	case apperror.ErrNotFound:
		return ReasonNotFound
	case apperror.ErrConflict:
		return ReasonConflict
	case apperror.ErrTransaction:
		if db.IsRetryableTxErr(err) || db.IsDuplicateKeyErr(err) {
			return ReasonConflict
		}
		return ReasonDB
	}
	return ReasonUnknown
}
