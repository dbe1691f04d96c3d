package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures the metric const labels.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes the fee ledger instruments.
type Metrics struct {
	billsGenerated     *prometheus.CounterVec
	generationOutcome  *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	paymentsApplied    *prometheus.CounterVec
	paymentAmount      prometheus.Histogram
	penaltiesApplied   *prometheus.CounterVec
	remindersSent      *prometheus.CounterVec
}

// New registers the fee ledger metrics on the default registerer.
func New(cfg Config) *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, cfg)
}

// NewForTest registers the metrics on a caller-owned registry.
func NewForTest(registerer prometheus.Registerer) *Metrics {
	return newMetrics(registerer, Config{ServiceName: "feeledger", Environment: "test"})
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	billsGenerated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "feeledger_demand_bills_generated_total",
		Help:        "Demand bills issued, by whether the call created or replayed the bill.",
		ConstLabels: constLabels,
	}, []string{"result"})
	generationOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "feeledger_generation_requests_total",
		Help:        "Bill generation requests by outcome.",
		ConstLabels: constLabels,
	}, []string{"scope", "outcome"})
	generationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "feeledger_generation_duration_seconds",
		Help:        "Bill generation latency per request scope.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"scope"})
	paymentsApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "feeledger_payments_applied_total",
		Help:        "Payments applied to fee records, by whether the reference was new.",
		ConstLabels: constLabels,
	}, []string{"result"})
	paymentAmount := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "feeledger_payment_amount_minor",
		Help:        "Applied payment amounts in currency minor units.",
		Buckets:     prometheus.ExponentialBuckets(100, 4, 8),
		ConstLabels: constLabels,
	})
	penaltiesApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "feeledger_late_fees_applied_total",
		Help:        "Late-fee penalties folded into fee records.",
		ConstLabels: constLabels,
	}, []string{"penalty_type"})
	remindersSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "feeledger_payment_reminders_total",
		Help:        "Payment reminders by dispatch outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})

	registerer.MustRegister(
		billsGenerated,
		generationOutcome,
		generationDuration,
		paymentsApplied,
		paymentAmount,
		penaltiesApplied,
		remindersSent,
	)

	return &Metrics{
		billsGenerated:     billsGenerated,
		generationOutcome:  generationOutcome,
		generationDuration: generationDuration,
		paymentsApplied:    paymentsApplied,
		paymentAmount:      paymentAmount,
		penaltiesApplied:   penaltiesApplied,
		remindersSent:      remindersSent,
	}
}

// RecordBillIssued counts a bill returned by Generate. replayed is true when
// the bill already existed.
func (m *Metrics) RecordBillIssued(replayed bool) {
	if m == nil {
		return
	}
	m.billsGenerated.WithLabelValues(resultLabel(replayed)).Inc()
}

// ObserveGeneration records the outcome and latency of one Generate call.
func (m *Metrics) ObserveGeneration(scope, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.generationOutcome.WithLabelValues(scope, outcome).Inc()
	m.generationDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

// RecordPayment counts an applied payment.
func (m *Metrics) RecordPayment(replayed bool, amount int64) {
	if m == nil {
		return
	}
	m.paymentsApplied.WithLabelValues(resultLabel(replayed)).Inc()
	if !replayed {
		m.paymentAmount.Observe(float64(amount))
	}
}

// RecordPenalty counts a late fee folded into a record.
func (m *Metrics) RecordPenalty(penaltyType string) {
	if m == nil {
		return
	}
	m.penaltiesApplied.WithLabelValues(strings.ToLower(strings.TrimSpace(penaltyType))).Inc()
}

// RecordReminder counts a reminder dispatch attempt.
func (m *Metrics) RecordReminder(outcome string) {
	if m == nil {
		return
	}
	m.remindersSent.WithLabelValues(outcome).Inc()
}

func resultLabel(replayed bool) string {
	if replayed {
		return "replayed"
	}
	return "created"
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "feeledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}
