package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "reconcile_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	invoiceEvaluateTotal   *prometheus.CounterVec
	invoiceEvaluateLatency *prometheus.HistogramVec

	lineVerdictsTotal     *prometheus.CounterVec
	lineFlagsTotal        *prometheus.CounterVec
	fingerprintFailures   prometheus.Counter
	duplicateLinesTotal   prometheus.Counter
	discountHypothesisHit *prometheus.CounterVec

	referenceLookupTotal   *prometheus.CounterVec
	referenceLookupLatency *prometheus.HistogramVec

	explainRequests *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		invoiceEvaluateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_evaluate_total",
				Help: "Total invoice evaluations by result",
			},
			[]string{"result"},
		)
		invoiceEvaluateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_evaluate_latency_seconds",
				Help:    "Invoice evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		lineVerdictsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "line_verdicts_total",
				Help: "Total line verdicts by verdict",
			},
			[]string{"verdict"},
		)
		lineFlagsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "line_flags_total",
				Help: "Total evidence flags raised by flag",
			},
			[]string{"flag"},
		)
		fingerprintFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "fingerprint_failures_total",
				Help: "Total lines dropped for fingerprint failure",
			},
		)
		duplicateLinesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "duplicate_lines_total",
				Help: "Total lines matching an existing fingerprint",
			},
		)
		discountHypothesisHit = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "discount_hypothesis_total",
				Help: "Total accepted discount hypotheses by kind",
			},
			[]string{"kind"},
		)

		referenceLookupTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reference_lookup_total",
				Help: "Total price reference lookups by result",
			},
			[]string{"result"},
		)
		referenceLookupLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reference_lookup_latency_seconds",
				Help:    "Price reference lookup latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		explainRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "explain_requests_total",
				Help: "Total explanation requests by source",
			},
			[]string{"source"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report export operations by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			invoiceEvaluateTotal,
			invoiceEvaluateLatency,
			lineVerdictsTotal,
			lineFlagsTotal,
			fingerprintFailures,
			duplicateLinesTotal,
			discountHypothesisHit,
			referenceLookupTotal,
			referenceLookupLatency,
			explainRequests,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveInvoiceEvaluate records invoice evaluation latency and result.
func ObserveInvoiceEvaluate(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if invoiceEvaluateTotal != nil {
		invoiceEvaluateTotal.WithLabelValues(result).Inc()
	}
	if invoiceEvaluateLatency != nil {
		invoiceEvaluateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncLineVerdict increments the verdict distribution counter.
func IncLineVerdict(verdict string) {
	if verdict == "" {
		verdict = "unknown"
	}
	if lineVerdictsTotal != nil {
		lineVerdictsTotal.WithLabelValues(verdict).Inc()
	}
}

// IncLineFlag increments the evidence flag counter.
func IncLineFlag(flag string) {
	if flag == "" {
		return
	}
	if lineFlagsTotal != nil {
		lineFlagsTotal.WithLabelValues(flag).Inc()
	}
}

// IncFingerprintFailure increments the dropped-line counter.
func IncFingerprintFailure() {
	if fingerprintFailures != nil {
		fingerprintFailures.Inc()
	}
}

// IncDuplicateLine increments the duplicate fingerprint counter.
func IncDuplicateLine() {
	if duplicateLinesTotal != nil {
		duplicateLinesTotal.Inc()
	}
}

// IncDiscountHypothesis increments the accepted hypothesis counter.
func IncDiscountHypothesis(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if discountHypothesisHit != nil {
		discountHypothesisHit.WithLabelValues(kind).Inc()
	}
}

// ObserveReferenceLookup records price reference lookup latency and result.
func ObserveReferenceLookup(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if referenceLookupTotal != nil {
		referenceLookupTotal.WithLabelValues(result).Inc()
	}
	if referenceLookupLatency != nil {
		referenceLookupLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncExplainRequest increments explanation requests by source
// (deterministic, llm, cache).
func IncExplainRequest(source string) {
	if source == "" {
		source = "unknown"
	}
	if explainRequests != nil {
		explainRequests.WithLabelValues(source).Inc()
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
