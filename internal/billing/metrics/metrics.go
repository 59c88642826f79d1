package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles billing job metrics. A nil *Metrics records nothing.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	RowsInvoiced      prometheus.Counter
	FilesTotal        *prometheus.CounterVec
	WriteBackFailures prometheus.Counter
	ReconciledTotal   *prometheus.CounterVec
	ChunkFailures     prometheus.Counter
	AnomaliesTotal    *prometheus.CounterVec
}

// New constructs metrics and registers them with reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_job_runs_total",
				Help: "Total billing job runs by job and status",
			},
			[]string{"job", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_job_duration_seconds",
			Help:    "Billing job duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		RowsInvoiced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoice_rows_total",
			Help: "Invoice rows written back as invoiced",
		}),
		FilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_import_files_total",
				Help: "Ledger import files by result",
			},
			[]string{"result"},
		),
		WriteBackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_write_back_failures_total",
			Help: "Installment writes that failed after a confirmed ledger call",
		}),
		ReconciledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_reconciled_installments_total",
				Help: "Reconciled installments by resulting status",
			},
			[]string{"status"},
		),
		ChunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_reconcile_chunk_failures_total",
			Help: "Reconciliation chunks aborted by a ledger failure",
		}),
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_anomalies_total",
				Help: "Non-fatal anomalies by kind",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RowsInvoiced,
		m.FilesTotal,
		m.WriteBackFailures,
		m.ReconciledTotal,
		m.ChunkFailures,
		m.AnomaliesTotal,
	)
	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(job, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(job, status).Inc()
	m.RunDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *Metrics) AddRowsInvoiced(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsInvoiced.Add(float64(n))
}

func (m *Metrics) FileResult(imported bool) {
	if m == nil {
		return
	}
	result := "failed"
	if imported {
		result = "imported"
	}
	m.FilesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) WriteBackFailed() {
	if m == nil {
		return
	}
	m.WriteBackFailures.Inc()
}

func (m *Metrics) Reconciled(status string) {
	if m == nil {
		return
	}
	m.ReconciledTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ChunkFailed() {
	if m == nil {
		return
	}
	m.ChunkFailures.Inc()
}

func (m *Metrics) Anomaly(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AnomaliesTotal.WithLabelValues(kind).Add(float64(n))
}
