package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRun("invoice", "succeeded", 2*time.Second)
	m.AddRowsInvoiced(3)
	m.FileResult(true)
	m.FileResult(false)
	m.Reconciled("paid")
	m.Reconciled("paid")
	m.Anomaly("multiple_due_installments", 2)
	m.Anomaly("ignored", 0)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("invoice", "succeeded")); got != 1 {
		t.Fatalf("runs total = %v", got)
	}
	if got := testutil.ToFloat64(m.RowsInvoiced); got != 3 {
		t.Fatalf("rows invoiced = %v", got)
	}
	if got := testutil.ToFloat64(m.FilesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed files = %v", got)
	}
	if got := testutil.ToFloat64(m.ReconciledTotal.WithLabelValues("paid")); got != 2 {
		t.Fatalf("reconciled paid = %v", got)
	}
	if got := testutil.ToFloat64(m.AnomaliesTotal.WithLabelValues("multiple_due_installments")); got != 2 {
		t.Fatalf("anomalies = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRun("invoice", "failed", time.Second)
	m.AddRowsInvoiced(1)
	m.FileResult(true)
	m.WriteBackFailed()
	m.Reconciled("paid")
	m.ChunkFailed()
	m.Anomaly("x", 1)
}
