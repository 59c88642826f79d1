package application

import (
	"sort"
	"time"

	billing "rental-billing/internal/billing/domain"
)

const (
	jobInvoice   = "invoice"
	jobReconcile = "reconcile"

	runStatusSucceeded = "succeeded"
	runStatusPartial   = "partial"
	runStatusFailed    = "failed"
)

// SkipReason explains why a contract produced no invoice row.
type SkipReason string

const (
	SkipNotRental         SkipReason = "not_rental"
	SkipNotInRegistry     SkipReason = "not_in_registry"
	SkipNoDueInstallment  SkipReason = "no_due_installment"
	SkipFlowException     SkipReason = "invoice_flow_exception"
	SkipDuplicate         SkipReason = "duplicate_installment"
	SkipValidation        SkipReason = "validation_failed"
	SkipSerialUnavailable SkipReason = "serial_number_unavailable"

	// AnomalyMultipleDue is recorded when more than one installment is due; the
	// first by index is still invoiced.
	AnomalyMultipleDue SkipReason = "multiple_due_installments"
)

// ReviewEntry is a contract that needs manual attention after a run.
type ReviewEntry struct {
	ContractID  string
	StudentName string
	Class       string
	SchoolOrgNr string
	RateKey     billing.RateKey
	Reason      SkipReason
	Detail      string
}

// FileResult is the outcome of one rendered import file.
type FileResult struct {
	Name     string
	Path     string
	Rows     int
	Imported bool
	Moved    bool
	Edges    int
	Error    string
}

// WriteBackFailure is an installment whose status write failed after a confirmed ledger call.
type WriteBackFailure struct {
	ContractID   string
	RateKey      billing.RateKey
	SerialNumber string
	Error        string
}

// InvoiceSummary is the best-effort outcome of an invoice run.
type InvoiceSummary struct {
	RunID             string
	StartedAt         time.Time
	FinishedAt        time.Time
	SchoolYear        string
	BillingYear       int
	Candidates        int
	Rows              int
	Invoiced          int
	Files             []FileResult
	WriteBackFailures []WriteBackFailure
	Skipped           []ReviewEntry
	Anomalies         []ReviewEntry
	Reports           []string
	Error             string
}

// Status classifies the run for metrics and notifications.
func (s InvoiceSummary) Status() string {
	if s.Error != "" {
		return runStatusFailed
	}
	for _, file := range s.Files {
		if !file.Imported {
			return runStatusPartial
		}
	}
	if len(s.WriteBackFailures) > 0 {
		return runStatusPartial
	}
	return runStatusSucceeded
}

// FilesImported counts files the ledger confirmed.
func (s InvoiceSummary) FilesImported() int {
	n := 0
	for _, file := range s.Files {
		if file.Imported {
			n++
		}
	}
	return n
}

// ReconcileSummary is the best-effort outcome of a reconciliation run.
type ReconcileSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Cutover    time.Time
	Contracts  int
	Candidates int
	// StatusCounts counts candidate installments by resulting status key.
	StatusCounts            map[string]int
	Updated                 int
	MultiCandidateContracts int
	LegacyExcluded          int
	SkippedNonCandidates    int
	DuplicateReferences     int
	NoLedgerInfo            int
	Chunks                  int
	ChunkFailures           int
	UpdateFailures          []WriteBackFailure
	Reports                 []string
	Error                   string
}

// Status classifies the run for metrics and notifications.
func (s ReconcileSummary) Status() string {
	if s.Error != "" {
		return runStatusFailed
	}
	if s.ChunkFailures > 0 || len(s.UpdateFailures) > 0 {
		return runStatusPartial
	}
	return runStatusSucceeded
}

// CountFor returns the count recorded for a resulting status.
func (s ReconcileSummary) CountFor(status billing.Status) int {
	return s.StatusCounts[status.Key()]
}

// SortedStatusKeys returns the status keys in a stable order.
func (s ReconcileSummary) SortedStatusKeys() []string {
	keys := make([]string, 0, len(s.StatusCounts))
	for key := range s.StatusCounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
