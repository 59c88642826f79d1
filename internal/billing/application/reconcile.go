package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	billing "rental-billing/internal/billing/domain"
	"rental-billing/internal/billing/notify"
	"rental-billing/internal/ledgerclient"
	"rental-billing/internal/platform/logger"
)

const (
	anomalyMultiCandidate = "multiple_reconcile_candidates"
	anomalyLegacySerial   = "legacy_serial_number"
	anomalyDuplicateRef   = "duplicate_reference"
	anomalyNoLedgerInfo   = "no_ledger_info"
)

// pendingInstallment is one candidate waiting for its chunk to be looked up.
type pendingInstallment struct {
	contractID string
	key        billing.RateKey
	serial     string
	status     billing.Status
}

// Reconciler compares invoiced installments with the ledger and records payments.
type Reconciler struct {
	contracts billing.ContractRepository
	ledger    Ledger
	system    string
	cutover   time.Time
	chunkSize int
	deps      RunnerDeps
}

// NewReconciler constructs the reconciliation engine.
func NewReconciler(contracts billing.ContractRepository, ledger Ledger, cfg Config, deps RunnerDeps) (*Reconciler, error) {
	if contracts == nil {
		return nil, errors.New("reconciler: nil contract repository")
	}
	if ledger == nil {
		return nil, errors.New("reconciler: nil ledger")
	}
	system := cfg.Serial.System
	if system == "" {
		system = billing.DefaultSystem
	}
	cutover := cfg.Reconcile.Cutover
	if cutover.IsZero() {
		cutover = DefaultCutover
	}
	chunkSize := cfg.Reconcile.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 400
	}
	return &Reconciler{
		contracts: contracts,
		ledger:    ledger,
		system:    system,
		cutover:   cutover.UTC(),
		chunkSize: chunkSize,
		deps:      deps.withDefaults(),
	}, nil
}

// Reconcile runs one reconciliation pass. Chunks are looked up one at a time;
// a failed chunk is skipped and earlier chunks stay committed.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	summary := ReconcileSummary{
		RunID:        uuid.NewString(),
		StartedAt:    r.deps.Clock.Now().UTC(),
		Cutover:      r.cutover,
		StatusCounts: make(map[string]int),
	}
	log := r.deps.Logger.With("job", jobReconcile, "run_id", summary.RunID)
	log.Info("reconcile_run_start", "cutover", r.cutover.Format(time.RFC3339), "chunk_size", r.chunkSize)

	contracts, err := r.contracts.FindReconcileCandidates(ctx, billing.ReconcileQuery{InvoicedSince: r.cutover})
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		err = asStorageError("find reconcile candidates", err)
		summary.Error = err.Error()
		log.Error("reconcile_run_failed", "error", err.Error())
		r.finish(ctx, &summary, log)
		return summary, err
	}
	summary.Contracts = len(contracts)

	seen := make(map[string]bool)
	chunk := make([]pendingInstallment, 0, r.chunkSize)
	for _, contract := range contracts {
		hits := 0
		for i, rate := range contract.FakturaInfo.Rates {
			if !rate.AwaitingSettlement(r.cutover) {
				continue
			}
			if !billing.HasSystemPrefix(rate.SerialNumber, r.system) {
				summary.LegacyExcluded++
				continue
			}
			if !isSettlementCandidate(rate.Status) {
				summary.SkippedNonCandidates++
				continue
			}
			hits++
			if seen[rate.SerialNumber] {
				summary.DuplicateReferences++
				log.Warn("reconcile_duplicate_reference", "contract_id", contract.ID, "serial_number", rate.SerialNumber)
				continue
			}
			seen[rate.SerialNumber] = true
			summary.Candidates++
			chunk = append(chunk, pendingInstallment{
				contractID: contract.ID,
				key:        billing.RateKeys[i],
				serial:     rate.SerialNumber,
				status:     rate.Status,
			})
			if len(chunk) >= r.chunkSize {
				r.flush(ctx, chunk, &summary, log)
				chunk = chunk[:0]
			}
		}
		if hits > 1 {
			summary.MultiCandidateContracts++
			log.Warn("reconcile_multiple_candidates", "contract_id", contract.ID, "candidates", hits)
		}
	}
	if len(chunk) > 0 {
		r.flush(ctx, chunk, &summary, log)
	}

	r.finish(ctx, &summary, log)
	return summary, nil
}

// flush looks up one chunk and applies the results.
func (r *Reconciler) flush(ctx context.Context, chunk []pendingInstallment, summary *ReconcileSummary, log *logger.Logger) {
	summary.Chunks++
	references := make([]string, len(chunk))
	for i, pending := range chunk {
		references[i] = pending.serial
	}
	rows, err := r.ledger.GetOrderStatuses(ctx, references)
	if err != nil {
		summary.ChunkFailures++
		r.deps.Metrics.ChunkFailed()
		log.Error("reconcile_chunk_failed", "chunk", summary.Chunks, "references", len(references), "error", err.Error())
		return
	}

	byReference := make(map[string]ledgerclient.OrderStatus, len(rows))
	for _, row := range rows {
		if _, dup := byReference[row.Reference]; dup {
			log.Warn("reconcile_ledger_duplicate_row", "serial_number", row.Reference)
			continue
		}
		byReference[row.Reference] = row
	}

	for _, pending := range chunk {
		row, ok := byReference[pending.serial]
		if !ok {
			summary.NoLedgerInfo++
			log.Info("reconcile_no_ledger_info", "contract_id", pending.contractID, "serial_number", pending.serial)
			continue
		}
		target, settled := LedgerOutcome(row)
		if !settled {
			summary.StatusCounts[pending.status.Key()]++
			continue
		}
		if err := r.settle(ctx, pending, target); err != nil {
			summary.UpdateFailures = append(summary.UpdateFailures, WriteBackFailure{
				ContractID:   pending.contractID,
				RateKey:      pending.key,
				SerialNumber: pending.serial,
				Error:        err.Error(),
			})
			r.deps.Metrics.WriteBackFailed()
			log.Error("reconcile_update_failed", "contract_id", pending.contractID, "serial_number", pending.serial, "error", err.Error())
			continue
		}
		summary.Updated++
		summary.StatusCounts[target.Key()]++
		r.deps.Metrics.Reconciled(target.Key())
		log.Info("reconcile_installment_settled", "contract_id", pending.contractID, "rate", string(pending.key), "status", target.Key())
	}
}

func (r *Reconciler) settle(ctx context.Context, pending pendingInstallment, target billing.Status) error {
	update, err := billing.MarkSettled(pending.status, target)
	if err != nil {
		return err
	}
	return r.contracts.UpdateInstallment(ctx, pending.contractID, pending.key, pending.status, update)
}

func (r *Reconciler) finish(ctx context.Context, summary *ReconcileSummary, log *logger.Logger) {
	summary.FinishedAt = r.deps.Clock.Now().UTC()
	if r.deps.Reporter != nil {
		paths, err := r.deps.Reporter.ReconcileReport(*summary)
		if err != nil {
			log.Warn("reconcile_report_failed", "error", err.Error())
		}
		summary.Reports = append(summary.Reports, paths...)
	}
	r.deps.Metrics.Anomaly(anomalyMultiCandidate, summary.MultiCandidateContracts)
	r.deps.Metrics.Anomaly(anomalyLegacySerial, summary.LegacyExcluded)
	r.deps.Metrics.Anomaly(anomalyDuplicateRef, summary.DuplicateReferences)
	r.deps.Metrics.Anomaly(anomalyNoLedgerInfo, summary.NoLedgerInfo)
	r.deps.Metrics.ObserveRun(jobReconcile, summary.Status(), summary.FinishedAt.Sub(summary.StartedAt))
	notifyRun(ctx, r.deps.Notifier, reconcileRunReport(*summary), log)
	log.Info("reconcile_run_finished",
		"status", summary.Status(),
		"contracts", summary.Contracts,
		"candidates", summary.Candidates,
		"updated", summary.Updated,
		"legacy_excluded", summary.LegacyExcluded,
		"multi_candidate_contracts", summary.MultiCandidateContracts,
		"no_ledger_info", summary.NoLedgerInfo,
		"chunk_failures", summary.ChunkFailures,
	)
}

// LedgerOutcome derives the settled status from a ledger row. A non-positive invoice
// amount means the invoice was credited; a fully paid balance means paid. Anything
// else leaves the installment as it is.
func LedgerOutcome(row ledgerclient.OrderStatus) (billing.Status, bool) {
	if !row.InvoiceAmount.Valid {
		return billing.StatusUnset, false
	}
	if row.InvoiceAmount.Decimal.LessThanOrEqual(decimal.Zero) {
		return billing.StatusCredited, true
	}
	if row.RemainingAmount.Valid && row.RemainingAmount.Decimal.LessThanOrEqual(decimal.Zero) {
		return billing.StatusPaid, true
	}
	return billing.StatusUnset, false
}

func isSettlementCandidate(status billing.Status) bool {
	switch status {
	case billing.StatusInvoiced, billing.StatusUnknown, billing.StatusReferredToCollections:
		return true
	}
	return false
}

func reconcileRunReport(s ReconcileSummary) notify.RunReport {
	report := notify.RunReport{
		Title: fmt.Sprintf("Payment reconciliation (%s)", s.Status()),
		Headlines: []string{
			fmt.Sprintf("**%d** installment(s) updated from the ledger.", s.Updated),
			fmt.Sprintf("**%d** candidate(s) in %d chunk(s), **%d** chunk failure(s).", s.Candidates, s.Chunks, s.ChunkFailures),
		},
	}
	if s.Error != "" {
		report.Headlines = append(report.Headlines, "Run failed: "+s.Error)
	}
	for _, key := range s.SortedStatusKeys() {
		report.Facts = append(report.Facts, notify.Fact{Title: key, Value: fmt.Sprint(s.StatusCounts[key])})
	}
	report.Facts = append(report.Facts,
		notify.Fact{Title: "legacy_excluded", Value: fmt.Sprint(s.LegacyExcluded)},
		notify.Fact{Title: "multi_candidate_contracts", Value: fmt.Sprint(s.MultiCandidateContracts)},
		notify.Fact{Title: "no_ledger_info", Value: fmt.Sprint(s.NoLedgerInfo)},
	)
	for _, failure := range s.UpdateFailures {
		report.Facts = append(report.Facts, notify.Fact{Title: "Contract:", Value: failure.ContractID})
	}
	return report
}
