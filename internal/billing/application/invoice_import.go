package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	billing "rental-billing/internal/billing/domain"
	billingmetrics "rental-billing/internal/billing/metrics"
	"rental-billing/internal/billing/notify"
	"rental-billing/internal/ledgerclient"
	"rental-billing/internal/platform/logger"
)

// Ledger is the external accounting system.
type Ledger interface {
	ImportFile(ctx context.Context, fileType, filePath string) (ledgerclient.ImportResult, error)
	GetOrderStatuses(ctx context.Context, references []string) ([]ledgerclient.OrderStatus, error)
}

// RunReporter writes run artifacts and returns their paths.
type RunReporter interface {
	InvoiceReport(summary InvoiceSummary) ([]string, error)
	ReconcileReport(summary ReconcileSummary) ([]string, error)
}

// RunnerDeps are the optional collaborators shared by the job runners.
type RunnerDeps struct {
	Notifier notify.Notifier
	Reporter RunReporter
	Metrics  *billingmetrics.Metrics
	Clock    Clock
	Logger   *logger.Logger
}

func (d RunnerDeps) withDefaults() RunnerDeps {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	return d
}

// InvoiceRunner executes invoice runs: build, render, import, write back.
type InvoiceRunner struct {
	builder   *InvoiceBuilder
	contracts billing.ContractRepository
	ledger    Ledger
	header    HeaderTemplate
	cfg       Config
	deps      RunnerDeps
}

// NewInvoiceRunner constructs the runner. The header template is loaded once here.
func NewInvoiceRunner(builder *InvoiceBuilder, contracts billing.ContractRepository, ledger Ledger, cfg Config, deps RunnerDeps) (*InvoiceRunner, error) {
	if builder == nil {
		return nil, errors.New("invoice runner: nil builder")
	}
	if contracts == nil {
		return nil, errors.New("invoice runner: nil contract repository")
	}
	if ledger == nil {
		return nil, errors.New("invoice runner: nil ledger")
	}
	if cfg.Invoice.WorkDir == "" {
		return nil, errors.New("invoice runner: work dir required")
	}
	header, err := LoadHeaderTemplate(cfg.Invoice.HeaderTemplatePath)
	if err != nil {
		return nil, err
	}
	if cfg.Invoice.FinishedDir == "" {
		cfg.Invoice.FinishedDir = filepath.Join(cfg.Invoice.WorkDir, "finished")
	}
	if cfg.Ledger.FileType == "" {
		cfg.Ledger.FileType = "SO01b_2"
	}
	return &InvoiceRunner{
		builder:   builder,
		contracts: contracts,
		ledger:    ledger,
		header:    header,
		cfg:       cfg,
		deps:      deps.withDefaults(),
	}, nil
}

// Run executes one invoice run. The summary is always returned, also on error.
func (r *InvoiceRunner) Run(ctx context.Context) (InvoiceSummary, error) {
	started := r.deps.Clock.Now().UTC()
	summary := InvoiceSummary{RunID: uuid.NewString(), StartedAt: started}
	log := r.deps.Logger.With("job", jobInvoice, "run_id", summary.RunID)
	log.Info("invoice_run_start")

	batch, err := r.builder.BuildBatch(ctx)
	summary.SchoolYear = batch.SchoolYear.String()
	summary.BillingYear = batch.SchoolYear.BillingYear()
	summary.Candidates = batch.Candidates
	summary.Rows = len(batch.Rows)
	summary.Skipped = batch.Skipped
	summary.Anomalies = batch.Anomalies
	if err != nil {
		summary.Error = err.Error()
		log.Error("invoice_run_failed", "error", err.Error())
		r.finish(ctx, &summary, log)
		return summary, err
	}

	for i, rows := range SplitRows(batch.Rows, r.cfg.Invoice.MaxRowsPerFile) {
		result := r.importFile(ctx, i+1, rows, &summary, log)
		summary.Files = append(summary.Files, result)
	}

	r.finish(ctx, &summary, log)
	return summary, nil
}

func (r *InvoiceRunner) importFile(ctx context.Context, number int, rows []InvoiceRow, summary *InvoiceSummary, log *logger.Logger) FileResult {
	now := r.deps.Clock.Now()
	name := fmt.Sprintf("%s_Invoice_Base_subledger_import_File_Number_%d_%d_%d_%d.csv",
		r.cfg.Ledger.FileType, number, now.Day(), int(now.Month()), now.Year())
	path := filepath.Join(r.cfg.Invoice.WorkDir, name)
	result := FileResult{Name: name, Path: path, Rows: len(rows)}
	log = log.With("file", name)

	if err := r.writeFile(path, rows); err != nil {
		result.Error = err.Error()
		log.Error("invoice_file_write_failed", "error", err.Error())
		r.deps.Metrics.FileResult(false)
		return result
	}
	log.Info("invoice_file_written", "rows", len(rows))

	imported, err := r.ledger.ImportFile(ctx, r.cfg.Ledger.FileType, path)
	if err != nil {
		result.Error = err.Error()
		log.Error("invoice_file_import_failed", "error", err.Error())
		r.deps.Metrics.FileResult(false)
		return result
	}
	result.Imported = true
	result.Edges = len(imported.Edges)
	r.deps.Metrics.FileResult(true)
	log.Info("invoice_file_imported", "edges", result.Edges)

	finished := filepath.Join(r.cfg.Invoice.FinishedDir, name)
	if err := moveFile(path, finished); err != nil {
		log.Warn("invoice_file_move_failed", "error", err.Error())
	} else {
		result.Path = finished
		result.Moved = true
	}

	for _, row := range rows {
		if err := r.writeBack(ctx, row); err != nil {
			summary.WriteBackFailures = append(summary.WriteBackFailures, WriteBackFailure{
				ContractID:   row.ContractID,
				RateKey:      row.RateKey,
				SerialNumber: row.SerialNumber,
				Error:        err.Error(),
			})
			r.deps.Metrics.WriteBackFailed()
			log.Error("invoice_write_back_failed", "contract_id", row.ContractID, "serial_number", row.SerialNumber, "error", err.Error())
			continue
		}
		summary.Invoiced++
		r.deps.Metrics.AddRowsInvoiced(1)
	}
	return result
}

func (r *InvoiceRunner) writeFile(path string, rows []InvoiceRow) error {
	data, err := r.header.Render(rows)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeBack marks the installment named by the serial number as invoiced.
func (r *InvoiceRunner) writeBack(ctx context.Context, row InvoiceRow) error {
	serial, err := billing.ParseSerialNumber(row.SerialNumber)
	if err != nil {
		return err
	}
	update, err := billing.MarkInvoiced(billing.StatusNotInvoiced, row.SerialNumber, row.UnitPrice, r.deps.Clock.Now())
	if err != nil {
		return err
	}
	return r.contracts.UpdateInstallment(ctx, row.ContractID, serial.RateKey(), billing.StatusNotInvoiced, update)
}

func (r *InvoiceRunner) finish(ctx context.Context, summary *InvoiceSummary, log *logger.Logger) {
	summary.FinishedAt = r.deps.Clock.Now().UTC()
	if r.deps.Reporter != nil {
		paths, err := r.deps.Reporter.InvoiceReport(*summary)
		if err != nil {
			log.Warn("invoice_report_failed", "error", err.Error())
		}
		summary.Reports = append(summary.Reports, paths...)
	}
	r.deps.Metrics.Anomaly(string(AnomalyMultipleDue), len(summary.Anomalies))
	r.deps.Metrics.ObserveRun(jobInvoice, summary.Status(), summary.FinishedAt.Sub(summary.StartedAt))
	notifyRun(ctx, r.deps.Notifier, invoiceRunReport(*summary), log)
	log.Info("invoice_run_finished",
		"status", summary.Status(),
		"rows", summary.Rows,
		"invoiced", summary.Invoiced,
		"files", len(summary.Files),
		"files_imported", summary.FilesImported(),
		"write_back_failures", len(summary.WriteBackFailures),
		"skipped", len(summary.Skipped),
	)
}

func moveFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	return os.Rename(from, to)
}

func notifyRun(ctx context.Context, notifier notify.Notifier, report notify.RunReport, log *logger.Logger) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, report); err != nil {
		log.Warn("run_notify_failed", "error", err.Error())
	}
}

func invoiceRunReport(s InvoiceSummary) notify.RunReport {
	report := notify.RunReport{
		Title: fmt.Sprintf("Invoice import %s (%s)", s.SchoolYear, s.Status()),
		Headlines: []string{
			fmt.Sprintf("**%d** installment(s) marked invoiced after import.", s.Invoiced),
			fmt.Sprintf("**%d** of %d file(s) imported, **%d** write-back failure(s).", s.FilesImported(), len(s.Files), len(s.WriteBackFailures)),
			fmt.Sprintf("**%d** contract(s) skipped, **%d** anomaly(ies) for manual review.", len(s.Skipped), len(s.Anomalies)),
		},
	}
	if s.Error != "" {
		report.Headlines = append(report.Headlines, "Run failed: "+s.Error)
	}
	for _, failure := range s.WriteBackFailures {
		report.Facts = append(report.Facts, notify.Fact{Title: "Contract:", Value: failure.ContractID})
	}
	for _, file := range s.Files {
		if !file.Imported {
			report.Facts = append(report.Facts, notify.Fact{Title: "Failed file:", Value: file.Name})
		}
	}
	if len(report.Facts) == 0 {
		report.Facts = []notify.Fact{{Title: "Status:", Value: "All installments were updated."}}
	}
	return report
}
