package interfaces

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"rental-billing/internal/billing/application"
)

var _ application.RunReporter = (*FileReporter)(nil)

// FileReporter writes run reports to a directory.
type FileReporter struct {
	dir string
}

// NewFileReporter constructs a reporter writing into dir.
func NewFileReporter(dir string) (*FileReporter, error) {
	if dir == "" {
		return nil, errors.New("reports: dir required")
	}
	return &FileReporter{dir: dir}, nil
}

// InvoiceReport writes the manual review workbook and the run summary PDF.
func (r *FileReporter) InvoiceReport(summary application.InvoiceSummary) ([]string, error) {
	xlsx, err := BuildManualReviewXLSX(summary)
	if err != nil {
		return nil, err
	}
	pdf, err := BuildInvoiceSummaryPDF(summary)
	if err != nil {
		return nil, err
	}
	base := reportBase("invoice", summary.StartedAt, summary.RunID)
	return r.write(map[string][]byte{base + ".xlsx": xlsx, base + ".pdf": pdf})
}

// ReconcileReport writes the reconciliation workbook and summary PDF.
func (r *FileReporter) ReconcileReport(summary application.ReconcileSummary) ([]string, error) {
	xlsx, err := BuildReconcileXLSX(summary)
	if err != nil {
		return nil, err
	}
	pdf, err := BuildReconcileSummaryPDF(summary)
	if err != nil {
		return nil, err
	}
	base := reportBase("reconcile", summary.StartedAt, summary.RunID)
	return r.write(map[string][]byte{base + ".xlsx": xlsx, base + ".pdf": pdf})
}

func (r *FileReporter) write(files map[string][]byte) ([]string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, name := range sortedNames(files) {
		path := filepath.Join(r.dir, name)
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func reportBase(job string, started time.Time, runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s_%s", job, started.UTC().Format("20060102_150405"), short)
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildManualReviewXLSX renders skipped contracts, anomalies and write-back failures.
func BuildManualReviewXLSX(summary application.InvoiceSummary) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	f.SetSheetName("Sheet1", summarySheet)

	_ = f.SetCellValue(summarySheet, "A1", "Invoice run")
	facts := [][2]any{
		{"Run", summary.RunID},
		{"School year", summary.SchoolYear},
		{"Status", summary.Status()},
		{"Started", summary.StartedAt.Format(time.RFC3339)},
		{"Finished", summary.FinishedAt.Format(time.RFC3339)},
		{"Candidates", summary.Candidates},
		{"Rows", summary.Rows},
		{"Invoiced", summary.Invoiced},
		{"Files imported", fmt.Sprintf("%d/%d", summary.FilesImported(), len(summary.Files))},
	}
	if summary.Error != "" {
		facts = append(facts, [2]any{"Error", summary.Error})
	}
	for i, fact := range facts {
		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), fact[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), fact[1])
	}

	reviewHeader := []string{"Contract", "Student", "Class", "School org nr", "Rate", "Reason", "Detail"}
	for _, sheet := range []struct {
		name    string
		entries []application.ReviewEntry
	}{
		{"skipped", summary.Skipped},
		{"anomalies", summary.Anomalies},
	} {
		f.NewSheet(sheet.name)
		writeRow(f, sheet.name, 1, reviewHeader)
		for i, e := range sheet.entries {
			writeRow(f, sheet.name, i+2, []string{e.ContractID, e.StudentName, e.Class, e.SchoolOrgNr, string(e.RateKey), string(e.Reason), e.Detail})
		}
	}

	f.NewSheet("files")
	writeRow(f, "files", 1, []string{"File", "Rows", "Imported", "Moved", "Error"})
	for i, file := range summary.Files {
		writeRow(f, "files", i+2, []string{file.Name, fmt.Sprint(file.Rows), fmt.Sprint(file.Imported), fmt.Sprint(file.Moved), file.Error})
	}

	writeFailures(f, "write_back_failures", summary.WriteBackFailures)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReconcileXLSX renders status counts and failed updates of a reconciliation run.
func BuildReconcileXLSX(summary application.ReconcileSummary) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	f.SetSheetName("Sheet1", summarySheet)

	_ = f.SetCellValue(summarySheet, "A1", "Payment reconciliation")
	row := 3
	for _, fact := range reconcileFacts(summary) {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), fact[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), fact[1])
		row++
	}
	writeFailures(f, "update_failures", summary.UpdateFailures)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFailures(f *excelize.File, sheet string, failures []application.WriteBackFailure) {
	f.NewSheet(sheet)
	writeRow(f, sheet, 1, []string{"Contract", "Rate", "Serial number", "Error"})
	for i, failure := range failures {
		writeRow(f, sheet, i+2, []string{failure.ContractID, string(failure.RateKey), failure.SerialNumber, failure.Error})
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []string) {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			continue
		}
		_ = f.SetCellValue(sheet, cell, value)
	}
}

func reconcileFacts(s application.ReconcileSummary) [][2]string {
	facts := [][2]string{
		{"Run", s.RunID},
		{"Status", s.Status()},
		{"Cutover", s.Cutover.Format(time.RFC3339)},
		{"Contracts", fmt.Sprint(s.Contracts)},
		{"Candidates", fmt.Sprint(s.Candidates)},
		{"Updated", fmt.Sprint(s.Updated)},
		{"Chunks", fmt.Sprintf("%d (%d failed)", s.Chunks, s.ChunkFailures)},
		{"Legacy excluded", fmt.Sprint(s.LegacyExcluded)},
		{"Skipped non-candidates", fmt.Sprint(s.SkippedNonCandidates)},
		{"Multi-candidate contracts", fmt.Sprint(s.MultiCandidateContracts)},
		{"Duplicate references", fmt.Sprint(s.DuplicateReferences)},
		{"No ledger info", fmt.Sprint(s.NoLedgerInfo)},
	}
	for _, key := range s.SortedStatusKeys() {
		facts = append(facts, [2]string{"Status " + key, fmt.Sprint(s.StatusCounts[key])})
	}
	if s.Error != "" {
		facts = append(facts, [2]string{"Error", s.Error})
	}
	return facts
}

// BuildInvoiceSummaryPDF renders a one-page summary of an invoice run.
func BuildInvoiceSummaryPDF(s application.InvoiceSummary) ([]byte, error) {
	facts := [][2]string{
		{"Run", s.RunID},
		{"School year", s.SchoolYear},
		{"Status", s.Status()},
		{"Started", s.StartedAt.Format(time.RFC3339)},
		{"Candidates", fmt.Sprint(s.Candidates)},
		{"Rows", fmt.Sprint(s.Rows)},
		{"Invoiced", fmt.Sprint(s.Invoiced)},
		{"Files imported", fmt.Sprintf("%d/%d", s.FilesImported(), len(s.Files))},
		{"Write-back failures", fmt.Sprint(len(s.WriteBackFailures))},
		{"Skipped", fmt.Sprint(len(s.Skipped))},
		{"Anomalies", fmt.Sprint(len(s.Anomalies))},
	}
	if s.Error != "" {
		facts = append(facts, [2]string{"Error", s.Error})
	}
	rows := make([][]string, 0, len(s.Files))
	for _, file := range s.Files {
		rows = append(rows, []string{file.Name, fmt.Sprint(file.Rows), fmt.Sprint(file.Imported)})
	}
	return buildSummaryPDF("Invoice Run", facts, []string{"File", "Rows", "Imported"}, []float64{130, 20, 30}, rows)
}

// BuildReconcileSummaryPDF renders a one-page summary of a reconciliation run.
func BuildReconcileSummaryPDF(s application.ReconcileSummary) ([]byte, error) {
	rows := make([][]string, 0, len(s.UpdateFailures))
	for _, failure := range s.UpdateFailures {
		rows = append(rows, []string{failure.ContractID, failure.SerialNumber, string(failure.RateKey)})
	}
	return buildSummaryPDF("Payment Reconciliation", reconcileFacts(s), []string{"Contract", "Serial number", "Rate"}, []float64{60, 90, 30}, rows)
}

func buildSummaryPDF(title string, facts [][2]string, header []string, widths []float64, rows [][]string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, tr(title))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, fact := range facts {
		pdf.Cell(0, 6, tr(fmt.Sprintf("%s: %s", fact[0], fact[1])))
		pdf.Ln(5)
	}

	if len(rows) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		for i, h := range header {
			pdf.CellFormat(widths[i], 6, tr(h), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, row := range rows {
			for i, value := range row {
				pdf.CellFormat(widths[i], 6, tr(value), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
