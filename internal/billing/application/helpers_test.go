package application

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	billing "rental-billing/internal/billing/domain"
	"rental-billing/internal/billing/infrastructure/memory"
	"rental-billing/internal/billing/notify"
	"rental-billing/internal/ledgerclient"
)

var septemberNow = time.Date(2025, time.September, 15, 9, 0, 0, 0, time.UTC)

func testConfig(workDir string) Config {
	return Config{
		Ledger: LedgerConfig{FileType: "SO01b_2"},
		Invoice: InvoiceConfig{
			OwnerCode:               "39006",
			ImportSystem:            "Skoleutvikling - JOTNE",
			ProductCode:             "4651000",
			ServiceType:             "465",
			SOGroup:                 "465",
			ReadyToInvoice:          "1",
			TextTemplate:            "Faktura for %s - Leie av elev-PC",
			DefaultHeaderInfo:       "Spørsmål vedrørende faktura, ta kontakt med skolen din",
			WorkDir:                 workDir,
			CustomerImportGraceDays: 7,
			SchoolYearStartMonth:    int(time.August),
		},
		Schools:   map[string]string{"974568098": "Bamble vgs"},
		Serial:    SerialConfig{System: "JOT"},
		Reconcile: ReconcileConfig{Cutover: DefaultCutover, ChunkSize: 400},
	}
}

func regularSettings() billing.PriceSettings {
	return billing.PriceSettings{
		RegularPrice: decimal.NewFromInt(1000),
		ReducedPrice: decimal.NewFromInt(500),
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// rentalContract has rate2 due in the 2025 school year.
func rentalContract(id, studentID string) billing.Contract {
	return billing.Contract{
		ID:           id,
		ContractType: "Leieavtale",
		SchoolOrgNr:  "974568098",
		Student:      billing.Student{Name: "Student " + id, NationalID: studentID, Class: "2STA", School: "Bamble vgs"},
		Guardian:     &billing.Person{Name: "Guardian " + id, NationalID: "g-" + studentID},
		SignedBy:     billing.Person{Name: "Guardian " + id, NationalID: "g-" + studentID},
		FakturaInfo: billing.FakturaInfo{Rates: [billing.RateCount]billing.Installment{
			{BillingYear: 2024, Status: billing.StatusPaid, SerialNumber: "JOT-000000001-1-2024-aaaaaa"},
			{BillingYear: 2025, Status: billing.StatusNotInvoiced},
			{BillingYear: 2026, Status: billing.StatusNotInvoiced},
		}},
		CustomerImportedAt: timePtr(time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)),
	}
}

type importCall struct {
	fileType string
	path     string
	content  string
}

type fakeLedger struct {
	mu          sync.Mutex
	importErrs  map[int]error
	imports     []importCall
	statuses    map[string][]ledgerclient.OrderStatus
	statusErrs  map[int]error
	statusCalls [][]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		importErrs: make(map[int]error),
		statuses:   make(map[string][]ledgerclient.OrderStatus),
		statusErrs: make(map[int]error),
	}
}

func (l *fakeLedger) ImportFile(_ context.Context, fileType, filePath string) (ledgerclient.ImportResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, _ := os.ReadFile(filePath)
	l.imports = append(l.imports, importCall{fileType: fileType, path: filePath, content: string(data)})
	if err := l.importErrs[len(l.imports)]; err != nil {
		return ledgerclient.ImportResult{}, err
	}
	return ledgerclient.ImportResult{FileName: filePath, Edges: []json.RawMessage{json.RawMessage(`{"node":{}}`)}}, nil
}

func (l *fakeLedger) GetOrderStatuses(_ context.Context, references []string) ([]ledgerclient.OrderStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusCalls = append(l.statusCalls, append([]string(nil), references...))
	if err := l.statusErrs[len(l.statusCalls)]; err != nil {
		return nil, err
	}
	var rows []ledgerclient.OrderStatus
	for _, ref := range references {
		rows = append(rows, l.statuses[ref]...)
	}
	return rows, nil
}

func (l *fakeLedger) setStatus(reference string, invoiceAmount, remainingAmount int64) {
	l.statuses[reference] = []ledgerclient.OrderStatus{{
		Reference:       reference,
		Status:          "Open",
		InvoiceAmount:   decimal.NewNullDecimal(decimal.NewFromInt(invoiceAmount)),
		RemainingAmount: decimal.NewNullDecimal(decimal.NewFromInt(remainingAmount)),
	}}
}

type recordingNotifier struct {
	reports []notify.RunReport
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, report notify.RunReport) error {
	n.reports = append(n.reports, report)
	return n.err
}

type recordingReporter struct {
	invoice   []InvoiceSummary
	reconcile []ReconcileSummary
}

func (r *recordingReporter) InvoiceReport(summary InvoiceSummary) ([]string, error) {
	r.invoice = append(r.invoice, summary)
	return []string{"invoice-report.xlsx"}, nil
}

func (r *recordingReporter) ReconcileReport(summary ReconcileSummary) ([]string, error) {
	r.reconcile = append(r.reconcile, summary)
	return nil, errors.New("disk full")
}

// failingUpdates rejects installment writes for the listed contract ids.
type failingUpdates struct {
	*memory.Store
	fail map[string]error
}

func (r failingUpdates) UpdateInstallment(ctx context.Context, contractID string, key billing.RateKey, expected billing.Status, update billing.InstallmentUpdate) error {
	if err := r.fail[contractID]; err != nil {
		return billing.NewStorageError("update installment", err)
	}
	return r.Store.UpdateInstallment(ctx, contractID, key, expected, update)
}

// duplicatingRepository returns every candidate twice.
type duplicatingRepository struct {
	*memory.Store
}

func (r duplicatingRepository) FindInvoiceCandidates(ctx context.Context, q billing.InvoiceQuery) ([]billing.Contract, error) {
	contracts, err := r.Store.FindInvoiceCandidates(ctx, q)
	if err != nil {
		return nil, err
	}
	return append(contracts, contracts...), nil
}
