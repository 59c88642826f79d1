package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	billing "rental-billing/internal/billing/domain"
	"rental-billing/internal/platform/logger"
)

// Import file columns filled by the builder. Any other template column renders empty.
const (
	ColOwner          = "Owner ID/Entity Code"
	ColImpSystem      = "ImpSystem"
	ColOrderNo        = "Order No"
	ColLineNo         = "Line No"
	ColReadyToInvoice = "Ready To Invoice"
	ColProduct        = "Product"
	ColText           = "Tekst (imp)"
	ColQuantity       = "Quantity"
	ColUnitPrice      = "Unit Price"
	ColCompanyNo      = "Company No"
	ColServiceType    = "Service Type"
	ColYourRef        = "Your Ref"
	ColSOGroup        = "SO Group"
	ColHeaderInfo     = "Header Info"
	ColContractID     = "Dummy4"
	ColEndOfLine      = "End Of Line"
)

// SerialMinter mints serial numbers for a rate.
type SerialMinter interface {
	Generate(ctx context.Context, rateNumber int) (string, error)
}

// InvoiceRow is one invoice line plus what is needed to write it back.
type InvoiceRow struct {
	ContractID   string
	RateKey      billing.RateKey
	SerialNumber string
	UnitPrice    decimal.Decimal
	Fields       map[string]string
}

// Value returns the rendered value of a column, empty when absent.
func (r InvoiceRow) Value(column string) string {
	return r.Fields[column]
}

// Batch is the output of one selection pass.
type Batch struct {
	SchoolYear  billing.SchoolYear
	Candidates  int
	Rows        []InvoiceRow
	Skipped     []ReviewEntry
	Anomalies   []ReviewEntry
	GeneratedAt time.Time
}

// InvoiceBuilder selects due installments and turns them into invoice rows.
type InvoiceBuilder struct {
	contracts billing.ContractRepository
	settings  billing.SettingsRepository
	serials   SerialMinter
	cfg       Config
	clock     Clock
	log       *logger.Logger
}

// NewInvoiceBuilder constructs the builder.
func NewInvoiceBuilder(
	contracts billing.ContractRepository,
	settings billing.SettingsRepository,
	serials SerialMinter,
	cfg Config,
	clock Clock,
	log *logger.Logger,
) (*InvoiceBuilder, error) {
	if contracts == nil {
		return nil, errors.New("invoice builder: nil contract repository")
	}
	if settings == nil {
		return nil, errors.New("invoice builder: nil settings repository")
	}
	if serials == nil {
		return nil, errors.New("invoice builder: nil serial minter")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &InvoiceBuilder{contracts: contracts, settings: settings, serials: serials, cfg: cfg, clock: clock, log: log}, nil
}

// LoadPriceSettings reads the settings for this run. When none exist a zero-priced
// document is created and ErrSettingsNotConfigured is returned.
func (b *InvoiceBuilder) LoadPriceSettings(ctx context.Context) (billing.PriceSettings, error) {
	settings, err := b.settings.LoadPriceSettings(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, billing.ErrNotFound) {
		return billing.PriceSettings{}, asStorageError("load price settings", err)
	}
	b.log.Warn("price_settings_missing", "action", "creating zero-priced settings")
	initial := billing.PriceSettings{RegularPrice: decimal.Zero, ReducedPrice: decimal.Zero}
	if err := b.settings.InitPriceSettings(ctx, initial); err != nil {
		return billing.PriceSettings{}, asStorageError("init price settings", err)
	}
	return billing.PriceSettings{}, billing.ErrSettingsNotConfigured
}

// BuildBatch selects every contract with an installment due this school year and
// builds one row per contract. Serial numbers are minted one at a time.
func (b *InvoiceBuilder) BuildBatch(ctx context.Context) (Batch, error) {
	now := b.clock.Now().UTC()
	schoolYear := billing.SchoolYearAt(now, time.Month(b.cfg.Invoice.SchoolYearStartMonth))
	batch := Batch{SchoolYear: schoolYear, GeneratedAt: now}

	settings, err := b.LoadPriceSettings(ctx)
	if err != nil {
		return batch, err
	}

	query := billing.InvoiceQuery{BillingYear: schoolYear.BillingYear()}
	if days := b.cfg.Invoice.CustomerImportGraceDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		query.CustomerImportedBefore = &cutoff
	}
	contracts, err := b.contracts.FindInvoiceCandidates(ctx, query)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			b.log.Info("invoice_no_candidates", "billing_year", query.BillingYear)
			return batch, nil
		}
		return batch, asStorageError("find invoice candidates", err)
	}
	batch.Candidates = len(contracts)

	seen := make(map[string]bool)
	for _, contract := range contracts {
		row, entry, anomaly, ok := b.buildRow(ctx, contract, schoolYear.BillingYear(), settings, seen)
		if anomaly != nil {
			batch.Anomalies = append(batch.Anomalies, *anomaly)
		}
		if !ok {
			batch.Skipped = append(batch.Skipped, entry)
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}
	b.log.Info("invoice_batch_built",
		"school_year", schoolYear.String(),
		"candidates", batch.Candidates,
		"rows", len(batch.Rows),
		"skipped", len(batch.Skipped),
		"anomalies", len(batch.Anomalies),
	)
	return batch, nil
}

func (b *InvoiceBuilder) buildRow(
	ctx context.Context,
	contract billing.Contract,
	billingYear int,
	settings billing.PriceSettings,
	seen map[string]bool,
) (InvoiceRow, ReviewEntry, *ReviewEntry, bool) {
	entry := reviewEntry(contract)
	log := b.log.With("contract_id", contract.ID)

	if !contract.IsRental() {
		entry.Reason = SkipNotRental
		return InvoiceRow{}, entry, nil, false
	}
	if contract.NotFoundInRegistry {
		entry.Reason = SkipNotInRegistry
		return InvoiceRow{}, entry, nil, false
	}

	due := contract.DueRates(billingYear)
	if len(due) == 0 {
		log.Info("invoice_no_due_installment", "billing_year", billingYear)
		entry.Reason = SkipNoDueInstallment
		return InvoiceRow{}, entry, nil, false
	}
	key := due[0]
	entry.RateKey = key

	var anomaly *ReviewEntry
	if len(due) > 1 {
		a := entry
		a.Reason = AnomalyMultipleDue
		a.Detail = fmt.Sprintf("%d installments due, invoicing %s", len(due), key)
		anomaly = &a
		log.Warn("invoice_multiple_due_installments", "due", len(due), "rate", string(key))
	}

	pairKey := contract.ID + "/" + string(key)
	if seen[pairKey] {
		entry.Reason = SkipDuplicate
		return InvoiceRow{}, entry, anomaly, false
	}

	if billing.HasInvoiceFlowException(contract.Student.NationalID, settings) {
		log.Error("invoice_flow_exception", "rate", string(key), "student_id", contract.Student.NationalID)
		entry.Reason = SkipFlowException
		entry.Detail = "handled manually"
		return InvoiceRow{}, entry, anomaly, false
	}

	billedParty := contract.BilledPartyID()
	if err := validateForInvoice(contract, billedParty); err != nil {
		log.Warn("invoice_validation_failed", "error", err.Error())
		entry.Reason = SkipValidation
		entry.Detail = err.Error()
		return InvoiceRow{}, entry, anomaly, false
	}

	price := billing.ResolvePrice(contract.Student.NationalID, contract.Student.Class, settings)
	serial, err := b.serials.Generate(ctx, key.Number())
	if err != nil {
		log.Error("invoice_serial_failed", "rate", string(key), "error", err.Error())
		entry.Reason = SkipSerialUnavailable
		entry.Detail = err.Error()
		return InvoiceRow{}, entry, anomaly, false
	}
	seen[pairKey] = true

	row := InvoiceRow{
		ContractID:   contract.ID,
		RateKey:      key,
		SerialNumber: serial,
		UnitPrice:    price,
		Fields:       b.rowFields(contract, serial, price, billedParty),
	}
	log.Debug("invoice_row_built", "rate", string(key), "serial_number", serial, "billed_party_id", billedParty)
	return row, entry, anomaly, true
}

func (b *InvoiceBuilder) rowFields(contract billing.Contract, serial string, price decimal.Decimal, billedParty string) map[string]string {
	inv := b.cfg.Invoice
	return map[string]string{
		ColOwner:          inv.OwnerCode,
		ColImpSystem:      inv.ImportSystem,
		ColOrderNo:        serial,
		ColLineNo:         "1",
		ColReadyToInvoice: inv.ReadyToInvoice,
		ColProduct:        inv.ProductCode,
		ColText:           fmt.Sprintf(inv.TextTemplate, contract.Student.Name),
		ColQuantity:       "1",
		ColUnitPrice:      price.String(),
		ColCompanyNo:      billedParty,
		ColServiceType:    inv.ServiceType,
		ColYourRef:        contract.Student.Name,
		ColSOGroup:        inv.SOGroup,
		ColHeaderInfo:     b.cfg.HeaderInfoFor(contract.SchoolOrgNr),
		ColContractID:     contract.ID,
		ColEndOfLine:      "X",
	}
}

func validateForInvoice(contract billing.Contract, billedParty string) error {
	if strings.TrimSpace(contract.ID) == "" {
		return &billing.ValidationError{Field: "id", Message: "empty contract id"}
	}
	if strings.TrimSpace(contract.Student.Name) == "" {
		return &billing.ValidationError{Field: "elevInfo.navn", Message: "missing student name"}
	}
	if billedParty == "" {
		return &billing.ValidationError{Field: "ansvarligInfo.fnr", Message: "no guardian or signer national id"}
	}
	return nil
}

func reviewEntry(contract billing.Contract) ReviewEntry {
	return ReviewEntry{
		ContractID:  contract.ID,
		StudentName: contract.Student.Name,
		Class:       contract.Student.Class,
		SchoolOrgNr: contract.SchoolOrgNr,
	}
}
