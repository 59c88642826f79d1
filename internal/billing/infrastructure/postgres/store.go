package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	billing "rental-billing/internal/billing/domain"
)

const serialCounterName = "serial_number_iteration"

// compile-time interface checks
var (
	_ billing.ContractRepository = (*Store)(nil)
	_ billing.SerialNumberStore  = (*Store)(nil)
	_ billing.SettingsRepository = (*Store)(nil)
)

// Store is a Postgres implementation of the billing repositories.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store on an open pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const contractColumns = `
SELECT c.id, c.contract_type, c.school_org_nr,
       c.student_name, c.student_national_id, c.student_class, c.student_school,
       c.guardian_name, c.guardian_national_id, c.signed_by_name, c.signed_by_national_id,
       c.customer_imported_at, c.not_found_in_registry,
       i.rate_key, i.billing_year, i.status, i.invoiced_at, i.serial_number, i.amount
FROM billing_contracts c
LEFT JOIN billing_installments i ON i.contract_id = c.id`

func (s *Store) FindInvoiceCandidates(ctx context.Context, q billing.InvoiceQuery) ([]billing.Contract, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	var importedBefore sql.NullTime
	if q.CustomerImportedBefore != nil {
		importedBefore = sql.NullTime{Time: q.CustomerImportedBefore.UTC(), Valid: true}
	}
	query := contractColumns + `
WHERE c.id IN (
    SELECT c2.id FROM billing_contracts c2
    WHERE lower(trim(c2.contract_type)) = $1
      AND NOT c2.not_found_in_registry
      AND ($3::timestamptz IS NULL OR c2.customer_imported_at <= $3::timestamptz)
      AND EXISTS (SELECT 1 FROM billing_installments i2 WHERE i2.contract_id = c2.id AND i2.billing_year = $2)
)
ORDER BY c.id, i.rate_key`

	contracts, err := s.queryContracts(ctx, query, billing.RentalContractType, q.BillingYear, importedBefore)
	if err != nil {
		return nil, billing.NewStorageError("find invoice candidates", err)
	}
	if len(contracts) == 0 {
		return nil, billing.ErrNotFound
	}
	return contracts, nil
}

func (s *Store) FindReconcileCandidates(ctx context.Context, q billing.ReconcileQuery) ([]billing.Contract, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	query := contractColumns + `
WHERE c.id IN (
    SELECT i2.contract_id FROM billing_installments i2
    WHERE i2.invoiced_at >= $1
      AND i2.serial_number NOT IN ('', 'Ukjent')
      AND i2.status NOT IN ($2, $3, $4, $5)
)
ORDER BY c.id, i.rate_key`

	since := q.InvoicedSince.UTC()
	found, err := s.queryContracts(ctx, query, since,
		billing.StatusPaid.String(),
		billing.StatusNotPayable.String(),
		billing.StatusCredited.String(),
		billing.StatusLoanNotBilled.String(),
	)
	if err != nil {
		return nil, billing.NewStorageError("find reconcile candidates", err)
	}
	var contracts []billing.Contract
	for _, c := range found {
		for _, rate := range c.FakturaInfo.Rates {
			if rate.AwaitingSettlement(since) {
				contracts = append(contracts, c)
				break
			}
		}
	}
	if len(contracts) == 0 {
		return nil, billing.ErrNotFound
	}
	return contracts, nil
}

func (s *Store) queryContracts(ctx context.Context, query string, args ...any) ([]billing.Contract, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []billing.Contract
	index := make(map[string]int)
	for rows.Next() {
		var (
			c                  billing.Contract
			guardianName       sql.NullString
			guardianID         sql.NullString
			customerImportedAt sql.NullTime
			rateKey            sql.NullString
			billingYear        sql.NullInt64
			status             sql.NullString
			invoicedAt         sql.NullTime
			serialNumber       sql.NullString
			amount             decimal.NullDecimal
		)
		if err := rows.Scan(
			&c.ID, &c.ContractType, &c.SchoolOrgNr,
			&c.Student.Name, &c.Student.NationalID, &c.Student.Class, &c.Student.School,
			&guardianName, &guardianID, &c.SignedBy.Name, &c.SignedBy.NationalID,
			&customerImportedAt, &c.NotFoundInRegistry,
			&rateKey, &billingYear, &status, &invoicedAt, &serialNumber, &amount,
		); err != nil {
			return nil, err
		}

		pos, seen := index[c.ID]
		if !seen {
			if guardianID.Valid {
				c.Guardian = &billing.Person{Name: guardianName.String, NationalID: guardianID.String}
			}
			if customerImportedAt.Valid {
				at := customerImportedAt.Time.UTC()
				c.CustomerImportedAt = &at
			}
			contracts = append(contracts, c)
			pos = len(contracts) - 1
			index[c.ID] = pos
		}
		if !rateKey.Valid {
			continue
		}
		n := billing.RateKey(rateKey.String).Number()
		if n == 0 {
			continue
		}
		parsed, ok := billing.ParseStatus(status.String)
		if !ok {
			parsed = billing.StatusUnset
		}
		inst := billing.Installment{
			BillingYear:  int(billingYear.Int64),
			Status:       parsed,
			SerialNumber: serialNumber.String,
		}
		if invoicedAt.Valid {
			at := invoicedAt.Time.UTC()
			inst.InvoicedAt = &at
		}
		if amount.Valid {
			inst.Amount = amount.Decimal
		}
		contracts[pos].FakturaInfo.Rates[n-1] = inst
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contracts, nil
}

// UpdateInstallment is a conditional update on the stored status.
func (s *Store) UpdateInstallment(ctx context.Context, contractID string, key billing.RateKey, expected billing.Status, update billing.InstallmentUpdate) error {
	if s == nil || s.db == nil {
		return errors.New("billing store: nil db")
	}
	if key.Number() == 0 {
		return billing.ErrInvalidRate
	}
	var invoicedAt sql.NullTime
	if update.InvoicedAt != nil {
		invoicedAt = sql.NullTime{Time: update.InvoicedAt.UTC(), Valid: true}
	}
	var amount decimal.NullDecimal
	if update.Amount != nil {
		amount = decimal.NewNullDecimal(*update.Amount)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE billing_installments
SET status = $1,
    invoiced_at = COALESCE($2::timestamptz, invoiced_at),
    serial_number = COALESCE(NULLIF($3, ''), serial_number),
    amount = COALESCE($4::numeric, amount)
WHERE contract_id = $5 AND rate_key = $6 AND status = $7`,
		update.Status.String(), invoicedAt, update.SerialNumber, amount,
		contractID, string(key), expected.String(),
	)
	if err != nil {
		return billing.NewStorageError("update installment", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return billing.NewStorageError("update installment", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_installments WHERE contract_id = $1 AND rate_key = $2)`,
		contractID, string(key),
	).Scan(&exists)
	if err != nil {
		return billing.NewStorageError("update installment", err)
	}
	if !exists {
		return billing.ErrNotFound
	}
	return billing.ErrStatusConflict
}

// SaveContract upserts a contract with its installments.
func (s *Store) SaveContract(ctx context.Context, c billing.Contract) error {
	if s == nil || s.db == nil {
		return errors.New("billing store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.NewStorageError("save contract", err)
	}
	defer func() { _ = tx.Rollback() }()

	var guardianName, guardianID sql.NullString
	if c.Guardian != nil {
		guardianName = sql.NullString{String: c.Guardian.Name, Valid: true}
		guardianID = sql.NullString{String: c.Guardian.NationalID, Valid: true}
	}
	var importedAt sql.NullTime
	if c.CustomerImportedAt != nil {
		importedAt = sql.NullTime{Time: c.CustomerImportedAt.UTC(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO billing_contracts (
    id, contract_type, school_org_nr, student_name, student_national_id, student_class, student_school,
    guardian_name, guardian_national_id, signed_by_name, signed_by_national_id, customer_imported_at, not_found_in_registry
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
    contract_type = EXCLUDED.contract_type,
    school_org_nr = EXCLUDED.school_org_nr,
    student_name = EXCLUDED.student_name,
    student_national_id = EXCLUDED.student_national_id,
    student_class = EXCLUDED.student_class,
    student_school = EXCLUDED.student_school,
    guardian_name = EXCLUDED.guardian_name,
    guardian_national_id = EXCLUDED.guardian_national_id,
    signed_by_name = EXCLUDED.signed_by_name,
    signed_by_national_id = EXCLUDED.signed_by_national_id,
    customer_imported_at = EXCLUDED.customer_imported_at,
    not_found_in_registry = EXCLUDED.not_found_in_registry`,
		c.ID, c.ContractType, c.SchoolOrgNr, c.Student.Name, c.Student.NationalID, c.Student.Class, c.Student.School,
		guardianName, guardianID, c.SignedBy.Name, c.SignedBy.NationalID, importedAt, c.NotFoundInRegistry,
	)
	if err != nil {
		return billing.NewStorageError("save contract", err)
	}

	for i, rate := range c.FakturaInfo.Rates {
		var invoicedAt sql.NullTime
		if rate.InvoicedAt != nil {
			invoicedAt = sql.NullTime{Time: rate.InvoicedAt.UTC(), Valid: true}
		}
		status := rate.Status
		if status == billing.StatusUnset {
			status = billing.StatusNotInvoiced
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO billing_installments (contract_id, rate_key, billing_year, status, invoiced_at, serial_number, amount)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (contract_id, rate_key) DO UPDATE SET
    billing_year = EXCLUDED.billing_year,
    status = EXCLUDED.status,
    invoiced_at = EXCLUDED.invoiced_at,
    serial_number = EXCLUDED.serial_number,
    amount = EXCLUDED.amount`,
			c.ID, string(billing.RateKeys[i]), rate.BillingYear, status.String(), invoicedAt, rate.SerialNumber, rate.Amount,
		)
		if err != nil {
			return billing.NewStorageError("save installment", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return billing.NewStorageError("save contract", err)
	}
	return nil
}

// NextIteration bumps the counter in one statement. The counter never falls
// below the highest iteration in the serial number log.
func (s *Store) NextIteration(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("billing store: nil db")
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO billing_counters (name, seq)
VALUES ($1, (SELECT COALESCE(MAX(iteration_number), 0) FROM billing_serial_numbers) + 1)
ON CONFLICT (name) DO UPDATE SET
    seq = GREATEST(billing_counters.seq, (SELECT COALESCE(MAX(iteration_number), 0) FROM billing_serial_numbers)) + 1
RETURNING seq`, serialCounterName).Scan(&seq)
	if err != nil {
		return 0, billing.NewStorageError("next serial iteration", err)
	}
	return seq, nil
}

func (s *Store) AppendSerialNumber(ctx context.Context, record billing.SerialNumberRecord) error {
	if s == nil || s.db == nil {
		return errors.New("billing store: nil db")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO billing_serial_numbers (iteration_number, current_year, rate_number, random_suffix, system, serial_number, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.IterationNumber, record.Year, record.RateNumber, record.RandomSuffix, record.System, record.FullValue, createdAt.UTC(),
	)
	if err != nil {
		return billing.NewStorageError("append serial number", err)
	}
	return nil
}

type exceptionRow struct {
	NationalID string `json:"fnr,omitempty"`
	Name       string `json:"navn,omitempty"`
	ClassName  string `json:"className,omitempty"`
}

func (s *Store) LoadPriceSettings(ctx context.Context) (billing.PriceSettings, error) {
	if s == nil || s.db == nil {
		return billing.PriceSettings{}, errors.New("billing store: nil db")
	}
	var (
		settings                   billing.PriceSettings
		students, classes, flowRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
SELECT regular_price, reduced_price, student_exceptions, class_exceptions, invoice_flow_exceptions
FROM billing_price_settings WHERE id = 1`,
	).Scan(&settings.RegularPrice, &settings.ReducedPrice, &students, &classes, &flowRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return billing.PriceSettings{}, billing.ErrNotFound
		}
		return billing.PriceSettings{}, billing.NewStorageError("load price settings", err)
	}

	var studentRows, classRows, flowRows []exceptionRow
	for _, part := range []struct {
		raw []byte
		out *[]exceptionRow
	}{{students, &studentRows}, {classes, &classRows}, {flowRaw, &flowRows}} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.out); err != nil {
			return billing.PriceSettings{}, billing.NewStorageError("decode price settings", err)
		}
	}
	for _, r := range studentRows {
		settings.StudentExceptions = append(settings.StudentExceptions, billing.StudentException{NationalID: r.NationalID, Name: r.Name})
	}
	for _, r := range classRows {
		settings.ClassExceptions = append(settings.ClassExceptions, billing.ClassException{ClassName: r.ClassName})
	}
	for _, r := range flowRows {
		settings.InvoiceFlowExceptions = append(settings.InvoiceFlowExceptions, billing.StudentException{NationalID: r.NationalID, Name: r.Name})
	}
	return settings, nil
}

// InitPriceSettings inserts the settings row unless it exists.
func (s *Store) InitPriceSettings(ctx context.Context, settings billing.PriceSettings) error {
	if s == nil || s.db == nil {
		return errors.New("billing store: nil db")
	}
	students := make([]exceptionRow, 0, len(settings.StudentExceptions))
	for _, e := range settings.StudentExceptions {
		students = append(students, exceptionRow{NationalID: e.NationalID, Name: e.Name})
	}
	classes := make([]exceptionRow, 0, len(settings.ClassExceptions))
	for _, e := range settings.ClassExceptions {
		classes = append(classes, exceptionRow{ClassName: e.ClassName})
	}
	flow := make([]exceptionRow, 0, len(settings.InvoiceFlowExceptions))
	for _, e := range settings.InvoiceFlowExceptions {
		flow = append(flow, exceptionRow{NationalID: e.NationalID, Name: e.Name})
	}
	studentsJSON, _ := json.Marshal(students)
	classesJSON, _ := json.Marshal(classes)
	flowJSON, _ := json.Marshal(flow)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO billing_price_settings (id, regular_price, reduced_price, student_exceptions, class_exceptions, invoice_flow_exceptions)
VALUES (1, $1, $2, $3::jsonb, $4::jsonb, $5::jsonb)
ON CONFLICT (id) DO NOTHING`,
		settings.RegularPrice, settings.ReducedPrice, string(studentsJSON), string(classesJSON), string(flowJSON),
	)
	if err != nil {
		return billing.NewStorageError("init price settings", err)
	}
	return nil
}
