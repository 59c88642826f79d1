package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RentalContractType is the contract type that is billed. Comparison ignores case.
const RentalContractType = "leieavtale"

// RateCount is the fixed number of installments per contract.
const RateCount = 3

// RateKey names an installment slot inside FakturaInfo.
type RateKey string

const (
	Rate1 RateKey = "rate1"
	Rate2 RateKey = "rate2"
	Rate3 RateKey = "rate3"
)

// RateKeys lists the slots in index order.
var RateKeys = [RateCount]RateKey{Rate1, Rate2, Rate3}

// RateKeyFor returns the slot for a 1-based rate number.
func RateKeyFor(rateNumber int) (RateKey, error) {
	if rateNumber < 1 || rateNumber > RateCount {
		return "", ErrInvalidRate
	}
	return RateKeys[rateNumber-1], nil
}

// Number returns the 1-based rate number, or 0 for an unknown key.
func (k RateKey) Number() int {
	for i, key := range RateKeys {
		if key == k {
			return i + 1
		}
	}
	return 0
}

// Installment is one billing period of a contract.
type Installment struct {
	// BillingYear is the first calendar year of the school year the rate is due in.
	// Zero means the slot is a placeholder that is never billed.
	BillingYear  int
	Status       Status
	InvoicedAt   *time.Time
	SerialNumber string
	Amount       decimal.Decimal
}

// AwaitingSettlement reports whether the installment was invoiced on or after since
// with a real serial number and has not reached a final status yet.
func (i Installment) AwaitingSettlement(since time.Time) bool {
	serial := strings.TrimSpace(i.SerialNumber)
	if serial == "" || serial == labelUnknown {
		return false
	}
	switch i.Status {
	case StatusPaid, StatusNotPayable, StatusCredited, StatusLoanNotBilled:
		return false
	}
	return i.InvoicedAt != nil && !i.InvoicedAt.Before(since)
}

// FakturaInfo holds the three installments of a contract.
type FakturaInfo struct {
	Rates [RateCount]Installment
}

// Rate returns the installment stored under key.
func (f FakturaInfo) Rate(key RateKey) (Installment, bool) {
	n := key.Number()
	if n == 0 {
		return Installment{}, false
	}
	return f.Rates[n-1], true
}

// Person is a named party on the contract.
type Person struct {
	Name       string
	NationalID string
}

// Student identifies the student the device is rented to.
type Student struct {
	Name       string
	NationalID string
	Class      string
	School     string
}

// Contract is one signed rental agreement.
type Contract struct {
	ID           string
	ContractType string
	SchoolOrgNr  string
	Student      Student
	Guardian     *Person
	SignedBy     Person
	FakturaInfo  FakturaInfo

	// CustomerImportedAt is when the billed party was registered as a ledger customer.
	CustomerImportedAt *time.Time
	// NotFoundInRegistry is set when the student registry no longer knows the student.
	NotFoundInRegistry bool
}

// IsRental reports whether the contract is billed.
func (c Contract) IsRental() bool {
	return strings.EqualFold(strings.TrimSpace(c.ContractType), RentalContractType)
}

// BilledPartyID returns the guardian's national id, falling back to the signer.
func (c Contract) BilledPartyID() string {
	if c.Guardian != nil {
		if id := strings.TrimSpace(c.Guardian.NationalID); id != "" && id != labelUnknown {
			return id
		}
	}
	if id := strings.TrimSpace(c.SignedBy.NationalID); id != labelUnknown {
		return id
	}
	return ""
}

// DueRates returns the rate keys whose installment is NotInvoiced in billingYear, in index order.
func (c Contract) DueRates(billingYear int) []RateKey {
	var due []RateKey
	for i, rate := range c.FakturaInfo.Rates {
		if rate.BillingYear == billingYear && rate.Status == StatusNotInvoiced {
			due = append(due, RateKeys[i])
		}
	}
	return due
}

// InstallmentUpdate is the set of fields a transition writes.
type InstallmentUpdate struct {
	Status       Status
	InvoicedAt   *time.Time
	SerialNumber string
	Amount       *decimal.Decimal
}

// MarkInvoiced builds the update for NotInvoiced -> Invoiced.
func MarkInvoiced(current Status, serial string, amount decimal.Decimal, at time.Time) (InstallmentUpdate, error) {
	if err := Transition(current, StatusInvoiced); err != nil {
		return InstallmentUpdate{}, err
	}
	if strings.TrimSpace(serial) == "" {
		return InstallmentUpdate{}, &ValidationError{Field: "serialNumber", Message: "empty"}
	}
	invoicedAt := at.UTC()
	return InstallmentUpdate{
		Status:       StatusInvoiced,
		InvoicedAt:   &invoicedAt,
		SerialNumber: serial,
		Amount:       &amount,
	}, nil
}

// MarkSettled builds the update for an invoiced installment reaching Paid or Credited.
func MarkSettled(current, target Status) (InstallmentUpdate, error) {
	if err := Transition(current, target); err != nil {
		return InstallmentUpdate{}, err
	}
	return InstallmentUpdate{Status: target}, nil
}
