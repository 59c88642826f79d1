package billing

import (
	"context"
	"time"
)

// Collection is the fixed set of document collections the store serves.
type Collection string

const (
	CollectionContracts     Collection = "regular"
	CollectionMockContracts Collection = "mock"
	CollectionSerialNumbers Collection = "serialnumbers"
	CollectionCounters      Collection = "counters"
	CollectionSettings      Collection = "settings"
)

// Collections lists every valid collection tag.
var Collections = []Collection{
	CollectionContracts,
	CollectionMockContracts,
	CollectionSerialNumbers,
	CollectionCounters,
	CollectionSettings,
}

// Valid reports whether c is one of the enumerated collections.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if known == c {
			return true
		}
	}
	return false
}

// InvoiceQuery selects rental contracts that have an installment in BillingYear.
type InvoiceQuery struct {
	BillingYear int
	// CustomerImportedBefore, when set, requires the billed party to have been
	// registered in the ledger no later than this instant.
	CustomerImportedBefore *time.Time
}

// ReconcileQuery selects contracts with an installment invoiced on or after InvoicedSince.
type ReconcileQuery struct {
	InvoicedSince time.Time
}

// ContractRepository is the document store view of contracts.
// Find methods return ErrNotFound when nothing matches.
type ContractRepository interface {
	FindInvoiceCandidates(ctx context.Context, q InvoiceQuery) ([]Contract, error)
	FindReconcileCandidates(ctx context.Context, q ReconcileQuery) ([]Contract, error)
	// UpdateInstallment applies update only while the installment is still in expected.
	// It returns ErrStatusConflict when the stored status differs and ErrNotFound when
	// the contract does not exist.
	UpdateInstallment(ctx context.Context, contractID string, key RateKey, expected Status, update InstallmentUpdate) error
}

// SerialNumberStore hands out iteration numbers and keeps the serial number log.
type SerialNumberStore interface {
	// NextIteration atomically increments and returns the serial counter.
	NextIteration(ctx context.Context) (int64, error)
	AppendSerialNumber(ctx context.Context, record SerialNumberRecord) error
}

// SettingsRepository loads the price settings singleton.
type SettingsRepository interface {
	// LoadPriceSettings returns ErrNotFound when no settings document exists.
	LoadPriceSettings(ctx context.Context) (PriceSettings, error)
	InitPriceSettings(ctx context.Context, settings PriceSettings) error
}
