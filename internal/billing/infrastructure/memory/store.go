package memory

import (
	"context"
	"sort"
	"sync"

	billing "rental-billing/internal/billing/domain"
)

// Store is an in-memory document store for contracts, serial numbers and settings.
type Store struct {
	mu        sync.RWMutex
	contracts map[string]billing.Contract
	order     []string
	serials   []billing.SerialNumberRecord
	counter   int64
	settings  *billing.PriceSettings
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{contracts: make(map[string]billing.Contract)}
}

// PutContract inserts or replaces a contract.
func (s *Store) PutContract(c billing.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	s.contracts[c.ID] = c
}

// Contract returns a stored contract.
func (s *Store) Contract(id string) (billing.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	return c, ok
}

// FindInvoiceCandidates mirrors the document-store filter for invoicing.
func (s *Store) FindInvoiceCandidates(ctx context.Context, q billing.InvoiceQuery) ([]billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Contract
	for _, id := range s.order {
		c := s.contracts[id]
		if !c.IsRental() || c.NotFoundInRegistry {
			continue
		}
		if q.CustomerImportedBefore != nil {
			if c.CustomerImportedAt == nil || c.CustomerImportedAt.After(*q.CustomerImportedBefore) {
				continue
			}
		}
		if !hasBillingYear(c, q.BillingYear) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, billing.ErrNotFound
	}
	return out, nil
}

// FindReconcileCandidates mirrors the document-store filter for reconciliation.
func (s *Store) FindReconcileCandidates(ctx context.Context, q billing.ReconcileQuery) ([]billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Contract
	for _, id := range s.order {
		c := s.contracts[id]
		for _, rate := range c.FakturaInfo.Rates {
			if rate.AwaitingSettlement(q.InvoicedSince) {
				out = append(out, c)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, billing.ErrNotFound
	}
	return out, nil
}

// UpdateInstallment applies update when the installment still has the expected status.
func (s *Store) UpdateInstallment(ctx context.Context, contractID string, key billing.RateKey, expected billing.Status, update billing.InstallmentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return billing.ErrNotFound
	}
	n := key.Number()
	if n == 0 {
		return billing.ErrInvalidRate
	}
	rate := &c.FakturaInfo.Rates[n-1]
	if rate.Status != expected {
		return billing.ErrStatusConflict
	}
	rate.Status = update.Status
	if update.InvoicedAt != nil {
		at := *update.InvoicedAt
		rate.InvoicedAt = &at
	}
	if update.SerialNumber != "" {
		rate.SerialNumber = update.SerialNumber
	}
	if update.Amount != nil {
		rate.Amount = *update.Amount
	}
	s.contracts[contractID] = c
	return nil
}

// NextIteration increments the serial counter, seeding it from the log on first use.
func (s *Store) NextIteration(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.serials {
		if record.IterationNumber > s.counter {
			s.counter = record.IterationNumber
		}
	}
	s.counter++
	return s.counter, nil
}

// AppendSerialNumber stores a serial number record.
func (s *Store) AppendSerialNumber(ctx context.Context, record billing.SerialNumberRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serials = append(s.serials, record)
	return nil
}

// SerialNumbers returns the stored records ordered by iteration.
func (s *Store) SerialNumbers() []billing.SerialNumberRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]billing.SerialNumberRecord(nil), s.serials...)
	sort.Slice(out, func(i, j int) bool { return out[i].IterationNumber < out[j].IterationNumber })
	return out
}

// LoadPriceSettings returns the stored settings.
func (s *Store) LoadPriceSettings(ctx context.Context) (billing.PriceSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return billing.PriceSettings{}, billing.ErrNotFound
	}
	return *s.settings, nil
}

// InitPriceSettings stores settings when none exist.
func (s *Store) InitPriceSettings(ctx context.Context, settings billing.PriceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		copy := settings
		s.settings = &copy
	}
	return nil
}

// SetPriceSettings overwrites the settings.
func (s *Store) SetPriceSettings(settings billing.PriceSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := settings
	s.settings = &copy
}

func hasBillingYear(c billing.Contract, year int) bool {
	for _, rate := range c.FakturaInfo.Rates {
		if rate.BillingYear == year {
			return true
		}
	}
	return false
}
