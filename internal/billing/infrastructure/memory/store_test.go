package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	billing "rental-billing/internal/billing/domain"
)

func TestStoreUpdateInstallmentIsConditional(t *testing.T) {
	store := NewStore()
	store.PutContract(billing.Contract{
		ID:           "c-1",
		ContractType: "Leieavtale",
		FakturaInfo: billing.FakturaInfo{Rates: [billing.RateCount]billing.Installment{
			{BillingYear: 2025, Status: billing.StatusNotInvoiced},
		}},
	})
	ctx := context.Background()
	update, err := billing.MarkInvoiced(billing.StatusNotInvoiced, "JOT-000000001-1-2025-abcdef", decimal.NewFromInt(1000), time.Date(2025, time.October, 2, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("mark invoiced: %v", err)
	}

	if err := store.UpdateInstallment(ctx, "c-1", billing.Rate1, billing.StatusNotInvoiced, update); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.UpdateInstallment(ctx, "c-1", billing.Rate1, billing.StatusNotInvoiced, update); !errors.Is(err, billing.ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	if err := store.UpdateInstallment(ctx, "missing", billing.Rate1, billing.StatusNotInvoiced, update); !errors.Is(err, billing.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	c, _ := store.Contract("c-1")
	rate := c.FakturaInfo.Rates[0]
	if rate.Status != billing.StatusInvoiced || rate.SerialNumber != "JOT-000000001-1-2025-abcdef" || !rate.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected rate %+v", rate)
	}
}

func TestStoreNextIterationPassesLog(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.AppendSerialNumber(ctx, billing.SerialNumberRecord{IterationNumber: 41}); err != nil {
		t.Fatalf("append: %v", err)
	}
	next, err := store.NextIteration(ctx)
	if err != nil || next != 42 {
		t.Fatalf("next iteration = %d, %v", next, err)
	}
}
