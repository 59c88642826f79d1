package application

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	billing "rental-billing/internal/billing/domain"
	"rental-billing/internal/billing/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type unreachableSerialStore struct{}

func (unreachableSerialStore) NextIteration(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func (unreachableSerialStore) AppendSerialNumber(context.Context, billing.SerialNumberRecord) error {
	return errors.New("connection refused")
}

var serialPattern = regexp.MustCompile(`^JOT-\d{9}-[1-3]-\d{4}-[0-9a-z]{6}$`)

func TestGenerateIsSequentialFromEmptyStore(t *testing.T) {
	store := memory.NewStore()
	clock := fixedClock{now: time.Date(2025, time.September, 3, 8, 0, 0, 0, time.UTC)}
	gen, err := NewSerialGenerator(store, "JOT", clock)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	const n = 25
	for i := 1; i <= n; i++ {
		value, err := gen.Generate(context.Background(), 2)
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if !serialPattern.MatchString(value) {
			t.Fatalf("malformed serial %q", value)
		}
		parsed, err := billing.ParseSerialNumber(value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		if parsed.Iteration != int64(i) || parsed.RateNumber != 2 || parsed.Year != 2025 {
			t.Fatalf("call %d produced %+v", i, parsed)
		}
	}

	records := store.SerialNumbers()
	if len(records) != n {
		t.Fatalf("expected %d records, got %d", n, len(records))
	}
	for i, record := range records {
		if record.IterationNumber != int64(i+1) {
			t.Fatalf("record %d has iteration %d", i, record.IterationNumber)
		}
		if record.FullValue == "" || record.System != "JOT" || !record.CreatedAt.Equal(clock.now) {
			t.Fatalf("unexpected record %+v", record)
		}
	}
}

func TestGenerateContinuesAfterExistingRecords(t *testing.T) {
	store := memory.NewStore()
	_ = store.AppendSerialNumber(context.Background(), billing.SerialNumberRecord{IterationNumber: 41})
	gen, _ := NewSerialGenerator(store, "JOT", fixedClock{now: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)})

	value, err := gen.Generate(context.Background(), 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parsed, _ := billing.ParseSerialNumber(value)
	if parsed.Iteration != 42 || parsed.Year != 2026 {
		t.Fatalf("unexpected serial %s", value)
	}
}

func TestGenerateRejectsInvalidRate(t *testing.T) {
	store := memory.NewStore()
	gen, _ := NewSerialGenerator(store, "", nil)
	for _, rate := range []int{0, 4, -1} {
		if _, err := gen.Generate(context.Background(), rate); !errors.Is(err, billing.ErrInvalidRate) {
			t.Fatalf("rate %d: expected ErrInvalidRate, got %v", rate, err)
		}
	}
	if len(store.SerialNumbers()) != 0 {
		t.Fatalf("invalid rate must not persist a record")
	}
}

func TestGenerateStoreUnreachable(t *testing.T) {
	gen, _ := NewSerialGenerator(unreachableSerialStore{}, "JOT", nil)
	_, err := gen.Generate(context.Background(), 1)
	if !errors.Is(err, billing.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestRandomSuffixesDiffer(t *testing.T) {
	gen, _ := NewSerialGenerator(memory.NewStore(), "JOT", nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		suffix, err := gen.randomSuffix()
		if err != nil {
			t.Fatalf("suffix: %v", err)
		}
		seen[suffix] = true
	}
	if len(seen) < 45 {
		t.Fatalf("suffixes look non-random: %d distinct of 50", len(seen))
	}
}
