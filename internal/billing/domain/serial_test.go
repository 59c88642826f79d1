package billing

import (
	"errors"
	"testing"
	"time"
)

func TestFormatAndParseSerialNumber(t *testing.T) {
	value := FormatSerialNumber("JOT", 42, 2, 2025, "a1b2c3")
	if value != "JOT-000000042-2-2025-a1b2c3" {
		t.Fatalf("unexpected serial %s", value)
	}
	parsed, err := ParseSerialNumber(value)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.System != "JOT" || parsed.Iteration != 42 || parsed.RateNumber != 2 || parsed.Year != 2025 || parsed.Suffix != "a1b2c3" {
		t.Fatalf("unexpected parse result %+v", parsed)
	}
	if parsed.RateKey() != Rate2 {
		t.Fatalf("expected rate2, got %s", parsed.RateKey())
	}
}

func TestParseSerialNumberRejectsMalformed(t *testing.T) {
	for _, value := range []string{
		"",
		"JOT-000000001-2-2025",
		"JOT-abc-2-2025-a1b2c3",
		"JOT-000000001-4-2025-a1b2c3",
		"JOT-000000001-0-2025-a1b2c3",
		"JOT-000000001-1-25-a1b2c3",
		"Ukjent",
	} {
		if _, err := ParseSerialNumber(value); !errors.Is(err, ErrInvalidSerialNumber) {
			t.Fatalf("expected ErrInvalidSerialNumber for %q, got %v", value, err)
		}
	}
}

func TestHasSystemPrefix(t *testing.T) {
	if !HasSystemPrefix("JOT-000000001-1-2025-abcdef", "JOT") {
		t.Fatalf("expected prefix match")
	}
	if HasSystemPrefix("JOTN-000000001-1-2025-abcdef", "JOT") {
		t.Fatalf("JOTN must not match JOT")
	}
	if HasSystemPrefix("123456", "JOT") {
		t.Fatalf("legacy number must not match")
	}
}

func TestSchoolYearAt(t *testing.T) {
	cases := []struct {
		at   time.Time
		want int
	}{
		{time.Date(2025, time.July, 31, 12, 0, 0, 0, time.UTC), 2024},
		{time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC), 2025},
		{time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), 2025},
		{time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), 2025},
	}
	for _, tc := range cases {
		got := SchoolYearAt(tc.at, DefaultSchoolYearStart)
		if got.BillingYear() != tc.want {
			t.Fatalf("SchoolYearAt(%s) = %d, want %d", tc.at.Format(time.DateOnly), got.BillingYear(), tc.want)
		}
	}
	if got := SchoolYearAt(time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC), DefaultSchoolYearStart).String(); got != "2025-2026" {
		t.Fatalf("unexpected label %s", got)
	}
}
