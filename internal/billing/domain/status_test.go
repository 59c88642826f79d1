package billing

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusNotInvoiced, StatusInvoiced}:           true,
		{StatusInvoiced, StatusPaid}:                  true,
		{StatusInvoiced, StatusCredited}:              true,
		{StatusUnknown, StatusPaid}:                   true,
		{StatusUnknown, StatusCredited}:               true,
		{StatusReferredToCollections, StatusPaid}:     true,
		{StatusReferredToCollections, StatusCredited}: true,
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from.Key(), to.Key(), got, want)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	for _, from := range AllStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range AllStatuses {
			if CanTransition(from, to) {
				t.Fatalf("terminal %s must not move to %s", from.Key(), to.Key())
			}
		}
	}
}

func TestTransitionRejectsSkippingInvoiced(t *testing.T) {
	err := Transition(StatusNotInvoiced, StatusPaid)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.From != StatusNotInvoiced || terr.To != StatusPaid {
		t.Fatalf("unexpected transition error: %#v", err)
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		label string
		want  Status
		ok    bool
	}{
		{"Ikke Fakturert", StatusNotInvoiced, true},
		{"", StatusNotInvoiced, true},
		{"fakturert", StatusInvoiced, true},
		{" Betalt ", StatusPaid, true},
		{"Kreditert", StatusCredited, true},
		{"Utlån faktureres ikke", StatusLoanNotBilled, true},
		{"Overført inkasso", StatusReferredToCollections, true},
		{"Ukjent", StatusUnknown, true},
		{"Delbetalt", StatusUnset, false},
	}
	for _, tc := range cases {
		got, ok := ParseStatus(tc.label)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseStatus(%q) = %v,%v want %v,%v", tc.label, got, ok, tc.want, tc.ok)
		}
	}
	for _, status := range AllStatuses {
		parsed, ok := ParseStatus(status.String())
		if !ok || parsed != status {
			t.Fatalf("label %q does not map back to %s", status.String(), status.Key())
		}
	}
}
