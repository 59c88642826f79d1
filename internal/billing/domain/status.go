package billing

import "strings"

// Status is the lifecycle state of an installment.
type Status int

const (
	StatusUnset Status = iota
	StatusNotInvoiced
	StatusInvoiced
	StatusPaid
	StatusCredited
	StatusNotPayable
	StatusLoanNotBilled
	StatusUnknown
	StatusReferredToCollections
)

// Persisted labels. Existing contract documents carry these exact strings.
const (
	labelNotInvoiced           = "Ikke Fakturert"
	labelInvoiced              = "Fakturert"
	labelPaid                  = "Betalt"
	labelCredited              = "Kreditert"
	labelNotPayable            = "Skal ikke betale"
	labelLoanNotBilled         = "Utlån faktureres ikke"
	labelUnknown               = "Ukjent"
	labelReferredToCollections = "Overført inkasso"
)

var statusLabels = map[Status]string{
	StatusNotInvoiced:           labelNotInvoiced,
	StatusInvoiced:              labelInvoiced,
	StatusPaid:                  labelPaid,
	StatusCredited:              labelCredited,
	StatusNotPayable:            labelNotPayable,
	StatusLoanNotBilled:         labelLoanNotBilled,
	StatusUnknown:               labelUnknown,
	StatusReferredToCollections: labelReferredToCollections,
}

// AllStatuses lists every defined status in declaration order.
var AllStatuses = []Status{
	StatusNotInvoiced,
	StatusInvoiced,
	StatusPaid,
	StatusCredited,
	StatusNotPayable,
	StatusLoanNotBilled,
	StatusUnknown,
	StatusReferredToCollections,
}

// String returns the persisted label.
func (s Status) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return ""
}

// Key returns a stable ascii name, used for metrics labels and summaries.
func (s Status) Key() string {
	switch s {
	case StatusNotInvoiced:
		return "not_invoiced"
	case StatusInvoiced:
		return "invoiced"
	case StatusPaid:
		return "paid"
	case StatusCredited:
		return "credited"
	case StatusNotPayable:
		return "not_payable"
	case StatusLoanNotBilled:
		return "loan_not_billed"
	case StatusUnknown:
		return "unknown"
	case StatusReferredToCollections:
		return "referred_to_collections"
	default:
		return "unset"
	}
}

// ParseStatus maps a persisted label to a Status. An empty label is a fresh
// installment and reads as NotInvoiced. Matching ignores case and surrounding space.
func ParseStatus(label string) (Status, bool) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return StatusNotInvoiced, true
	}
	for status, candidate := range statusLabels {
		if strings.EqualFold(candidate, trimmed) {
			return status, true
		}
	}
	return StatusUnset, false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusCredited, StatusNotPayable, StatusLoanNotBilled:
		return true
	}
	return false
}

// transitions is the full table of permitted moves. Anything absent is rejected.
// Unknown and ReferredToCollections only ever appear on installments that already
// carry a serial number, so they settle the same way Invoiced does.
var transitions = map[Status][]Status{
	StatusNotInvoiced:           {StatusInvoiced},
	StatusInvoiced:              {StatusPaid, StatusCredited},
	StatusUnknown:               {StatusPaid, StatusCredited},
	StatusReferredToCollections: {StatusPaid, StatusCredited},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns ErrInvalidTransition otherwise.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
