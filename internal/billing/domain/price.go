package billing

import "github.com/shopspring/decimal"

// StudentException identifies a student by national id.
type StudentException struct {
	NationalID string
	Name       string
}

// ClassException identifies a class by name.
type ClassException struct {
	ClassName string
}

// PriceSettings is the configured price list, read once per run.
type PriceSettings struct {
	RegularPrice          decimal.Decimal
	ReducedPrice          decimal.Decimal
	StudentExceptions     []StudentException
	ClassExceptions       []ClassException
	InvoiceFlowExceptions []StudentException
}

// ResolvePrice returns the unit price for a student. A student exception wins over a
// class exception; with neither the regular price applies. Only exact matches count.
func ResolvePrice(studentID, studentClass string, settings PriceSettings) decimal.Decimal {
	if studentID != "" {
		for _, exception := range settings.StudentExceptions {
			if exception.NationalID == studentID {
				return settings.ReducedPrice
			}
		}
	}
	if studentClass != "" {
		for _, exception := range settings.ClassExceptions {
			if exception.ClassName == studentClass {
				return settings.ReducedPrice
			}
		}
	}
	return settings.RegularPrice
}

// HasInvoiceFlowException reports whether the student is handled manually this run.
func HasInvoiceFlowException(studentID string, settings PriceSettings) bool {
	if studentID == "" {
		return false
	}
	for _, exception := range settings.InvoiceFlowExceptions {
		if exception.NationalID == studentID {
			return true
		}
	}
	return false
}
