package billing

import (
	"fmt"
	"time"
)

// DefaultSchoolYearStart is the month a new school year begins.
const DefaultSchoolYearStart = time.August

// SchoolYear is an academic year running from its start month to the month before it.
type SchoolYear struct {
	StartYear int
}

// SchoolYearAt returns the school year containing t.
func SchoolYearAt(t time.Time, startMonth time.Month) SchoolYear {
	if startMonth < time.January || startMonth > time.December {
		startMonth = DefaultSchoolYearStart
	}
	if t.Month() < startMonth {
		return SchoolYear{StartYear: t.Year() - 1}
	}
	return SchoolYear{StartYear: t.Year()}
}

// BillingYear is the key stored on installments due in this school year.
func (y SchoolYear) BillingYear() int { return y.StartYear }

func (y SchoolYear) String() string {
	return fmt.Sprintf("%d-%d", y.StartYear, y.StartYear+1)
}
