package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultSystem is the prefix of serial numbers minted by this service.
	DefaultSystem = "JOT"
	// SuffixLength is the length of the random tail of a serial number.
	SuffixLength = 6
	// iterationWidth is the zero-padded width of the iteration field.
	iterationWidth = 9
)

// SerialNumberRecord is the append-only entry stored for every minted serial number.
type SerialNumberRecord struct {
	IterationNumber int64
	Year            int
	RateNumber      int
	RandomSuffix    string
	System          string
	FullValue       string
	CreatedAt       time.Time
}

// FormatSerialNumber composes {system}-{iteration}-{rate}-{year}-{suffix}.
func FormatSerialNumber(system string, iteration int64, rateNumber, year int, suffix string) string {
	return fmt.Sprintf("%s-%0*d-%d-%d-%s", system, iterationWidth, iteration, rateNumber, year, suffix)
}

// SerialNumber is a parsed billing reference.
type SerialNumber struct {
	System     string
	Iteration  int64
	RateNumber int
	Year       int
	Suffix     string
}

// ParseSerialNumber splits a serial number into its fields.
func ParseSerialNumber(value string) (SerialNumber, error) {
	parts := strings.Split(strings.TrimSpace(value), "-")
	if len(parts) != 5 {
		return SerialNumber{}, fmt.Errorf("%w: %q has %d fields", ErrInvalidSerialNumber, value, len(parts))
	}
	iteration, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return SerialNumber{}, fmt.Errorf("%w: iteration %q", ErrInvalidSerialNumber, parts[1])
	}
	rateNumber, err := strconv.Atoi(parts[2])
	if err != nil || rateNumber < 1 || rateNumber > RateCount {
		return SerialNumber{}, fmt.Errorf("%w: rate %q", ErrInvalidSerialNumber, parts[2])
	}
	year, err := strconv.Atoi(parts[3])
	if err != nil || len(parts[3]) != 4 {
		return SerialNumber{}, fmt.Errorf("%w: year %q", ErrInvalidSerialNumber, parts[3])
	}
	return SerialNumber{
		System:     parts[0],
		Iteration:  iteration,
		RateNumber: rateNumber,
		Year:       year,
		Suffix:     parts[4],
	}, nil
}

// RateKey returns the installment slot encoded in the serial number.
func (s SerialNumber) RateKey() RateKey {
	key, _ := RateKeyFor(s.RateNumber)
	return key
}

// HasSystemPrefix reports whether value was minted by system.
func HasSystemPrefix(value, system string) bool {
	return strings.HasPrefix(value, system+"-")
}
