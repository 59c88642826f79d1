package application

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	billing "rental-billing/internal/billing/domain"
)

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// SerialGenerator mints unique invoice references.
type SerialGenerator struct {
	store  billing.SerialNumberStore
	system string
	clock  Clock
	random io.Reader
}

// NewSerialGenerator constructs the generator.
func NewSerialGenerator(store billing.SerialNumberStore, system string, clock Clock) (*SerialGenerator, error) {
	if store == nil {
		return nil, errors.New("serial generator: nil store")
	}
	if system == "" {
		system = billing.DefaultSystem
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &SerialGenerator{store: store, system: system, clock: clock, random: rand.Reader}, nil
}

// Generate mints and records the next serial number for a rate. The record is
// stored before the value is returned.
func (g *SerialGenerator) Generate(ctx context.Context, rateNumber int) (string, error) {
	if _, err := billing.RateKeyFor(rateNumber); err != nil {
		return "", err
	}
	suffix, err := g.randomSuffix()
	if err != nil {
		return "", fmt.Errorf("serial generator: suffix: %w", err)
	}
	iteration, err := g.store.NextIteration(ctx)
	if err != nil {
		return "", asStorageError("next serial iteration", err)
	}
	now := g.clock.Now().UTC()
	value := billing.FormatSerialNumber(g.system, iteration, rateNumber, now.Year(), suffix)
	record := billing.SerialNumberRecord{
		IterationNumber: iteration,
		Year:            now.Year(),
		RateNumber:      rateNumber,
		RandomSuffix:    suffix,
		System:          g.system,
		FullValue:       value,
		CreatedAt:       now,
	}
	if err := g.store.AppendSerialNumber(ctx, record); err != nil {
		return "", asStorageError("append serial number", err)
	}
	return value, nil
}

func (g *SerialGenerator) randomSuffix() (string, error) {
	max := big.NewInt(int64(len(suffixAlphabet)))
	out := make([]byte, billing.SuffixLength)
	for i := range out {
		n, err := rand.Int(g.random, max)
		if err != nil {
			return "", err
		}
		out[i] = suffixAlphabet[n.Int64()]
	}
	return string(out), nil
}

func asStorageError(op string, err error) error {
	if errors.Is(err, billing.ErrStorage) {
		return err
	}
	return billing.NewStorageError(op, err)
}
