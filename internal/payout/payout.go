// Package payout abstracts the on-chain transfer of settled house
// proceeds. The production implementation submits a Solana transfer to
// the house wallet; the Recorder keeps an in-process journal for
// development and tests.
package payout

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Executor sweeps a settled round's proceeds to the house account and
// returns a transaction reference. Implementations must be idempotent
// per round: repeated calls for the same round return the original
// reference without moving funds again.
type Executor interface {
	SweepHouse(ctx context.Context, roundID string, amount decimal.Decimal) (string, error)
}

type sweep struct {
	ref    string
	amount decimal.Decimal
}

// Recorder is an in-process Executor that journals sweeps in memory.
type Recorder struct {
	mu           sync.Mutex
	houseAccount string
	sweeps       map[string]sweep
}

// NewRecorder creates a Recorder sweeping to the given house account.
func NewRecorder(houseAccount string) *Recorder {
	return &Recorder{
		houseAccount: houseAccount,
		sweeps:       make(map[string]sweep),
	}
}

// SweepHouse records the transfer and returns a stable reference.
// Calling it twice for the same round returns the first reference.
func (r *Recorder) SweepHouse(_ context.Context, roundID string, amount decimal.Decimal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.sweeps[roundID]; ok {
		return prior.ref, nil
	}

	ref := fmt.Sprintf("sweep-%s", uuid.New().String())
	r.sweeps[roundID] = sweep{ref: ref, amount: amount}
	return ref, nil
}

// SweptAmount reports the amount recorded for a round, if any.
func (r *Recorder) SweptAmount(roundID string) (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sweeps[roundID]
	return s.amount, ok
}
