// Package store defines the persistence interface for the round engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/pumparena/round-engine/internal/model"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a round, settlement, or balance does
	// not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an atomic commit lost a race against a
	// concurrent mutation of the same round. Callers retry a bounded
	// number of times.
	ErrConflict = errors.New("store: concurrent commit conflict")

	// ErrDuplicateDeposit is returned when an external transaction id has
	// already been credited.
	ErrDuplicateDeposit = errors.New("store: duplicate external transaction id")

	// ErrInsufficientBalance is returned when a debit would push a
	// spendable balance negative.
	ErrInsufficientBalance = errors.New("store: insufficient balance")
)

// TradeApplication bundles the five mutations of one trade so the store can
// commit them atomically: the round's pool/fee fields, the appended trade
// record, the player's position, and the player's spendable balance. No
// partial application is ever visible to a concurrent trade.
type TradeApplication struct {
	// Round carries the post-trade pool state. Version holds the value
	// the caller read; the store increments it on commit and fails with
	// ErrConflict if another commit got there first.
	Round    *model.Round
	Trade    *model.Trade
	Position *model.Position
	Balance  *model.Balance
}

// SettlementApplication bundles a round's settlement math: one forfeiture
// row per player with residual tokens, the settlement row (payout ref still
// empty), and the round's forfeitedSol field. The round stays non-terminal;
// CompleteRound flips it after the external payout succeeds.
type SettlementApplication struct {
	Round       *model.Round
	Forfeitures []model.Forfeiture
	Settlement  *model.Settlement
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Round lifecycle ---

	// CreateRound persists a new round.
	CreateRound(ctx context.Context, round *model.Round) error

	// GetRound retrieves a round by its ID.
	GetRound(ctx context.Context, id string) (*model.Round, error)

	// ListRounds returns all rounds, newest first.
	ListRounds(ctx context.Context) ([]model.Round, error)

	// ApplyTrade atomically commits one trade's five mutations.
	ApplyTrade(ctx context.Context, app *TradeApplication) error

	// ApplySettlement atomically writes forfeitures, the settlement row,
	// and the round's forfeitedSol. The round remains non-terminal.
	ApplySettlement(ctx context.Context, app *SettlementApplication) error

	// CompleteRound records the external payout reference and transitions
	// the round to Completed.
	CompleteRound(ctx context.Context, roundID, payoutRef string) error

	// CancelRound transitions the round to Cancelled and writes a zeroed
	// settlement row (administrative abort: fees are returned as zero).
	CancelRound(ctx context.Context, roundID string) error

	// GetSettlement returns the settlement row for a round, if written.
	GetSettlement(ctx context.Context, roundID string) (*model.Settlement, error)

	// --- Immutable trade ledger & positions ---

	// ListTrades returns all trades for a round in commit order.
	ListTrades(ctx context.Context, roundID string) ([]model.Trade, error)

	// GetPosition returns a player's position in a round, or ErrNotFound.
	GetPosition(ctx context.Context, roundID, playerID string) (*model.Position, error)

	// ListPositions returns every position in a round.
	ListPositions(ctx context.Context, roundID string) ([]model.Position, error)

	// GetPlayerPositions returns a player's positions across rounds.
	GetPlayerPositions(ctx context.Context, playerID string) ([]model.Position, error)

	// ListForfeitures returns the forfeitures written for a round.
	ListForfeitures(ctx context.Context, roundID string) ([]model.Forfeiture, error)

	// --- Spendable balances (deposit ledger) ---

	// GetBalance returns a player's balance; a player with no history has
	// a zero balance, not ErrNotFound.
	GetBalance(ctx context.Context, playerID string) (*model.Balance, error)

	// CreditDeposit increases a spendable balance and appends an audit
	// row, keyed idempotently by externalTxID (ErrDuplicateDeposit).
	CreditDeposit(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error

	// ReserveWithdrawal moves amount from spendable to pending, failing
	// with ErrInsufficientBalance if spendable is too small.
	ReserveWithdrawal(ctx context.Context, playerID string, amount decimal.Decimal) error

	// ConfirmWithdrawal clears a pending withdrawal after the external
	// transfer confirmed, keyed idempotently by externalTxID.
	ConfirmWithdrawal(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error
}
