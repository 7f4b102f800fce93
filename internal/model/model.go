// Package model defines the core domain types shared across the round engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundStatus is the lifecycle state of a trading round.
type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
	RoundCancelled RoundStatus = "cancelled"
)

// Terminal reports whether no further mutation of the round is permitted.
func (s RoundStatus) Terminal() bool {
	return s == RoundCompleted || s == RoundCancelled
}

// Round is a fixed-duration trading session with its own isolated pool.
// The pool follows a constant-product curve seeded by the round's first buy.
type Round struct {
	ID              string          `json:"id" db:"id"`
	Status          RoundStatus     `json:"status" db:"status"`
	Duration        time.Duration   `json:"duration" db:"duration"`
	StartedAt       time.Time       `json:"started_at" db:"started_at"`
	SolReserve      decimal.Decimal `json:"sol_reserve" db:"sol_reserve"`
	TokenSupply     decimal.Decimal `json:"token_supply" db:"token_supply"`
	CurrentPrice    decimal.Decimal `json:"current_price" db:"current_price"`
	AccumulatedFees decimal.Decimal `json:"accumulated_fees" db:"accumulated_fees"`
	ForfeitedSol    decimal.Decimal `json:"forfeited_sol" db:"forfeited_sol"`
	SettlementTxRef string          `json:"settlement_tx_ref,omitempty" db:"settlement_tx_ref"`

	// Version increments on every committed mutation; used for optimistic
	// conflict detection in the Postgres store.
	Version int64 `json:"-" db:"version"`
}

// Deadline returns the wall-clock instant after which trades are rejected.
func (r *Round) Deadline() time.Time {
	return r.StartedAt.Add(r.Duration)
}

// Expired reports whether the trading window has closed. Expiry is
// time-based: an expired round rejects trades even before settlement runs.
func (r *Round) Expired(now time.Time) bool {
	return !now.Before(r.Deadline())
}

// TradeType distinguishes the two trade directions.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Trade is an immutable record of a trade execution. Once created these are
// never modified or deleted; positions are reconstructable from them.
//
// For buys SolAmount is the gross SOL in and NetAmount the fee-adjusted SOL
// entering the pool. For sells SolAmount is the gross SOL leaving the pool
// and NetAmount the fee-adjusted SOL paid to the player.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	RoundID      string          `json:"round_id" db:"round_id"`
	PlayerID     string          `json:"player_id" db:"player_id"`
	Type         TradeType       `json:"type" db:"type"`
	SolAmount    decimal.Decimal `json:"sol_amount" db:"sol_amount"`
	FeeAmount    decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	NetAmount    decimal.Decimal `json:"net_amount" db:"net_amount"`
	TokenAmount  decimal.Decimal `json:"token_amount" db:"token_amount"`
	PriceAtTrade decimal.Decimal `json:"price_at_trade" db:"price_at_trade"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is a player's aggregate token/SOL bookkeeping for one round.
// TokenBalance is never negative; it equals tokens bought minus tokens sold.
type Position struct {
	RoundID      string          `json:"round_id" db:"round_id"`
	PlayerID     string          `json:"player_id" db:"player_id"`
	TokenBalance decimal.Decimal `json:"token_balance" db:"token_balance"`
	SolIn        decimal.Decimal `json:"sol_in" db:"sol_in"`
	SolOut       decimal.Decimal `json:"sol_out" db:"sol_out"`
	FeesPaid     decimal.Decimal `json:"fees_paid" db:"fees_paid"`
}

// Forfeiture records the seizure of a player's residual tokens at round end.
// Written exactly once per (round, player) with tokenBalance > 0.
type Forfeiture struct {
	RoundID           string          `json:"round_id" db:"round_id"`
	PlayerID          string          `json:"player_id" db:"player_id"`
	TokensForfeited   decimal.Decimal `json:"tokens_forfeited" db:"tokens_forfeited"`
	SolValueForfeited decimal.Decimal `json:"sol_value_forfeited" db:"sol_value_forfeited"`
}

// Settlement is the final accounting for a round, written exactly once.
// PayoutRef is empty until the external house sweep succeeds.
type Settlement struct {
	RoundID         string          `json:"round_id" db:"round_id"`
	AccumulatedFees decimal.Decimal `json:"accumulated_fees" db:"accumulated_fees"`
	ForfeitedSol    decimal.Decimal `json:"forfeited_sol" db:"forfeited_sol"`
	TotalToHouse    decimal.Decimal `json:"total_to_house" db:"total_to_house"`
	PayoutRef       string          `json:"payout_ref,omitempty" db:"payout_ref"`
	SettledAt       time.Time       `json:"settled_at" db:"settled_at"`
}

// Balance is a player's engine-tracked spendable SOL, distinct from their
// on-chain wallet balance. Spendable is never negative.
type Balance struct {
	PlayerID          string          `json:"player_id" db:"player_id"`
	Spendable         decimal.Decimal `json:"spendable" db:"spendable"`
	PendingWithdrawal decimal.Decimal `json:"pending_withdrawal" db:"pending_withdrawal"`
}

// AuditKind labels entries in the deposit/withdrawal audit trail.
type AuditKind string

const (
	AuditDeposit           AuditKind = "deposit"
	AuditWithdrawalRequest AuditKind = "withdrawal_request"
	AuditWithdrawalConfirm AuditKind = "withdrawal_confirm"
)

// DepositAudit is an append-only record of a balance mutation originating
// outside the trading engine. ExternalTxID is the idempotency key for
// deposits and withdrawal confirmations.
type DepositAudit struct {
	ID           string          `json:"id" db:"id"`
	PlayerID     string          `json:"player_id" db:"player_id"`
	Kind         AuditKind       `json:"kind" db:"kind"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	ExternalTxID string          `json:"external_tx_id,omitempty" db:"external_tx_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// RoundSnapshot is the lock-free read model served to display clients.
type RoundSnapshot struct {
	ID            string          `json:"id"`
	Status        RoundStatus     `json:"status"`
	SolReserve    decimal.Decimal `json:"sol_reserve"`
	TokenSupply   decimal.Decimal `json:"token_supply"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	TimeRemaining float64         `json:"time_remaining_seconds"`
}
