// Package deposit maintains player spendable balances: crediting on-chain
// deposits, reserving and confirming withdrawals. Deposits and withdrawal
// confirmations are idempotent by external transaction signature.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/model"
	"github.com/pumparena/round-engine/internal/store"
	"github.com/pumparena/round-engine/internal/wallet"
)

// Rejection codes for deposit/withdrawal operations.
const (
	CodeDuplicateDeposit    = "DUPLICATE_DEPOSIT"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInvalidRequest      = "INVALID_REQUEST"
)

// Error is a rejected deposit or withdrawal request.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func rejected(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Ledger tracks spendable balances backed by the store.
type Ledger struct {
	store store.Store
}

// NewLedger creates a ledger on the given store.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// CreditDeposit credits a confirmed on-chain deposit. The external
// transaction signature is the idempotency key: a replay of an already
// credited signature is rejected without touching the balance.
func (l *Ledger) CreditDeposit(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	if playerID == "" {
		return rejected(CodeInvalidRequest, "player_id is required")
	}
	if !amount.IsPositive() {
		return rejected(CodeInvalidRequest, "deposit amount must be positive")
	}
	if err := wallet.ValidateSignature(externalTxID); err != nil {
		return rejected(CodeInvalidRequest, "external_tx_id: %v", err)
	}

	if err := l.store.CreditDeposit(ctx, playerID, amount, externalTxID); err != nil {
		if errors.Is(err, store.ErrDuplicateDeposit) {
			return rejected(CodeDuplicateDeposit, "transaction %s already credited", externalTxID)
		}
		return fmt.Errorf("credit deposit: %w", err)
	}

	slog.Info("deposit credited",
		"player", playerID,
		"amount", amount.String(),
		"external_tx", externalTxID,
	)
	return nil
}

// RequestWithdrawal moves amount from spendable to pending while the
// external transfer is in flight.
func (l *Ledger) RequestWithdrawal(ctx context.Context, playerID, destination string, amount decimal.Decimal) error {
	if playerID == "" {
		return rejected(CodeInvalidRequest, "player_id is required")
	}
	if !amount.IsPositive() {
		return rejected(CodeInvalidRequest, "withdrawal amount must be positive")
	}
	if err := wallet.ValidateAddress(destination); err != nil {
		return rejected(CodeInvalidRequest, "destination: %v", err)
	}

	if err := l.store.ReserveWithdrawal(ctx, playerID, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return rejected(CodeInsufficientBalance, "spendable balance below %s", amount.String())
		}
		return fmt.Errorf("reserve withdrawal: %w", err)
	}

	slog.Info("withdrawal requested",
		"player", playerID,
		"amount", amount.String(),
		"destination", destination,
	)
	return nil
}

// ConfirmWithdrawal clears a pending withdrawal after the on-chain
// transfer confirmed. Idempotent by external transaction signature.
func (l *Ledger) ConfirmWithdrawal(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	if playerID == "" {
		return rejected(CodeInvalidRequest, "player_id is required")
	}
	if !amount.IsPositive() {
		return rejected(CodeInvalidRequest, "withdrawal amount must be positive")
	}
	if err := wallet.ValidateSignature(externalTxID); err != nil {
		return rejected(CodeInvalidRequest, "external_tx_id: %v", err)
	}

	if err := l.store.ConfirmWithdrawal(ctx, playerID, amount, externalTxID); err != nil {
		if errors.Is(err, store.ErrDuplicateDeposit) {
			return rejected(CodeDuplicateDeposit, "transaction %s already confirmed", externalTxID)
		}
		if errors.Is(err, store.ErrInsufficientBalance) {
			return rejected(CodeInsufficientBalance, "pending withdrawal below %s", amount.String())
		}
		return fmt.Errorf("confirm withdrawal: %w", err)
	}

	slog.Info("withdrawal confirmed",
		"player", playerID,
		"amount", amount.String(),
		"external_tx", externalTxID,
	)
	return nil
}

// Balance returns a player's current balance; unknown players have a zero
// balance.
func (l *Ledger) Balance(ctx context.Context, playerID string) (*model.Balance, error) {
	return l.store.GetBalance(ctx, playerID)
}
