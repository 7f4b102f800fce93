package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/model"
	"github.com/pumparena/round-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newRound(id string) *model.Round {
	return &model.Round{
		ID:              id,
		Status:          model.RoundActive,
		Duration:        5 * time.Minute,
		StartedAt:       time.Now().UTC(),
		SolReserve:      decimal.Zero,
		TokenSupply:     d("1000000"),
		CurrentPrice:    d("0.000001"),
		AccumulatedFees: decimal.Zero,
		ForfeitedSol:    decimal.Zero,
	}
}

func tradeApp(round *model.Round, playerID string) *store.TradeApplication {
	after := *round
	after.SolReserve = round.SolReserve.Add(d("0.098"))
	after.AccumulatedFees = round.AccumulatedFees.Add(d("0.002"))
	return &store.TradeApplication{
		Round: &after,
		Trade: &model.Trade{
			ID:        "trade-" + playerID,
			RoundID:   round.ID,
			PlayerID:  playerID,
			Type:      model.TradeBuy,
			SolAmount: d("0.1"),
			FeeAmount: d("0.002"),
			NetAmount: d("0.098"),
			Timestamp: time.Now().UTC(),
		},
		Position: &model.Position{
			RoundID:      round.ID,
			PlayerID:     playerID,
			TokenBalance: d("98000"),
			SolIn:        d("0.1"),
			FeesPaid:     d("0.002"),
		},
		Balance: &model.Balance{
			PlayerID:  playerID,
			Spendable: d("9.9"),
		},
	}
}

func TestApplyTrade_CommitsAllParts(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	round := newRound("r1")
	if err := ms.CreateRound(ctx, round); err != nil {
		t.Fatalf("create round: %v", err)
	}

	if err := ms.ApplyTrade(ctx, tradeApp(round, "p1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}

	got, _ := ms.GetRound(ctx, "r1")
	if !got.SolReserve.Equal(d("0.098")) {
		t.Errorf("reserve not committed: %s", got.SolReserve)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}

	trades, _ := ms.ListTrades(ctx, "r1")
	if len(trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(trades))
	}

	pos, err := ms.GetPosition(ctx, "r1", "p1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.TokenBalance.Equal(d("98000")) {
		t.Errorf("position not committed: %s", pos.TokenBalance)
	}

	balance, _ := ms.GetBalance(ctx, "p1")
	if !balance.Spendable.Equal(d("9.9")) {
		t.Errorf("balance not committed: %s", balance.Spendable)
	}
}

func TestApplyTrade_StaleVersionConflicts(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	round := newRound("r1")
	ms.CreateRound(ctx, round)

	// Both applications read version 0; only one can commit.
	app1 := tradeApp(round, "p1")
	app2 := tradeApp(round, "p2")

	if err := ms.ApplyTrade(ctx, app1); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := ms.ApplyTrade(ctx, app2); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// After reloading, the second commit goes through.
	fresh, _ := ms.GetRound(ctx, "r1")
	app2 = tradeApp(fresh, "p2")
	if err := ms.ApplyTrade(ctx, app2); err != nil {
		t.Fatalf("retry commit: %v", err)
	}
}

func TestApplyTrade_TerminalRoundConflicts(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	round := newRound("r1")
	ms.CreateRound(ctx, round)
	ms.CancelRound(ctx, "r1")

	// Version is stale after cancel and the status is terminal.
	if err := ms.ApplyTrade(ctx, tradeApp(round, "p1")); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on cancelled round, got %v", err)
	}
}

func TestCancelRound_WritesZeroedSettlement(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreateRound(ctx, newRound("r1"))
	if err := ms.CancelRound(ctx, "r1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	settlement, err := ms.GetSettlement(ctx, "r1")
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if !settlement.TotalToHouse.IsZero() || settlement.PayoutRef != "" {
		t.Errorf("expected zeroed settlement, got %+v", settlement)
	}

	if err := ms.CancelRound(ctx, "r1"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict cancelling terminal round, got %v", err)
	}
}

func TestCompleteRound_BackfillsPayoutRef(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	round := newRound("r1")
	ms.CreateRound(ctx, round)

	fresh, _ := ms.GetRound(ctx, "r1")
	app := &store.SettlementApplication{
		Round: fresh,
		Settlement: &model.Settlement{
			RoundID:         "r1",
			AccumulatedFees: d("0.002"),
			ForfeitedSol:    d("0.009604"),
			TotalToHouse:    d("0.011604"),
			SettledAt:       time.Now().UTC(),
		},
	}
	if err := ms.ApplySettlement(ctx, app); err != nil {
		t.Fatalf("apply settlement: %v", err)
	}

	// Settlement exists but the round is still active until the payout.
	got, _ := ms.GetRound(ctx, "r1")
	if got.Status != model.RoundActive {
		t.Fatalf("round should stay active pre-payout, got %s", got.Status)
	}

	if err := ms.CompleteRound(ctx, "r1", "sweep-abc"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ = ms.GetRound(ctx, "r1")
	if got.Status != model.RoundCompleted || got.SettlementTxRef != "sweep-abc" {
		t.Errorf("unexpected round after complete: %+v", got)
	}
	settlement, _ := ms.GetSettlement(ctx, "r1")
	if settlement.PayoutRef != "sweep-abc" {
		t.Errorf("settlement ref not backfilled: %q", settlement.PayoutRef)
	}
}

func TestCompleteRound_TerminalRoundConflicts(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreateRound(ctx, newRound("r1"))
	ms.CancelRound(ctx, "r1")
	if err := ms.CompleteRound(ctx, "r1", "sweep-abc"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict completing cancelled round, got %v", err)
	}
	got, _ := ms.GetRound(ctx, "r1")
	if got.Status != model.RoundCancelled || got.SettlementTxRef != "" {
		t.Errorf("cancelled round mutated: %+v", got)
	}

	ms.CreateRound(ctx, newRound("r2"))
	ms.CompleteRound(ctx, "r2", "sweep-1")
	if err := ms.CompleteRound(ctx, "r2", "sweep-2"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on repeat complete, got %v", err)
	}
}

func TestCreditDeposit_IdempotentByTxID(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreditDeposit(ctx, "p1", d("2"), "tx-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ms.CreditDeposit(ctx, "p1", d("2"), "tx-1"); !errors.Is(err, store.ErrDuplicateDeposit) {
		t.Fatalf("expected ErrDuplicateDeposit, got %v", err)
	}

	balance, _ := ms.GetBalance(ctx, "p1")
	if !balance.Spendable.Equal(d("2")) {
		t.Errorf("replay changed balance: %s", balance.Spendable)
	}
}

func TestReserveWithdrawal_Overdraw(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreditDeposit(ctx, "p1", d("1"), "tx-1")
	if err := ms.ReserveWithdrawal(ctx, "p1", d("2")); !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ms.ReserveWithdrawal(ctx, "p1", d("1")); err != nil {
		t.Fatalf("exact-balance withdrawal should succeed: %v", err)
	}

	balance, _ := ms.GetBalance(ctx, "p1")
	if !balance.Spendable.IsZero() || !balance.PendingWithdrawal.Equal(d("1")) {
		t.Errorf("unexpected balance: %+v", balance)
	}
}

func TestGetBalance_UnknownPlayerIsZero(t *testing.T) {
	ms := store.NewMemoryStore()

	balance, err := ms.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("expected no error for unknown player, got %v", err)
	}
	if !balance.Spendable.IsZero() {
		t.Errorf("expected zero spendable, got %s", balance.Spendable)
	}
}
