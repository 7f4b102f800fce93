package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/metrics"
	"github.com/pumparena/round-engine/internal/model"
	"github.com/pumparena/round-engine/internal/store"
)

// EndRound settles a round: every open position is forfeited, the house
// take (fees plus forfeited value) is swept externally, and the round
// transitions to Completed. Safe to call repeatedly — a terminal round
// returns its existing settlement, and a crash between the settlement
// write and the payout resumes at the payout on the next call.
func (s *Service) EndRound(ctx context.Context, roundID string) (*model.Settlement, error) {
	lock := s.roundLock(roundID)
	lock.Lock()
	defer lock.Unlock()

	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rejected(CodeRoundNotFound, "round %s not found", roundID)
		}
		return nil, fmt.Errorf("load round: %w", err)
	}

	if round.Status.Terminal() {
		settlement, err := s.store.GetSettlement(ctx, roundID)
		if err != nil {
			return nil, fmt.Errorf("load settlement for %s round: %w", round.Status, err)
		}
		return settlement, nil
	}

	// A settlement row with the round still active means a prior attempt
	// crashed after the settlement write; skip straight to the payout.
	settlement, err := s.store.GetSettlement(ctx, roundID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load settlement: %w", err)
	}

	if settlement == nil {
		settlement, err = s.applySettlement(ctx, round)
		if err != nil {
			return nil, err
		}
	}

	ref, err := s.payout.SweepHouse(ctx, roundID, settlement.TotalToHouse)
	if err != nil {
		return nil, &CollaboratorError{Op: "house sweep", Err: err}
	}

	if err := s.store.CompleteRound(ctx, roundID, ref); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another instance completed it; the settlement stands.
			return s.store.GetSettlement(ctx, roundID)
		}
		return nil, fmt.Errorf("complete round: %w", err)
	}
	settlement.PayoutRef = ref

	metrics.ActiveRounds.Dec()
	metrics.RoundsSettled.WithLabelValues(string(model.RoundCompleted)).Inc()
	houseSol, _ := settlement.TotalToHouse.Float64()
	metrics.HouseSweepSol.Add(houseSol)

	slog.Info("round settled",
		"round_id", roundID,
		"fees", settlement.AccumulatedFees.String(),
		"forfeited", settlement.ForfeitedSol.String(),
		"to_house", settlement.TotalToHouse.String(),
		"payout_ref", ref,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "round_settled",
			RoundID:      roundID,
			TotalToHouse: settlement.TotalToHouse.String(),
		})
	}
	return settlement, nil
}

// applySettlement values every open position against the final pool state
// and writes the forfeitures and settlement row atomically. Each position
// is valued independently against the same pool; forfeitures are not
// chained through the curve.
func (s *Service) applySettlement(ctx context.Context, round *model.Round) (*model.Settlement, error) {
	positions, err := s.store.ListPositions(ctx, round.ID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	forfeitedSol := decimal.Zero
	var forfeitures []model.Forfeiture
	for _, p := range positions {
		if !p.TokenBalance.IsPositive() {
			continue
		}
		value := s.amm.ForfeitValue(round.SolReserve, round.TokenSupply, p.TokenBalance)
		forfeitures = append(forfeitures, model.Forfeiture{
			RoundID:           round.ID,
			PlayerID:          p.PlayerID,
			TokensForfeited:   p.TokenBalance,
			SolValueForfeited: value,
		})
		forfeitedSol = forfeitedSol.Add(value)
	}

	round.ForfeitedSol = forfeitedSol
	settlement := &model.Settlement{
		RoundID:         round.ID,
		AccumulatedFees: round.AccumulatedFees,
		ForfeitedSol:    forfeitedSol,
		TotalToHouse:    round.AccumulatedFees.Add(forfeitedSol),
		SettledAt:       time.Now().UTC(),
	}

	app := &store.SettlementApplication{
		Round:       round,
		Forfeitures: forfeitures,
		Settlement:  settlement,
	}
	if err := s.store.ApplySettlement(ctx, app); err != nil {
		return nil, fmt.Errorf("apply settlement: %w", err)
	}
	return settlement, nil
}

// CancelRound administratively aborts an active round. Open positions are
// simply voided: no forfeiture valuation runs and nothing is swept.
// Idempotent for already-cancelled rounds.
func (s *Service) CancelRound(ctx context.Context, roundID string) error {
	lock := s.roundLock(roundID)
	lock.Lock()
	defer lock.Unlock()

	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rejected(CodeRoundNotFound, "round %s not found", roundID)
		}
		return fmt.Errorf("load round: %w", err)
	}

	if round.Status == model.RoundCancelled {
		return nil
	}
	if round.Status == model.RoundCompleted {
		return rejected(CodeRoundNotActive, "round %s already completed", roundID)
	}

	if err := s.store.CancelRound(ctx, roundID); err != nil {
		return fmt.Errorf("cancel round: %w", err)
	}

	metrics.ActiveRounds.Dec()
	metrics.RoundsSettled.WithLabelValues(string(model.RoundCancelled)).Inc()
	slog.Warn("round cancelled", "round_id", roundID)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "round_cancelled", RoundID: roundID})
	}
	return nil
}
