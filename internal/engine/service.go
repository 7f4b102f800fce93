// Package engine implements the round lifecycle: creation, serialized
// trade execution against the constant-product pool, expiry watching, and
// two-phase settlement with house payout.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/curve"
	"github.com/pumparena/round-engine/internal/metrics"
	"github.com/pumparena/round-engine/internal/model"
	"github.com/pumparena/round-engine/internal/payout"
	"github.com/pumparena/round-engine/internal/store"
)

// commitRetries bounds how many times a trade re-reads and re-prices after
// losing the store's optimistic commit race.
const commitRetries = 3

// Service orchestrates rounds. Trade execution is serialized per round via
// a mutex map; cross-round trades run concurrently. The store's version
// check backs this up for multi-instance deployments.
type Service struct {
	store         store.Store
	amm           *curve.AMM
	validator     *TradeValidator
	payout        payout.Executor
	wsHub         *WSHub // optional WebSocket hub for real-time broadcasts
	initialSupply decimal.Decimal
	roundDuration time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a round service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, amm *curve.AMM, v *TradeValidator, exec payout.Executor, hub *WSHub, initialSupply decimal.Decimal, roundDuration time.Duration) *Service {
	return &Service{
		store:         st,
		amm:           amm,
		validator:     v,
		payout:        exec,
		wsHub:         hub,
		initialSupply: initialSupply,
		roundDuration: roundDuration,
		locks:         make(map[string]*sync.Mutex),
	}
}

// roundLock returns the mutex serializing mutations of one round.
func (s *Service) roundLock(roundID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[roundID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[roundID] = l
	}
	return l
}

// CreateRound opens a new round with an empty pool and the full token
// supply. A non-positive duration selects the configured default.
func (s *Service) CreateRound(ctx context.Context, duration time.Duration) (*model.Round, error) {
	if duration <= 0 {
		duration = s.roundDuration
	}

	round := &model.Round{
		ID:              uuid.New().String(),
		Status:          model.RoundActive,
		Duration:        duration,
		StartedAt:       time.Now().UTC(),
		SolReserve:      decimal.Zero,
		TokenSupply:     s.initialSupply,
		CurrentPrice:    s.amm.BasePrice(),
		AccumulatedFees: decimal.Zero,
		ForfeitedSol:    decimal.Zero,
	}

	if err := s.store.CreateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}

	metrics.ActiveRounds.Inc()
	slog.Info("round created",
		"round_id", round.ID,
		"duration", duration.String(),
		"initial_supply", s.initialSupply.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "round_created",
			RoundID:     round.ID,
			Price:       round.CurrentPrice.String(),
			TokenSupply: round.TokenSupply.String(),
		})
	}
	return round, nil
}

// TradeCommand is a validated-at-the-boundary trade request.
type TradeCommand struct {
	RoundID   string
	PlayerID  string
	Type      model.TradeType
	SolAmount decimal.Decimal
}

// TradeResult is the outcome of an executed trade.
type TradeResult struct {
	Trade    *model.Trade
	Position *model.Position
	Round    *model.Round
}

// ExecuteTrade validates, prices, and atomically commits one trade. The
// deadline is rechecked inside the round lock so a trade that queued
// behind a slow one cannot slip past expiry. A lost commit race reloads
// state and re-prices, up to commitRetries attempts.
func (s *Service) ExecuteTrade(ctx context.Context, cmd TradeCommand) (*TradeResult, error) {
	start := time.Now()

	lock := s.roundLock(cmd.RoundID)
	lock.Lock()
	defer lock.Unlock()

	var result *TradeResult
	for attempt := 0; ; attempt++ {
		res, err := s.tryTrade(ctx, cmd)
		if err == nil {
			result = res
			break
		}
		if errors.Is(err, store.ErrConflict) && attempt < commitRetries {
			metrics.TradeConflicts.Inc()
			continue
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrTryAgain
		}
		var ve *ValidationError
		if errors.As(err, &ve) {
			metrics.TradeRejections.WithLabelValues(ve.Code).Inc()
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(cmd.Type)).Inc()
	metrics.TradeLatency.WithLabelValues(string(cmd.Type)).Observe(time.Since(start).Seconds())

	t := result.Trade
	slog.Info("trade executed",
		"trade_id", t.ID,
		"round_id", t.RoundID,
		"player", t.PlayerID,
		"type", t.Type,
		"sol", t.SolAmount.String(),
		"fee", t.FeeAmount.String(),
		"tokens", t.TokenAmount.String(),
		"price", t.PriceAtTrade.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "trade_executed",
			RoundID:     t.RoundID,
			TradeType:   string(t.Type),
			SolAmount:   t.SolAmount.String(),
			TokenAmount: t.TokenAmount.String(),
			Price:       result.Round.CurrentPrice.String(),
			SolReserve:  result.Round.SolReserve.String(),
			TokenSupply: result.Round.TokenSupply.String(),
		})
	}
	return result, nil
}

// tryTrade performs one load-validate-price-commit attempt.
func (s *Service) tryTrade(ctx context.Context, cmd TradeCommand) (*TradeResult, error) {
	round, err := s.store.GetRound(ctx, cmd.RoundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rejected(CodeRoundNotFound, "round %s not found", cmd.RoundID)
		}
		return nil, fmt.Errorf("load round: %w", err)
	}

	position, err := s.store.GetPosition(ctx, cmd.RoundID, cmd.PlayerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if position == nil {
		position = &model.Position{
			RoundID:      cmd.RoundID,
			PlayerID:     cmd.PlayerID,
			TokenBalance: decimal.Zero,
			SolIn:        decimal.Zero,
			SolOut:       decimal.Zero,
			FeesPaid:     decimal.Zero,
		}
	}

	balance, err := s.store.GetBalance(ctx, cmd.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}

	now := time.Now().UTC()
	oldK := round.SolReserve.Mul(round.TokenSupply)

	var trade *model.Trade
	switch cmd.Type {
	case model.TradeBuy:
		if err := s.validator.ValidateBuy(round, now, cmd.SolAmount, balance.Spendable); err != nil {
			return nil, err
		}
		quote, err := s.amm.Buy(round.SolReserve, round.TokenSupply, cmd.SolAmount)
		if err != nil {
			return nil, rejected(CodeInvalidRequest, "buy rejected: %v", err)
		}

		round.SolReserve = quote.NewReserve
		round.TokenSupply = quote.NewSupply
		round.CurrentPrice = quote.NewPrice
		round.AccumulatedFees = round.AccumulatedFees.Add(quote.Fee)

		position.TokenBalance = position.TokenBalance.Add(quote.TokensOut)
		position.SolIn = position.SolIn.Add(cmd.SolAmount)
		position.FeesPaid = position.FeesPaid.Add(quote.Fee)

		balance.Spendable = balance.Spendable.Sub(cmd.SolAmount)

		trade = &model.Trade{
			ID:           uuid.New().String(),
			RoundID:      cmd.RoundID,
			PlayerID:     cmd.PlayerID,
			Type:         model.TradeBuy,
			SolAmount:    cmd.SolAmount,
			FeeAmount:    quote.Fee,
			NetAmount:    quote.NetSolIn,
			TokenAmount:  quote.TokensOut,
			PriceAtTrade: quote.NewPrice,
			Timestamp:    now,
		}

	case model.TradeSell:
		tokensToSell, err := s.validator.ValidateSell(round, now, cmd.SolAmount, position)
		if err != nil {
			return nil, err
		}
		quote, err := s.amm.Sell(round.SolReserve, round.TokenSupply, tokensToSell)
		if err != nil {
			return nil, rejected(CodeInvalidRequest, "sell rejected: %v", err)
		}

		round.SolReserve = quote.NewReserve
		round.TokenSupply = quote.NewSupply
		round.CurrentPrice = quote.NewPrice
		round.AccumulatedFees = round.AccumulatedFees.Add(quote.Fee)

		position.TokenBalance = position.TokenBalance.Sub(quote.TokensIn)
		position.SolOut = position.SolOut.Add(quote.NetSolOut)
		position.FeesPaid = position.FeesPaid.Add(quote.Fee)

		balance.Spendable = balance.Spendable.Add(quote.NetSolOut)

		trade = &model.Trade{
			ID:           uuid.New().String(),
			RoundID:      cmd.RoundID,
			PlayerID:     cmd.PlayerID,
			Type:         model.TradeSell,
			SolAmount:    quote.GrossSolOut,
			FeeAmount:    quote.Fee,
			NetAmount:    quote.NetSolOut,
			TokenAmount:  quote.TokensIn,
			PriceAtTrade: quote.NewPrice,
			Timestamp:    now,
		}

	default:
		return nil, rejected(CodeInvalidRequest, "unknown trade type %q", cmd.Type)
	}

	// The seed buy establishes k; every later trade must preserve it
	// within one rounding unit of drift.
	if oldK.IsPositive() {
		newK := round.SolReserve.Mul(round.TokenSupply)
		drift := newK.Sub(oldK).Abs()
		if drift.GreaterThan(curve.InvariantTolerance(round.SolReserve, round.TokenSupply)) {
			return nil, &InvariantViolation{
				RoundID: round.ID,
				Detail:  fmt.Sprintf("k drifted from %s to %s", oldK.String(), newK.String()),
			}
		}
	}

	app := &store.TradeApplication{
		Round:    round,
		Trade:    trade,
		Position: position,
		Balance:  balance,
	}
	if err := s.store.ApplyTrade(ctx, app); err != nil {
		return nil, err
	}

	return &TradeResult{Trade: trade, Position: position, Round: round}, nil
}

// Snapshot returns the lock-free display view of a round. It reads
// committed state only; a trade mid-commit is either fully visible or not
// at all.
func (s *Service) Snapshot(ctx context.Context, roundID string) (*model.RoundSnapshot, error) {
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rejected(CodeRoundNotFound, "round %s not found", roundID)
		}
		return nil, err
	}

	remaining := time.Until(round.Deadline()).Seconds()
	if remaining < 0 || round.Status.Terminal() {
		remaining = 0
	}

	return &model.RoundSnapshot{
		ID:            round.ID,
		Status:        round.Status,
		SolReserve:    round.SolReserve,
		TokenSupply:   round.TokenSupply,
		CurrentPrice:  round.CurrentPrice,
		TimeRemaining: remaining,
	}, nil
}
