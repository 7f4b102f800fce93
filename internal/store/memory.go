package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	rounds      map[string]*model.Round
	trades      []model.Trade
	positions   map[string]*model.Position // key: roundID + "/" + playerID
	forfeitures map[string][]model.Forfeiture
	settlements map[string]*model.Settlement
	balances    map[string]*model.Balance
	audits      []model.DepositAudit
	seenTxIDs   map[string]bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:      make(map[string]*model.Round),
		positions:   make(map[string]*model.Position),
		forfeitures: make(map[string][]model.Forfeiture),
		settlements: make(map[string]*model.Settlement),
		balances:    make(map[string]*model.Balance),
		seenTxIDs:   make(map[string]bool),
	}
}

func positionKey(roundID, playerID string) string {
	return roundID + "/" + playerID
}

func (s *MemoryStore) CreateRound(_ context.Context, r *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[r.ID]; exists {
		return fmt.Errorf("round %s already exists", r.ID)
	}
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRounds(_ context.Context) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		rounds = append(rounds, *r)
	}
	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i].StartedAt.After(rounds[j].StartedAt)
	})
	return rounds, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, app *TradeApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rounds[app.Round.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != model.RoundActive || current.Version != app.Round.Version {
		return ErrConflict
	}

	round := *app.Round
	round.Version++
	s.rounds[round.ID] = &round

	s.trades = append(s.trades, *app.Trade)

	pos := *app.Position
	s.positions[positionKey(pos.RoundID, pos.PlayerID)] = &pos

	bal := *app.Balance
	s.balances[bal.PlayerID] = &bal

	return nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, app *SettlementApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rounds[app.Round.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status.Terminal() {
		return ErrConflict
	}

	round := *app.Round
	round.Version++
	s.rounds[round.ID] = &round

	s.forfeitures[round.ID] = append([]model.Forfeiture(nil), app.Forfeitures...)
	settlement := *app.Settlement
	s.settlements[round.ID] = &settlement
	return nil
}

func (s *MemoryStore) CompleteRound(_ context.Context, roundID, payoutRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrConflict
	}
	r.Status = model.RoundCompleted
	r.SettlementTxRef = payoutRef
	r.Version++

	if settlement, ok := s.settlements[roundID]; ok {
		settlement.PayoutRef = payoutRef
	}
	return nil
}

func (s *MemoryStore) CancelRound(_ context.Context, roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrConflict
	}
	r.Status = model.RoundCancelled
	r.Version++

	s.settlements[roundID] = &model.Settlement{
		RoundID:         roundID,
		AccumulatedFees: decimal.Zero,
		ForfeitedSol:    decimal.Zero,
		TotalToHouse:    decimal.Zero,
		SettledAt:       time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, roundID string) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[roundID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, roundID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.RoundID == roundID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, roundID, playerID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(roundID, playerID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, roundID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.RoundID == roundID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PlayerID < result[j].PlayerID
	})
	return result, nil
}

func (s *MemoryStore) GetPlayerPositions(_ context.Context, playerID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.PlayerID == playerID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RoundID < result[j].RoundID
	})
	return result, nil
}

func (s *MemoryStore) ListForfeitures(_ context.Context, roundID string) ([]model.Forfeiture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Forfeiture(nil), s.forfeitures[roundID]...), nil
}

func (s *MemoryStore) GetBalance(_ context.Context, playerID string) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balanceLocked(playerID), nil
}

// balanceLocked returns a copy of the player's balance, zero if absent.
// Caller must hold at least the read lock.
func (s *MemoryStore) balanceLocked(playerID string) *model.Balance {
	if b, ok := s.balances[playerID]; ok {
		cp := *b
		return &cp
	}
	return &model.Balance{
		PlayerID:          playerID,
		Spendable:         decimal.Zero,
		PendingWithdrawal: decimal.Zero,
	}
}

func (s *MemoryStore) CreditDeposit(_ context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenTxIDs[externalTxID] {
		return ErrDuplicateDeposit
	}

	b := s.balanceLocked(playerID)
	b.Spendable = b.Spendable.Add(amount)
	s.balances[playerID] = b

	s.seenTxIDs[externalTxID] = true
	s.audits = append(s.audits, model.DepositAudit{
		ID:           uuid.New().String(),
		PlayerID:     playerID,
		Kind:         model.AuditDeposit,
		Amount:       amount,
		ExternalTxID: externalTxID,
		Timestamp:    time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) ReserveWithdrawal(_ context.Context, playerID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balanceLocked(playerID)
	if amount.GreaterThan(b.Spendable) {
		return ErrInsufficientBalance
	}
	b.Spendable = b.Spendable.Sub(amount)
	b.PendingWithdrawal = b.PendingWithdrawal.Add(amount)
	s.balances[playerID] = b

	s.audits = append(s.audits, model.DepositAudit{
		ID:        uuid.New().String(),
		PlayerID:  playerID,
		Kind:      model.AuditWithdrawalRequest,
		Amount:    amount,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) ConfirmWithdrawal(_ context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenTxIDs[externalTxID] {
		return ErrDuplicateDeposit
	}

	b := s.balanceLocked(playerID)
	if amount.GreaterThan(b.PendingWithdrawal) {
		return ErrInsufficientBalance
	}
	b.PendingWithdrawal = b.PendingWithdrawal.Sub(amount)
	s.balances[playerID] = b

	s.seenTxIDs[externalTxID] = true
	s.audits = append(s.audits, model.DepositAudit{
		ID:           uuid.New().String(),
		PlayerID:     playerID,
		Kind:         model.AuditWithdrawalConfirm,
		Amount:       amount,
		ExternalTxID: externalTxID,
		Timestamp:    time.Now().UTC(),
	})
	return nil
}
