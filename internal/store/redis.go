package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.CreateRound(ctx, r); err != nil {
		return err
	}
	s.cacheRound(ctx, r)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, app *TradeApplication) error {
	if err := s.primary.ApplyTrade(ctx, app); err != nil {
		return err
	}
	// Invalidate everything the trade touched; next read re-populates.
	s.rdb.Del(ctx, roundKey(app.Round.ID),
		positionsKey(app.Position.PlayerID),
		balanceKey(app.Balance.PlayerID))
	return nil
}

func (s *CachedStore) ApplySettlement(ctx context.Context, app *SettlementApplication) error {
	if err := s.primary.ApplySettlement(ctx, app); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(app.Round.ID))
	return nil
}

func (s *CachedStore) CompleteRound(ctx context.Context, roundID, payoutRef string) error {
	if err := s.primary.CompleteRound(ctx, roundID, payoutRef); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(roundID))
	return nil
}

func (s *CachedStore) CancelRound(ctx context.Context, roundID string) error {
	if err := s.primary.CancelRound(ctx, roundID); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(roundID))
	return nil
}

func (s *CachedStore) CreditDeposit(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	if err := s.primary.CreditDeposit(ctx, playerID, amount, externalTxID); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(playerID))
	return nil
}

func (s *CachedStore) ReserveWithdrawal(ctx context.Context, playerID string, amount decimal.Decimal) error {
	if err := s.primary.ReserveWithdrawal(ctx, playerID, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(playerID))
	return nil
}

func (s *CachedStore) ConfirmWithdrawal(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	if err := s.primary.ConfirmWithdrawal(ctx, playerID, amount, externalTxID); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(playerID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, roundKey(id)).Bytes()
	if err == nil {
		var cr cachedRound
		if json.Unmarshal(data, &cr) == nil && cr.Round != nil {
			cr.Round.Version = cr.Version
			return cr.Round, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheRound(ctx, r)
	return r, nil
}

func (s *CachedStore) GetPlayerPositions(ctx context.Context, playerID string) ([]model.Position, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, positionsKey(playerID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss.
	positions, err := s.primary.GetPlayerPositions(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(playerID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) GetBalance(ctx context.Context, playerID string) (*model.Balance, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, balanceKey(playerID)).Bytes()
	if err == nil {
		var b model.Balance
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	// Cache miss.
	b, err := s.primary.GetBalance(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(b); err == nil {
		s.rdb.Set(ctx, balanceKey(playerID), data, s.ttl)
	}
	return b, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	return s.primary.ListRounds(ctx)
}

func (s *CachedStore) GetSettlement(ctx context.Context, roundID string) (*model.Settlement, error) {
	return s.primary.GetSettlement(ctx, roundID)
}

func (s *CachedStore) ListTrades(ctx context.Context, roundID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, roundID)
}

func (s *CachedStore) GetPosition(ctx context.Context, roundID, playerID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, roundID, playerID)
}

func (s *CachedStore) ListPositions(ctx context.Context, roundID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, roundID)
}

func (s *CachedStore) ListForfeitures(ctx context.Context, roundID string) ([]model.Forfeiture, error) {
	return s.primary.ListForfeitures(ctx, roundID)
}

// --- Cache helpers ---

// cachedRound is the Redis representation of a round. The API model hides
// Version from JSON responses, but a cached round is fed back into the
// commit path, where the version guard needs the value the row was read
// at. Losing it would poison every commit until the entry expires.
type cachedRound struct {
	Round   *model.Round `json:"round"`
	Version int64        `json:"version"`
}

func (s *CachedStore) cacheRound(ctx context.Context, r *model.Round) {
	if data, err := json.Marshal(cachedRound{Round: r, Version: r.Version}); err == nil {
		s.rdb.Set(ctx, roundKey(r.ID), data, s.ttl)
	}
}

func roundKey(id string) string        { return fmt.Sprintf("round:%s", id) }
func positionsKey(pid string) string   { return fmt.Sprintf("positions:%s", pid) }
func balanceKey(pid string) string     { return fmt.Sprintf("balance:%s", pid) }
