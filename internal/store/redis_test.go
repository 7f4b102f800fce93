package store_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pumparena/round-engine/internal/model"
	"github.com/pumparena/round-engine/internal/store"
)

func newCachedStore(t *testing.T) (*store.CachedStore, *store.MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ms := store.NewMemoryStore()
	return store.NewCachedStore(ms, rdb, time.Minute), ms, mr
}

// A round served from the cache must commit exactly like one read from
// the primary: the cached representation has to carry the version the
// row was read at, or every trade within the TTL conflicts.
func TestCachedStore_CacheHitPreservesCommitVersion(t *testing.T) {
	cs, _, mr := newCachedStore(t)
	ctx := context.Background()

	round := newRound("r1")
	if err := cs.CreateRound(ctx, round); err != nil {
		t.Fatalf("create round: %v", err)
	}
	if err := cs.ApplyTrade(ctx, tradeApp(round, "p1")); err != nil {
		t.Fatalf("first trade: %v", err)
	}

	// Miss populates the cache with the committed version.
	missed, err := cs.GetRound(ctx, "r1")
	if err != nil {
		t.Fatalf("get round (miss): %v", err)
	}
	if missed.Version != 1 {
		t.Fatalf("expected version 1 after commit, got %d", missed.Version)
	}
	cached, err := mr.Get("round:r1")
	if err != nil {
		t.Fatalf("round not cached: %v", err)
	}
	if !strings.Contains(cached, `"version":1`) {
		t.Fatalf("cached payload lost the version: %s", cached)
	}

	// Hit must round-trip that version so the next commit succeeds.
	hit, err := cs.GetRound(ctx, "r1")
	if err != nil {
		t.Fatalf("get round (hit): %v", err)
	}
	if hit.Version != missed.Version {
		t.Fatalf("cache hit version %d, primary version %d", hit.Version, missed.Version)
	}
	if err := cs.ApplyTrade(ctx, tradeApp(hit, "p2")); err != nil {
		t.Fatalf("trade from cached round: %v", err)
	}
}

func TestCachedStore_InvalidatesRoundOnTrade(t *testing.T) {
	cs, _, mr := newCachedStore(t)
	ctx := context.Background()

	round := newRound("r1")
	cs.CreateRound(ctx, round)
	if !mr.Exists("round:r1") {
		t.Fatal("round not cached on create")
	}

	if err := cs.ApplyTrade(ctx, tradeApp(round, "p1")); err != nil {
		t.Fatalf("apply trade: %v", err)
	}
	if mr.Exists("round:r1") {
		t.Fatal("round cache not invalidated by trade")
	}

	got, err := cs.GetRound(ctx, "r1")
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if !got.SolReserve.Equal(d("0.098")) {
		t.Errorf("stale reserve after trade: %s", got.SolReserve)
	}
}

func TestCachedStore_InvalidatesRoundOnCancel(t *testing.T) {
	cs, _, mr := newCachedStore(t)
	ctx := context.Background()

	cs.CreateRound(ctx, newRound("r1"))
	if err := cs.CancelRound(ctx, "r1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if mr.Exists("round:r1") {
		t.Fatal("round cache not invalidated by cancel")
	}

	got, _ := cs.GetRound(ctx, "r1")
	if got.Status != model.RoundCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}

func TestCachedStore_InvalidatesBalanceOnDeposit(t *testing.T) {
	cs, _, mr := newCachedStore(t)
	ctx := context.Background()

	// Warm the cache with the zero balance.
	if _, err := cs.GetBalance(ctx, "p1"); err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !mr.Exists("balance:p1") {
		t.Fatal("balance not cached")
	}

	if err := cs.CreditDeposit(ctx, "p1", d("2"), "tx-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if mr.Exists("balance:p1") {
		t.Fatal("balance cache not invalidated by deposit")
	}

	balance, _ := cs.GetBalance(ctx, "p1")
	if !balance.Spendable.Equal(d("2")) {
		t.Errorf("stale balance after deposit: %s", balance.Spendable)
	}
}
