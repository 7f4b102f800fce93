package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/pumparena/round-engine/internal/model"
)

// Watcher periodically scans for active rounds past their deadline and
// settles them. Settlement failures (a payout outage, a lost race against
// another instance) are logged and retried on the next tick; EndRound's
// idempotency makes the retry safe.
type Watcher struct {
	service  *Service
	interval time.Duration
}

// NewWatcher creates a watcher that scans every interval.
func NewWatcher(service *Service, interval time.Duration) *Watcher {
	return &Watcher{service: service, interval: interval}
}

// Run blocks until ctx is cancelled, settling expired rounds as it finds
// them. Call in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watcher) sweep(ctx context.Context) {
	rounds, err := w.service.store.ListRounds(ctx)
	if err != nil {
		slog.Error("watcher: list rounds failed", "err", err)
		return
	}

	now := time.Now().UTC()
	for _, r := range rounds {
		if r.Status != model.RoundActive || !r.Expired(now) {
			continue
		}
		if _, err := w.service.EndRound(ctx, r.ID); err != nil {
			slog.Error("watcher: settle failed, will retry",
				"round_id", r.ID, "err", err)
		}
	}
}
