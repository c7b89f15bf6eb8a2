package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/wayfinder/internal/domain"
)

// EvictCallback is called with the final state of a navigation session
// before the sweeper removes it.
type EvictCallback func(ctx context.Context, s domain.NavigationSession)

// SweepConfig controls the session sweeper.
type SweepConfig struct {
	Interval  time.Duration
	IdleTTL   time.Duration
	Retention time.Duration
}

// StartSweeper runs a background goroutine that periodically cancels idle
// navigation sessions and evicts finished ones.
func StartSweeper(ctx context.Context, st *Store, cfg SweepConfig, onEvict EvictCallback) {
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", cfg.Interval, "idle_ttl", cfg.IdleTTL, "retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				st.Sweep(ctx, cfg, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep performs a single sweep pass and returns the number of cancelled and
// evicted navigation sessions.
func (st *Store) Sweep(ctx context.Context, cfg SweepConfig, onEvict EvictCallback) (cancelled, evicted int) {
	now := st.now()

	for _, s := range st.Navigations() {
		idle := now.Sub(s.UpdatedAt)

		if !s.State.Terminal() {
			if cfg.IdleTTL > 0 && idle > cfg.IdleTTL && st.UpdateState(s.ID, domain.NavStateCancelled) {
				cancelled++
				slog.Info("Session sweeper cancelled idle navigation", "nav_session_id", s.ID, "idle", idle)
			}
			continue
		}

		if idle <= cfg.Retention {
			continue
		}
		if onEvict != nil {
			onEvict(ctx, s)
		}
		if st.DeleteNavigation(s.ID) {
			evicted++
		}
	}

	for _, c := range st.Conversations() {
		if cfg.IdleTTL > 0 && now.Sub(c.UpdatedAt) > cfg.IdleTTL {
			st.DeleteConversation(c.ID)
		}
	}

	if cancelled > 0 || evicted > 0 {
		slog.Info("Session sweep completed", "cancelled", cancelled, "evicted", evicted)
	}
	return cancelled, evicted
}
