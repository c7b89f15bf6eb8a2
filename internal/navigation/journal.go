package navigation

import (
	"context"
	"log/slog"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/session"
)

// Journal persists trip summaries. It is an audit trail only; live sessions
// are never restored from it.
type Journal interface {
	RecordTrip(ctx context.Context, t domain.Trip) error
	ListTrips(ctx context.Context, userID string, limit int) ([]domain.Trip, error)
}

func recordTrip(ctx context.Context, j Journal, store *session.Store, id string, logger *slog.Logger) {
	s, ok := store.GetNavigation(id)
	if !ok {
		return
	}
	recordSession(ctx, j, s, logger)
}

func recordSession(ctx context.Context, j Journal, s domain.NavigationSession, logger *slog.Logger) {
	if err := j.RecordTrip(context.WithoutCancel(ctx), domain.TripFromSession(s)); err != nil {
		logger.Warn("Failed to journal trip", "nav_session_id", s.ID, "state", s.State, "error", err)
	}
}
