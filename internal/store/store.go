// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/wayfinder/internal/domain"
)

// DefaultTripLimit bounds ListTrips when the caller passes a non-positive limit.
const DefaultTripLimit = 20

// Repository persists the navigation trip journal. Live sessions are never
// restored from it.
type Repository interface {
	// RecordTrip creates or updates the journal entry for a navigation session.
	RecordTrip(ctx context.Context, trip domain.Trip) error

	// ListTrips returns a user's most recently updated trips, newest first.
	ListTrips(ctx context.Context, userID string, limit int) ([]domain.Trip, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
