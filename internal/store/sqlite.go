package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	tripMu sync.Mutex // serializes journal writes to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets status reads proceed while the dispatcher journals a trip.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS trips (
		nav_session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		route_id TEXT,
		state TEXT NOT NULL,
		distance INTEGER NOT NULL DEFAULT 0,
		origin_lat REAL NOT NULL,
		origin_lng REAL NOT NULL,
		destination_lat REAL NOT NULL,
		destination_lng REAL NOT NULL,
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trips_user_updated ON trips(user_id, updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordTrip creates or updates the journal entry for a navigation session.
// started_at is kept from the first write.
func (s *SQLiteStore) RecordTrip(ctx context.Context, trip domain.Trip) error {
	return shared.RetryOnConflict(ctx, "record trip "+trip.NavSessionID, func() error {
		return s.recordTripOnce(ctx, trip)
	})
}

func (s *SQLiteStore) recordTripOnce(ctx context.Context, trip domain.Trip) error {
	s.tripMu.Lock()
	defer s.tripMu.Unlock()

	query := `
	INSERT INTO trips (
		nav_session_id, user_id, route_id, state, distance,
		origin_lat, origin_lng, destination_lat, destination_lng,
		started_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(nav_session_id) DO UPDATE SET
		route_id = COALESCE(excluded.route_id, trips.route_id),
		state = excluded.state,
		distance = excluded.distance,
		updated_at = excluded.updated_at`

	var routeID interface{}
	if trip.RouteID != "" {
		routeID = trip.RouteID
	}
	updated := trip.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	started := trip.StartedAt
	if started.IsZero() {
		started = updated
	}

	_, err := s.db.ExecContext(ctx, query,
		trip.NavSessionID, trip.UserID, routeID, string(trip.State), trip.Distance,
		trip.Origin.Lat, trip.Origin.Lng, trip.Destination.Lat, trip.Destination.Lng,
		started.Unix(), updated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert trip: %w", err)
	}
	return nil
}

// ListTrips returns a user's most recently updated trips, newest first.
func (s *SQLiteStore) ListTrips(ctx context.Context, userID string, limit int) ([]domain.Trip, error) {
	if limit <= 0 {
		limit = DefaultTripLimit
	}
	query := `
		SELECT nav_session_id, user_id, route_id, state, distance,
		       origin_lat, origin_lng, destination_lat, destination_lng,
		       started_at, updated_at
		FROM trips WHERE user_id = ?
		ORDER BY updated_at DESC, started_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close trip rows", "error", closeErr)
		}
	}()

	trips := make([]domain.Trip, 0)
	for rows.Next() {
		var trip domain.Trip
		var routeID sql.NullString
		var state string
		var startedAt, updatedAt int64

		if err := rows.Scan(
			&trip.NavSessionID, &trip.UserID, &routeID, &state, &trip.Distance,
			&trip.Origin.Lat, &trip.Origin.Lng, &trip.Destination.Lat, &trip.Destination.Lng,
			&startedAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trip row: %w", err)
		}

		trip.RouteID = routeID.String
		trip.State = domain.NavState(state)
		trip.StartedAt = time.Unix(startedAt, 0)
		trip.UpdatedAt = time.Unix(updatedAt, 0)
		trips = append(trips, trip)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}

	return trips, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
