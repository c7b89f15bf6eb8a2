package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/metrics"
	"github.com/ashureev/wayfinder/internal/route"
	"github.com/ashureev/wayfinder/internal/session"
	"github.com/ashureev/wayfinder/internal/speech"
)

var (
	// ErrOriginRequired is returned when a navigation is started without an origin.
	ErrOriginRequired = errors.New("origin is required (lat/lng)")
	// ErrSessionNotFound is returned for unknown navigation session ids.
	ErrSessionNotFound = errors.New("navigation session not found")
	// ErrAlreadyFinished is returned when cancelling a session that already ended.
	ErrAlreadyFinished = errors.New("navigation already finished")
)

// Planner plans walking routes between two points.
type Planner interface {
	PlanRoute(ctx context.Context, origin, destination domain.Point) ([]domain.RouteOption, error)
}

// StartRequest asks for a new guided walk.
type StartRequest struct {
	UserID      string
	Origin      *domain.Point
	Destination domain.Point
}

// StartResult describes a started navigation.
type StartResult struct {
	NavSessionID string
	Routes       []domain.RouteOption
	Message      string
	AudioURL     string
}

// Status is a point-in-time view of a navigation session.
type Status struct {
	NavSessionID      string                     `json:"navSessionId"`
	State             domain.NavState            `json:"state"`
	RouteID           string                     `json:"routeId,omitempty"`
	CurrentLocation   *domain.Point              `json:"currentLocation,omitempty"`
	RemainingDistance int                        `json:"remainingDistance"`
	RemainingTime     int                        `json:"remainingTime"`
	StepIndex         int                        `json:"stepIndex"`
	Instruction       string                     `json:"instruction,omitempty"`
	OffRouteDistance  float64                    `json:"offRouteDistance"`
	OffRoute          bool                       `json:"offRoute"`
	Perception        *domain.PerceptionSnapshot `json:"perception,omitempty"`
}

// ServiceConfig controls the navigation service.
type ServiceConfig struct {
	Tracker            route.Tracker
	DeviationThreshold float64
}

// Service starts, cancels and reports on navigation sessions.
type Service struct {
	store    *session.Store
	planner  Planner
	fallback Planner
	tts      speech.Synthesizer
	journal  Journal
	cfg      ServiceConfig
	logger   *slog.Logger
}

// NewService creates a navigation service. fallback is used when planner
// fails or returns nothing; journal may be nil.
func NewService(store *session.Store, planner, fallback Planner, tts speech.Synthesizer, journal Journal, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Tracker.WalkingSpeed <= 0 && cfg.Tracker.ArrivalThreshold <= 0 {
		cfg.Tracker = route.NewTracker()
	}
	if cfg.DeviationThreshold <= 0 {
		cfg.DeviationThreshold = route.DefaultDeviationThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		planner:  planner,
		fallback: fallback,
		tts:      tts,
		journal:  journal,
		cfg:      cfg,
		logger:   logger,
	}
}

// NewSessionID returns a fresh navigation session id.
func NewSessionID() string {
	return "nav_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Start creates a session, plans routes, activates the first one and moves
// the session to Navigating.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if req.Origin == nil {
		return StartResult{}, ErrOriginRequired
	}

	id := NewSessionID()
	s.store.CreateNavigation(id, req.UserID, *req.Origin, req.Destination)

	routes, source := s.plan(ctx, id, *req.Origin, req.Destination)
	if len(routes) > 0 {
		if err := s.store.SetRoute(id, route.NewActiveRoute(routes[0]), routes); err != nil {
			return StartResult{}, fmt.Errorf("set active route: %w", err)
		}
	}
	s.store.UpdateState(id, domain.NavStateNavigating)
	metrics.NavigationsStarted.WithLabelValues(source).Inc()

	if s.journal != nil {
		recordTrip(ctx, s.journal, s.store, id, s.logger)
	}

	msg := fmt.Sprintf("I have planned %d routes for you. Guidance will follow the first one.", len(routes))
	var audio string
	if s.tts != nil {
		url, err := s.tts.Synthesize(ctx, msg, id)
		if err != nil {
			s.logger.Warn("Start prompt audio unavailable", "collaborator", "speech", "nav_session_id", id, "error", err)
		}
		audio = url
	}

	s.logger.Info("Navigation started", "nav_session_id", id, "user_id", req.UserID, "routes", len(routes), "source", source)
	return StartResult{NavSessionID: id, Routes: routes, Message: msg, AudioURL: audio}, nil
}

func (s *Service) plan(ctx context.Context, id string, origin, destination domain.Point) ([]domain.RouteOption, string) {
	routes, err := s.planner.PlanRoute(ctx, origin, destination)
	if err == nil && len(routes) > 0 {
		return routes, "planner"
	}
	s.logger.Warn("Route planning degraded to fallback", "collaborator", "planner", "nav_session_id", id, "error", err)
	if s.fallback == nil {
		return routes, "none"
	}
	routes, err = s.fallback.PlanRoute(ctx, origin, destination)
	if err != nil {
		s.logger.Error("Fallback route planning failed", "nav_session_id", id, "error", err)
		return nil, "none"
	}
	return routes, "fallback"
}

// Cancel moves a session to Cancelled. A running instruction loop stops on
// its next tick.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if _, ok := s.store.GetNavigation(id); !ok {
		return ErrSessionNotFound
	}
	if !s.store.UpdateState(id, domain.NavStateCancelled) {
		return ErrAlreadyFinished
	}
	if s.journal != nil {
		recordTrip(ctx, s.journal, s.store, id, s.logger)
	}
	s.logger.Info("Navigation cancelled", "nav_session_id", id)
	return nil
}

// Exists reports whether id names a navigation session.
func (s *Service) Exists(id string) bool {
	return s.store.HasNavigation(id)
}

// Status reports progress for a session, including the off-route check.
func (s *Service) Status(id string) (Status, error) {
	n, ok := s.store.GetNavigation(id)
	if !ok {
		return Status{}, ErrSessionNotFound
	}

	st := Status{
		NavSessionID:    n.ID,
		State:           n.State,
		CurrentLocation: n.CurrentLocation,
		StepIndex:       -1,
		Perception:      n.Perception,
	}
	if n.Route == nil {
		return st, nil
	}

	st.RouteID = n.Route.RouteID
	st.RemainingDistance = n.Route.Distance
	st.RemainingTime = s.cfg.Tracker.EstimateTime(n.Route.Distance)
	if n.CurrentLocation == nil {
		return st, nil
	}

	p := s.cfg.Tracker.Track(n.Route, *n.CurrentLocation)
	st.RemainingDistance = p.RemainingDistance
	st.RemainingTime = p.RemainingTime
	st.StepIndex = p.StepIndex
	st.Instruction = stepText(n.Route, p.StepIndex)
	st.OffRouteDistance = p.OffRouteDistance
	st.OffRoute = p.NearestIndex >= 0 && p.OffRouteDistance > s.cfg.DeviationThreshold
	return st, nil
}

// Trips lists the journaled trips of a user, newest first.
func (s *Service) Trips(ctx context.Context, userID string, limit int) ([]domain.Trip, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.ListTrips(ctx, userID, limit)
}

// OnEvict journals the final state of a session removed by the sweeper.
func (s *Service) OnEvict(ctx context.Context, n domain.NavigationSession) {
	if s.journal == nil {
		return
	}
	recordSession(ctx, s.journal, n, s.logger)
}
