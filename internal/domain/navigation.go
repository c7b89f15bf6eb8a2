// Package domain contains core domain types for the navigation service.
package domain

import (
	"time"
)

// Point is a geographic coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NavState is the lifecycle state of a navigation session.
type NavState string

const (
	// NavStateAsking is the initial state while the destination is being settled.
	NavStateAsking NavState = "asking"
	// NavStateNavigating indicates an active route is being followed.
	NavStateNavigating NavState = "navigating"
	// NavStateArrived is terminal: the walker reached the destination.
	NavStateArrived NavState = "arrived"
	// NavStateCancelled is terminal: navigation was abandoned.
	NavStateCancelled NavState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s NavState) Terminal() bool {
	return s == NavStateArrived || s == NavStateCancelled
}

// CanTransition reports whether s may advance to next.
// Allowed: Asking→Navigating, Navigating→Arrived, and any non-terminal state→Cancelled.
func (s NavState) CanTransition(next NavState) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case NavStateNavigating:
		return s == NavStateAsking
	case NavStateArrived:
		return s == NavStateNavigating
	case NavStateCancelled:
		return true
	default:
		return false
	}
}

// RouteStep is one instruction-bearing segment of a planned route.
type RouteStep struct {
	Instruction string `json:"instruction"`
	Distance    int    `json:"distance"`
	Duration    int    `json:"duration"`
	Path        string `json:"polyline,omitempty"`
}

// RouteOption is a single candidate route returned by the planner.
type RouteOption struct {
	RouteID            string      `json:"routeId"`
	Name               string      `json:"name"`
	Distance           int         `json:"distance"`
	Duration           int         `json:"duration"`
	Steps              []RouteStep `json:"steps"`
	AccessibilityScore int         `json:"accessibilityScore"`
	Path               string      `json:"polyline"`
}

// ActiveRoute is the route being followed together with its dense point caches.
// The caches are built once when navigation starts and never modified afterwards.
type ActiveRoute struct {
	RouteID     string
	Name        string
	Distance    int
	Duration    int
	Steps       []RouteStep
	Path        string
	RoutePoints []Point
	StepPoints  [][]Point
}

// Obstacle is an aggregated perception result.
type Obstacle struct {
	Type       string  `json:"type"`
	Distance   float64 `json:"distance"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// PerceptionSnapshot holds the most recent perception batch outcome for a session.
type PerceptionSnapshot struct {
	At              time.Time  `json:"at"`
	SafetyLevel     int        `json:"safetyLevel"`
	RoadCondition   string     `json:"roadCondition"`
	Guidance        string     `json:"guidance,omitempty"`
	Obstacles       []Obstacle `json:"obstacles"`
	WarningText     string     `json:"warningText,omitempty"`
	WarningAudioURL string     `json:"warningAudioUrl,omitempty"`
}

// NavigationSession is the state of one guided walk.
type NavigationSession struct {
	ID              string
	UserID          string
	State           NavState
	Origin          Point
	Destination     Point
	CurrentLocation *Point
	Route           *ActiveRoute
	Alternatives    []RouteOption
	Perception      *PerceptionSnapshot
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Trip is the journaled summary of a navigation session.
type Trip struct {
	NavSessionID string    `json:"navSessionId"`
	UserID       string    `json:"userId"`
	RouteID      string    `json:"routeId,omitempty"`
	State        NavState  `json:"state"`
	Distance     int       `json:"distance"`
	Origin       Point     `json:"origin"`
	Destination  Point     `json:"destination"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TripFromSession summarizes a session for the journal.
func TripFromSession(s NavigationSession) Trip {
	t := Trip{
		NavSessionID: s.ID,
		UserID:       s.UserID,
		State:        s.State,
		Origin:       s.Origin,
		Destination:  s.Destination,
		StartedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if s.Route != nil {
		t.RouteID = s.Route.RouteID
		t.Distance = s.Route.Distance
	}
	return t
}
