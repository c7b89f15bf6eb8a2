// Package planner plans walking routes between two points.
package planner

import (
	"context"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/route"
)

const (
	fallbackPathPoints = 120
	// MissingPathPoints is the size of the interpolated path used when a
	// planned route carries no geometry.
	MissingPathPoints = 60
)

// Interpolate returns n points evenly spaced on the straight line from a to b.
// n is clamped to [2, 400].
func Interpolate(a, b domain.Point, n int) []domain.Point {
	n = max(2, min(n, 400))
	out := make([]domain.Point, n)
	for i := range out {
		t := float64(i) / float64(n-1)
		out[i] = domain.Point{
			Lat: a.Lat + (b.Lat-a.Lat)*t,
			Lng: a.Lng + (b.Lng-a.Lng)*t,
		}
	}
	out[n-1] = b
	return out
}

// StraightLine plans synthetic routes along the straight line between origin
// and destination. It never fails and is used in mock mode and whenever the
// map provider is unavailable.
type StraightLine struct {
	Tracker route.Tracker
}

// PlanRoute returns a recommended three-step route and a shorter single-step
// alternative.
func (p StraightLine) PlanRoute(_ context.Context, origin, destination domain.Point) ([]domain.RouteOption, error) {
	tracker := p.Tracker
	if tracker.WalkingSpeed <= 0 {
		tracker = route.NewTracker()
	}

	distance := int(route.Haversine(origin, destination))
	points := Interpolate(origin, destination, fallbackPathPoints)
	path := route.FormatPath(points)

	edge := min(200, distance/4)
	lengths := []int{edge, distance - 2*edge, edge}
	texts := []string{
		"Walk straight ahead",
		"Continue straight along the road",
		"Arrive at your destination",
	}
	steps := make([]domain.RouteStep, len(texts))
	start := 0
	covered := 0
	for i, text := range texts {
		covered += lengths[i]
		end := len(points) - 1
		if i < len(texts)-1 && distance > 0 {
			end = covered * (len(points) - 1) / distance
		}
		steps[i] = domain.RouteStep{
			Instruction: text,
			Distance:    lengths[i],
			Duration:    tracker.EstimateTime(lengths[i]),
			Path:        route.FormatPath(points[start : end+1]),
		}
		start = end
	}

	short := int(float64(distance) * 0.85)
	return []domain.RouteOption{
		{
			RouteID:            "route_0",
			Name:               "Recommended route (accessibility first)",
			Distance:           distance,
			Duration:           tracker.EstimateTime(distance),
			Steps:              steps,
			AccessibilityScore: 90,
			Path:               path,
		},
		{
			RouteID:  "route_1",
			Name:     "Shortest route",
			Distance: short,
			Duration: tracker.EstimateTime(short),
			Steps: []domain.RouteStep{{
				Instruction: "Walk straight to your destination",
				Distance:    short,
				Duration:    tracker.EstimateTime(short),
			}},
			AccessibilityScore: 75,
			Path:               path,
		},
	}, nil
}
