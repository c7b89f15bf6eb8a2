// Package route builds dense point caches for planned routes and tracks a
// walker's progress along them.
package route

import (
	"math"
	"strconv"
	"strings"

	"github.com/ashureev/wayfinder/internal/domain"
)

const (
	// MaxRoutePoints bounds the whole-route dense cache.
	MaxRoutePoints = 800
	// MaxStepPoints bounds each per-step dense cache.
	MaxStepPoints = 60
)

// ParsePath decodes a "lng,lat;lng,lat;..." path string.
// Empty, malformed, non-finite or out-of-range segments are skipped.
func ParsePath(path string) []domain.Point {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	segments := strings.Split(path, ";")
	points := make([]domain.Point, 0, len(segments))
	for _, seg := range segments {
		lngStr, latStr, ok := strings.Cut(strings.TrimSpace(seg), ",")
		if !ok {
			continue
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
		if err != nil {
			continue
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			continue
		}
		if !validCoord(lat, lng) {
			continue
		}
		points = append(points, domain.Point{Lat: lat, Lng: lng})
	}
	return points
}

func validCoord(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lng) <= 180
}

// FormatPath encodes points in the "lng,lat;..." wire format with 6 decimals.
func FormatPath(points []domain.Point) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.FormatFloat(p.Lng, 'f', 6, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Lat, 'f', 6, 64))
	}
	return b.String()
}

// Downsample returns at most maxN points evenly picked from points.
// The first and last points are always kept.
func Downsample(points []domain.Point, maxN int) []domain.Point {
	if maxN < 2 {
		maxN = 2
	}
	n := len(points)
	if n <= maxN {
		out := make([]domain.Point, n)
		copy(out, points)
		return out
	}

	out := make([]domain.Point, maxN)
	for i := 0; i < maxN; i++ {
		out[i] = points[i*(n-1)/(maxN-1)]
	}
	return out
}

// Geometry is the dense point cache of a route.
type Geometry struct {
	RoutePoints []domain.Point
	StepPoints  [][]domain.Point
}

// BuildGeometry parses and downsamples the whole-route path and every step path.
// When the route carries no whole-route path, the step paths are joined in order.
func BuildGeometry(opt domain.RouteOption) Geometry {
	path := strings.TrimSpace(opt.Path)
	if path == "" {
		path = joinStepPaths(opt.Steps)
	}

	g := Geometry{
		RoutePoints: Downsample(ParsePath(path), MaxRoutePoints),
		StepPoints:  make([][]domain.Point, len(opt.Steps)),
	}
	for i, st := range opt.Steps {
		g.StepPoints[i] = Downsample(ParsePath(st.Path), MaxStepPoints)
	}
	return g
}

// NewActiveRoute builds the immutable active route for opt.
func NewActiveRoute(opt domain.RouteOption) *domain.ActiveRoute {
	g := BuildGeometry(opt)
	steps := make([]domain.RouteStep, len(opt.Steps))
	copy(steps, opt.Steps)
	return &domain.ActiveRoute{
		RouteID:     opt.RouteID,
		Name:        opt.Name,
		Distance:    opt.Distance,
		Duration:    opt.Duration,
		Steps:       steps,
		Path:        opt.Path,
		RoutePoints: g.RoutePoints,
		StepPoints:  g.StepPoints,
	}
}

func joinStepPaths(steps []domain.RouteStep) string {
	pieces := make([]string, 0, len(steps))
	for _, st := range steps {
		if p := strings.TrimSpace(st.Path); p != "" {
			pieces = append(pieces, p)
		}
	}
	return strings.Join(pieces, ";")
}
