package route

import (
	"math"

	"github.com/ashureev/wayfinder/internal/domain"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
	EarthRadiusMeters = 6371000.0
	// DefaultWalkingSpeed is the fallback walking speed in m/s.
	DefaultWalkingSpeed = 1.2
	// DefaultArrivalThreshold is the remaining distance in meters at which a walker has arrived.
	DefaultArrivalThreshold = 15.0
	// DefaultDeviationThreshold is the distance in meters from the path beyond which a walker is off route.
	DefaultDeviationThreshold = 20.0
)

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b domain.Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// NearestIndex returns the index of the point closest to loc, or -1 for no points.
// Ties resolve to the lowest index.
func NearestIndex(points []domain.Point, loc domain.Point) int {
	best, _ := nearest(points, loc)
	return best
}

func nearest(points []domain.Point, loc domain.Point) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, p := range points {
		if d := Haversine(loc, p); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// RemainingAlong sums consecutive point distances from start to the end of points.
func RemainingAlong(points []domain.Point, start int) float64 {
	if start < 0 {
		start = 0
	}
	var total float64
	for i := start; i+1 < len(points); i++ {
		total += Haversine(points[i], points[i+1])
	}
	return total
}

// SelectStep returns the step whose dense points come closest to loc, or -1
// when no step has points. Ties resolve to the lowest step index.
func SelectStep(stepPoints [][]domain.Point, loc domain.Point) int {
	best := -1
	bestDist := math.Inf(1)
	for i, pts := range stepPoints {
		if len(pts) == 0 {
			continue
		}
		if _, d := nearest(pts, loc); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Tracker computes progress along an active route.
type Tracker struct {
	WalkingSpeed     float64
	ArrivalThreshold float64
}

// NewTracker returns a Tracker with the default speed and arrival threshold.
func NewTracker() Tracker {
	return Tracker{WalkingSpeed: DefaultWalkingSpeed, ArrivalThreshold: DefaultArrivalThreshold}
}

// Progress is the position state computed for one location sample.
type Progress struct {
	NearestIndex      int
	StepIndex         int
	RemainingDistance int
	RemainingTime     int
	OffRouteDistance  float64
	Arrived           bool
}

// Track matches loc against r. Without dense points the remaining distance is
// the route's declared total distance.
func (t Tracker) Track(r *domain.ActiveRoute, loc domain.Point) Progress {
	p := Progress{NearestIndex: -1, StepIndex: -1}
	if r == nil {
		return p
	}

	remaining := float64(r.Distance)
	if len(r.RoutePoints) > 0 {
		idx, d := nearest(r.RoutePoints, loc)
		p.NearestIndex = idx
		p.OffRouteDistance = d
		remaining = RemainingAlong(r.RoutePoints, idx)
	}

	p.StepIndex = SelectStep(r.StepPoints, loc)
	p.RemainingDistance = int(remaining)
	p.RemainingTime = t.EstimateTime(p.RemainingDistance)
	p.Arrived = remaining <= t.threshold()
	return p
}

// EstimateTime converts a remaining distance in meters to seconds.
func (t Tracker) EstimateTime(distance int) int {
	if distance <= 0 {
		return 0
	}
	speed := t.WalkingSpeed
	if speed <= 0 {
		speed = DefaultWalkingSpeed
	}
	return int(float64(distance) / speed)
}

func (t Tracker) threshold() float64 {
	if t.ArrivalThreshold <= 0 {
		return DefaultArrivalThreshold
	}
	return t.ArrivalThreshold
}
