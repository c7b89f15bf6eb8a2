// Package perception turns camera detections into obstacle summaries,
// safety levels and spoken warnings.
package perception

import (
	"fmt"
	"math"
	"sort"

	"github.com/ashureev/wayfinder/internal/domain"
)

// Frame geometry assumed by the distance and direction estimates.
const (
	FrameWidth  = 640
	FrameHeight = 480

	// MaxObstacles caps the aggregated list to the nearest entries.
	MaxObstacles = 5
	// MaxImages is the largest accepted batch.
	MaxImages = 3
)

// Obstacle types.
const (
	TypeStairs          = "stairs"
	TypeCurb            = "curb"
	TypeObstacle        = "obstacle"
	TypeBlindPathBroken = "blind_path_broken"
	TypeSlope           = "slope"
)

// Directions relative to the walker.
const (
	DirectionLeft  = "front-left"
	DirectionRight = "front-right"
	DirectionAhead = "ahead"
)

// Detection is one raw bounding box from the detector.
type Detection struct {
	Class      int        `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Result holds the detections for one image.
type Result struct {
	Detections []Detection `json:"detections"`
}

var classTypes = map[int]string{
	0: TypeStairs,
	1: TypeCurb,
	2: TypeObstacle,
	3: TypeBlindPathBroken,
	4: TypeSlope,
}

var typeNames = map[string]string{
	TypeStairs:          "stairs",
	TypeCurb:            "a curb",
	TypeObstacle:        "an obstacle",
	TypeBlindPathBroken: "a broken tactile path",
	TypeSlope:           "a slope",
}

// ClassType maps a detector class id to an obstacle type. Unknown classes are
// generic obstacles.
func ClassType(class int) string {
	if t, ok := classTypes[class]; ok {
		return t
	}
	return TypeObstacle
}

// EstimateDistance derives a distance in meters from the box area: larger
// boxes are closer. Rounded to one decimal.
func EstimateDistance(b [4]float64) float64 {
	area := (b[2] - b[0]) * (b[3] - b[1])
	norm := area / (FrameWidth * FrameHeight)
	d := 10 / (norm*100 + 0.1)
	return math.Round(d*10) / 10
}

// EstimateDirection classifies the box centre into thirds of the frame.
func EstimateDirection(b [4]float64) string {
	cx := (b[0] + b[2]) / 2
	switch {
	case cx < 213:
		return DirectionLeft
	case cx > 427:
		return DirectionRight
	default:
		return DirectionAhead
	}
}

// Aggregate flattens per-image detections into obstacles sorted by distance,
// nearest first, keeping at most MaxObstacles.
func Aggregate(results []Result) []domain.Obstacle {
	var out []domain.Obstacle
	for _, r := range results {
		for _, d := range r.Detections {
			out = append(out, domain.Obstacle{
				Type:       ClassType(d.Class),
				Distance:   EstimateDistance(d.BBox),
				Direction:  EstimateDirection(d.BBox),
				Confidence: d.Confidence,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > MaxObstacles {
		out = out[:MaxObstacles]
	}
	return out
}

// SafetyLevel rates the surroundings from 1 (dangerous) to 5 (safe) by the
// nearest obstacle.
func SafetyLevel(obstacles []domain.Obstacle) int {
	if len(obstacles) == 0 {
		return 5
	}
	closest := obstacles[0].Distance
	for _, o := range obstacles[1:] {
		closest = min(closest, o.Distance)
	}
	switch {
	case closest < 2:
		return 1
	case closest < 5:
		return 2
	case closest < 10:
		return 3
	case closest < 20:
		return 4
	default:
		return 5
	}
}

// RoadCondition describes the path ahead. obstacles must be sorted.
func RoadCondition(obstacles []domain.Obstacle) string {
	switch {
	case len(obstacles) == 0:
		return "The road is clear with no obvious obstacles."
	case len(obstacles) >= 3:
		return "Several obstacles ahead, please slow down and walk carefully."
	default:
		c := obstacles[0]
		return fmt.Sprintf("There is %s %.1f meters ahead, please take care.", typeName(c.Type), c.Distance)
	}
}

// WarningText is the spoken warning for the nearest obstacle, or empty.
func WarningText(obstacles []domain.Obstacle) string {
	if len(obstacles) == 0 {
		return ""
	}
	c := obstacles[0]
	return fmt.Sprintf("Caution! %s %.1f meters %s.", capitalize(typeName(c.Type)), c.Distance, directionPhrase(c.Direction))
}

// Guidance is the deterministic walking advice used when no advisor is
// available.
func Guidance(obstacles []domain.Obstacle) string {
	if len(obstacles) == 0 {
		return "The road ahead is clear, please continue straight."
	}
	c := obstacles[0]
	return fmt.Sprintf("There is %s %.1f meters ahead, slow down and proceed carefully.", typeName(c.Type), c.Distance)
}

func typeName(t string) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return typeNames[TypeObstacle]
}

func directionPhrase(d string) string {
	switch d {
	case DirectionLeft:
		return "to your front-left"
	case DirectionRight:
		return "to your front-right"
	default:
		return "straight ahead"
	}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
