package perception

import (
	"context"
	"testing"

	"github.com/ashureev/wayfinder/internal/domain"
)

func TestClassType(t *testing.T) {
	t.Parallel()

	tests := map[int]string{
		0:  TypeStairs,
		1:  TypeCurb,
		2:  TypeObstacle,
		3:  TypeBlindPathBroken,
		4:  TypeSlope,
		99: TypeObstacle,
	}
	for class, want := range tests {
		if got := ClassType(class); got != want {
			t.Fatalf("ClassType(%d) = %s, want %s", class, got, want)
		}
	}
}

func TestEstimateDistanceAndDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		bbox      [4]float64
		distance  float64
		direction string
	}{
		{"large left box", [4]float64{100, 200, 300, 400}, 0.8, DirectionLeft},
		{"narrow right box", [4]float64{400, 150, 500, 350}, 1.5, DirectionRight},
		{"tiny centred box", [4]float64{310, 230, 330, 250}, 43.4, DirectionAhead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateDistance(tt.bbox); got != tt.distance {
				t.Fatalf("expected distance %.1f, got %.1f", tt.distance, got)
			}
			if got := EstimateDirection(tt.bbox); got != tt.direction {
				t.Fatalf("expected direction %s, got %s", tt.direction, got)
			}
		})
	}
}

func TestAggregateSortsAndCaps(t *testing.T) {
	t.Parallel()

	results, _ := Mock{}.DetectBatch(context.Background(), []string{"a", "b", "c"})
	obstacles := Aggregate(results)
	if len(obstacles) != MaxObstacles {
		t.Fatalf("expected %d obstacles, got %d", MaxObstacles, len(obstacles))
	}
	for i := 1; i < len(obstacles); i++ {
		if obstacles[i].Distance < obstacles[i-1].Distance {
			t.Fatalf("obstacles not sorted by distance: %+v", obstacles)
		}
	}
	if obstacles[0].Type != TypeStairs || obstacles[0].Distance != 0.8 || obstacles[0].Direction != DirectionLeft {
		t.Fatalf("unexpected nearest obstacle: %+v", obstacles[0])
	}
	if got := Aggregate(nil); len(got) != 0 {
		t.Fatalf("expected no obstacles, got %+v", got)
	}
}

func TestSafetyLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		distance float64
		want     int
	}{
		{1.9, 1},
		{2, 2},
		{4.9, 2},
		{5, 3},
		{10, 4},
		{19.9, 4},
		{20, 5},
	}
	for _, tt := range tests {
		got := SafetyLevel([]domain.Obstacle{{Distance: 50}, {Distance: tt.distance}})
		if got != tt.want {
			t.Fatalf("SafetyLevel(%.1f) = %d, want %d", tt.distance, got, tt.want)
		}
	}
	if got := SafetyLevel(nil); got != 5 {
		t.Fatalf("expected 5 with no obstacles, got %d", got)
	}
}

func TestTexts(t *testing.T) {
	t.Parallel()

	one := []domain.Obstacle{{Type: TypeStairs, Distance: 0.8, Direction: DirectionLeft}}
	if got, want := WarningText(one), "Caution! Stairs 0.8 meters to your front-left."; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := WarningText(nil); got != "" {
		t.Fatalf("expected no warning, got %q", got)
	}
	if got, want := RoadCondition(one), "There is stairs 0.8 meters ahead, please take care."; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	many := []domain.Obstacle{{Distance: 1}, {Distance: 2}, {Distance: 3}}
	if got := RoadCondition(many); got != "Several obstacles ahead, please slow down and walk carefully." {
		t.Fatalf("unexpected road condition %q", got)
	}
	if got := Guidance(nil); got != "The road ahead is clear, please continue straight." {
		t.Fatalf("unexpected guidance %q", got)
	}
	curb := []domain.Obstacle{{Type: TypeCurb, Distance: 3.2, Direction: DirectionAhead}}
	if got, want := WarningText(curb), "Caution! A curb 3.2 meters straight ahead."; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
