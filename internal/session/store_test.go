package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/wayfinder/internal/domain"
)

var (
	origin      = domain.Point{Lat: 39.9042, Lng: 116.4074}
	destination = domain.Point{Lat: 39.9142, Lng: 116.4174}
)

func TestCreateNavigationStartsAsking(t *testing.T) {
	t.Parallel()

	st := NewStore()
	s := st.CreateNavigation("nav-1", "user-1", origin, destination)
	if s.State != domain.NavStateAsking {
		t.Fatalf("expected asking, got %s", s.State)
	}

	got, ok := st.GetNavigation("nav-1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if got.UserID != "user-1" || got.Origin != origin || got.Destination != destination {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CurrentLocation != nil {
		t.Fatal("expected no location yet")
	}
}

func TestGetNavigationUnknown(t *testing.T) {
	t.Parallel()

	st := NewStore()
	if _, ok := st.GetNavigation("missing"); ok {
		t.Fatal("expected unknown session to be absent")
	}
	if st.HasNavigation("missing") {
		t.Fatal("expected HasNavigation to report unknown session")
	}
	st.CreateNavigation("nav-1", "user-1", origin, destination)
	if !st.HasNavigation("nav-1") {
		t.Fatal("expected HasNavigation to find created session")
	}
}

func TestUpdateStateTransitions(t *testing.T) {
	t.Parallel()

	st := NewStore()
	if st.UpdateState("missing", domain.NavStateNavigating) {
		t.Fatal("expected false for unknown session")
	}

	st.CreateNavigation("nav-1", "u", origin, destination)
	steps := []struct {
		to   domain.NavState
		want bool
	}{
		{domain.NavStateArrived, false},
		{domain.NavStateNavigating, true},
		{domain.NavStateNavigating, false},
		{domain.NavStateArrived, true},
		{domain.NavStateArrived, false},
		{domain.NavStateCancelled, false},
	}
	for i, step := range steps {
		if got := st.UpdateState("nav-1", step.to); got != step.want {
			t.Fatalf("step %d: UpdateState(%s) = %v, want %v", i, step.to, got, step.want)
		}
	}

	st.CreateNavigation("nav-2", "u", origin, destination)
	if !st.UpdateState("nav-2", domain.NavStateCancelled) {
		t.Fatal("expected asking -> cancelled to succeed")
	}
	if st.UpdateState("nav-2", domain.NavStateNavigating) {
		t.Fatal("expected cancelled to be terminal")
	}
}

func TestUpdateLocationReturnsCopy(t *testing.T) {
	t.Parallel()

	st := NewStore()
	if st.UpdateLocation("missing", origin) {
		t.Fatal("expected false for unknown session")
	}
	st.CreateNavigation("nav-1", "u", origin, destination)
	if !st.UpdateLocation("nav-1", destination) {
		t.Fatal("expected location update to succeed")
	}

	got, _ := st.GetNavigation("nav-1")
	got.CurrentLocation.Lat = 0

	again, _ := st.GetNavigation("nav-1")
	if *again.CurrentLocation != destination {
		t.Fatalf("stored location mutated through copy: %+v", again.CurrentLocation)
	}
}

func TestSetRouteOnlyOnce(t *testing.T) {
	t.Parallel()

	st := NewStore()
	r := &domain.ActiveRoute{RouteID: "route_0", Distance: 100}
	if err := st.SetRoute("missing", r, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	st.CreateNavigation("nav-1", "u", origin, destination)
	if err := st.SetRoute("nav-1", r, []domain.RouteOption{{RouteID: "route_0"}}); err != nil {
		t.Fatalf("SetRoute failed: %v", err)
	}
	if err := st.SetRoute("nav-1", &domain.ActiveRoute{RouteID: "route_1"}, nil); !errors.Is(err, ErrRouteAlreadySet) {
		t.Fatalf("expected ErrRouteAlreadySet, got %v", err)
	}

	got, _ := st.GetNavigation("nav-1")
	if got.Route.RouteID != "route_0" {
		t.Fatalf("expected route_0 to remain active, got %s", got.Route.RouteID)
	}
	if len(got.Alternatives) != 1 {
		t.Fatalf("expected 1 alternative, got %d", len(got.Alternatives))
	}
}

func TestUpdatePerceptionKeepsLastWarning(t *testing.T) {
	t.Parallel()

	st := NewStore()
	st.CreateNavigation("nav-1", "u", origin, destination)

	st.UpdatePerception("nav-1", domain.PerceptionSnapshot{
		SafetyLevel:     2,
		Obstacles:       []domain.Obstacle{{Type: "stairs", Distance: 3}},
		WarningText:     "Caution, stairs ahead",
		WarningAudioURL: "/audio/a.mp3",
	})
	st.UpdatePerception("nav-1", domain.PerceptionSnapshot{SafetyLevel: 5, RoadCondition: "clear"})

	got, _ := st.GetNavigation("nav-1")
	if got.Perception.SafetyLevel != 5 || len(got.Perception.Obstacles) != 0 {
		t.Fatalf("expected latest snapshot fields, got %+v", got.Perception)
	}
	if got.Perception.WarningText != "Caution, stairs ahead" || got.Perception.WarningAudioURL != "/audio/a.mp3" {
		t.Fatalf("expected last warning to be kept, got %+v", got.Perception)
	}
	if st.UpdatePerception("missing", domain.PerceptionSnapshot{}) {
		t.Fatal("expected false for unknown session")
	}
}

func TestConversationHistory(t *testing.T) {
	t.Parallel()

	st := NewStore()
	c := st.GetOrCreateConversation("conv-1", "u")
	if len(c.History) != 0 {
		t.Fatalf("expected empty history, got %d", len(c.History))
	}

	for i := 0; i < 8; i++ {
		st.AppendTurns("conv-1",
			domain.Turn{Role: domain.RoleUser, Content: "q" + strconv.Itoa(i)},
			domain.Turn{Role: domain.RoleAssistant, Content: "a" + strconv.Itoa(i)},
		)
	}
	st.SetContext("conv-1", "last_location", origin)

	got, ok := st.GetConversation("conv-1")
	if !ok {
		t.Fatal("expected conversation")
	}
	if len(got.History) != 16 {
		t.Fatalf("expected unbounded history of 16, got %d", len(got.History))
	}
	recent := got.RecentTurns(10)
	if len(recent) != 10 || recent[9].Content != "a7" || recent[0].Content != "q3" {
		t.Fatalf("unexpected recent window: %+v", recent)
	}
	if got.Context["last_location"] != origin {
		t.Fatalf("expected last_location context, got %v", got.Context)
	}

	again := st.GetOrCreateConversation("conv-1", "other")
	if again.UserID != "u" || len(again.History) != 16 {
		t.Fatal("expected existing conversation to be returned")
	}
}

func TestClearAll(t *testing.T) {
	t.Parallel()

	st := NewStore()
	st.CreateNavigation("nav-1", "u", origin, destination)
	st.CreateConversation("conv-1", "u")
	st.ClearAll()

	if _, ok := st.GetNavigation("nav-1"); ok {
		t.Fatal("expected navigation to be cleared")
	}
	if _, ok := st.GetConversation("conv-1"); ok {
		t.Fatal("expected conversation to be cleared")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	st := NewStore()
	const sessions = 20

	for i := 0; i < sessions; i++ {
		st.CreateNavigation("nav-"+strconv.Itoa(i), "u", origin, destination)
	}

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		id := "nav-" + strconv.Itoa(i)
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				st.UpdateLocation(id, domain.Point{Lat: float64(j), Lng: float64(j)})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				st.UpdatePerception(id, domain.PerceptionSnapshot{SafetyLevel: j % 5})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if s, ok := st.GetNavigation(id); ok && s.CurrentLocation != nil {
					_ = s.CurrentLocation.Lat
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		s, _ := st.GetNavigation("nav-" + strconv.Itoa(i))
		if s.CurrentLocation == nil || s.CurrentLocation.Lat != 199 {
			t.Fatalf("expected final location 199, got %+v", s.CurrentLocation)
		}
	}
}

func TestSweepCancelsIdleAndEvictsFinished(t *testing.T) {
	t.Parallel()

	st := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	st.now = func() time.Time { return clock }

	st.CreateNavigation("idle", "u", origin, destination)
	st.UpdateState("idle", domain.NavStateNavigating)
	st.CreateNavigation("done", "u", origin, destination)
	st.UpdateState("done", domain.NavStateCancelled)
	st.CreateConversation("conv", "u")

	clock = base.Add(10 * time.Minute)
	st.CreateNavigation("fresh", "u", origin, destination)

	cfg := SweepConfig{IdleTTL: 5 * time.Minute, Retention: time.Minute}
	var evicted []string
	onEvict := func(_ context.Context, s domain.NavigationSession) {
		evicted = append(evicted, s.ID+":"+string(s.State))
	}

	cancelled, removed := st.Sweep(context.Background(), cfg, onEvict)
	if cancelled != 1 || removed != 1 {
		t.Fatalf("expected 1 cancelled and 1 evicted, got %d and %d", cancelled, removed)
	}
	if len(evicted) != 1 || evicted[0] != "done:cancelled" {
		t.Fatalf("unexpected evictions: %v", evicted)
	}

	idle, ok := st.GetNavigation("idle")
	if !ok || idle.State != domain.NavStateCancelled {
		t.Fatalf("expected idle session to be cancelled and kept, got %+v", idle)
	}
	if s, _ := st.GetNavigation("fresh"); s.State != domain.NavStateAsking {
		t.Fatalf("expected fresh session untouched, got %s", s.State)
	}
	if _, ok := st.GetConversation("conv"); ok {
		t.Fatal("expected idle conversation to be evicted")
	}
}
