// Package session provides concurrency-safe in-memory storage for navigation
// and conversation sessions.
package session

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/wayfinder/internal/domain"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrRouteAlreadySet is returned when a session already has an active route.
	ErrRouteAlreadySet = errors.New("active route already set")
)

type navRecord struct {
	mu sync.Mutex
	s  domain.NavigationSession
}

type convRecord struct {
	mu sync.Mutex
	s  domain.ConversationSession
}

// Store holds session records. The map lock only guards membership; each
// record carries its own lock so work on one session never blocks another.
type Store struct {
	mu    sync.RWMutex
	navs  map[string]*navRecord
	convs map[string]*convRecord
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		navs:  make(map[string]*navRecord),
		convs: make(map[string]*convRecord),
		now:   time.Now,
	}
}

func (st *Store) nav(id string) *navRecord {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.navs[id]
}

func (st *Store) conv(id string) *convRecord {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.convs[id]
}

// CreateNavigation registers a new navigation session in the Asking state.
// An existing record with the same id is replaced.
func (st *Store) CreateNavigation(id, userID string, origin, destination domain.Point) domain.NavigationSession {
	now := st.now()
	rec := &navRecord{s: domain.NavigationSession{
		ID:          id,
		UserID:      userID,
		State:       domain.NavStateAsking,
		Origin:      origin,
		Destination: destination,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}

	st.mu.Lock()
	st.navs[id] = rec
	st.mu.Unlock()
	return rec.s
}

// HasNavigation reports whether id names a navigation session.
func (st *Store) HasNavigation(id string) bool {
	return st.nav(id) != nil
}

// GetNavigation returns a copy of the session, or false if id is unknown.
func (st *Store) GetNavigation(id string) (domain.NavigationSession, bool) {
	rec := st.nav(id)
	if rec == nil {
		return domain.NavigationSession{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneNav(rec.s), true
}

// UpdateState moves the session to state. It returns false if id is unknown
// or the transition is not allowed, so each transition succeeds at most once.
func (st *Store) UpdateState(id string, state domain.NavState) bool {
	rec := st.nav(id)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.s.State.CanTransition(state) {
		return false
	}
	rec.s.State = state
	rec.s.UpdatedAt = st.now()
	return true
}

// UpdateLocation records the walker's last reported position.
func (st *Store) UpdateLocation(id string, p domain.Point) bool {
	rec := st.nav(id)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	loc := p
	rec.s.CurrentLocation = &loc
	rec.s.UpdatedAt = st.now()
	return true
}

// SetRoute stores the active route and alternatives. The route may be set
// only once per session.
func (st *Store) SetRoute(id string, r *domain.ActiveRoute, alternatives []domain.RouteOption) error {
	rec := st.nav(id)
	if rec == nil {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.s.Route != nil {
		return ErrRouteAlreadySet
	}
	rec.s.Route = r
	rec.s.Alternatives = slices.Clone(alternatives)
	rec.s.UpdatedAt = st.now()
	return nil
}

// UpdatePerception replaces the perception snapshot. When snap carries no
// warning text the previous warning text and audio are kept.
func (st *Store) UpdatePerception(id string, snap domain.PerceptionSnapshot) bool {
	rec := st.nav(id)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	next := snap
	next.Obstacles = slices.Clone(snap.Obstacles)
	if next.WarningText == "" && rec.s.Perception != nil {
		next.WarningText = rec.s.Perception.WarningText
		next.WarningAudioURL = rec.s.Perception.WarningAudioURL
	}
	rec.s.Perception = &next
	rec.s.UpdatedAt = st.now()
	return true
}

// DeleteNavigation removes a navigation session.
func (st *Store) DeleteNavigation(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.navs[id]; !ok {
		return false
	}
	delete(st.navs, id)
	return true
}

// Navigations returns copies of all navigation sessions.
func (st *Store) Navigations() []domain.NavigationSession {
	st.mu.RLock()
	recs := make([]*navRecord, 0, len(st.navs))
	for _, rec := range st.navs {
		recs = append(recs, rec)
	}
	st.mu.RUnlock()

	out := make([]domain.NavigationSession, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, cloneNav(rec.s))
		rec.mu.Unlock()
	}
	return out
}

// CreateConversation registers a new, empty conversation.
func (st *Store) CreateConversation(id, userID string) domain.ConversationSession {
	now := st.now()
	rec := &convRecord{s: domain.ConversationSession{
		ID:        id,
		UserID:    userID,
		Context:   make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}}

	st.mu.Lock()
	st.convs[id] = rec
	st.mu.Unlock()
	return cloneConv(rec.s)
}

// GetConversation returns a copy of the conversation, or false if id is unknown.
func (st *Store) GetConversation(id string) (domain.ConversationSession, bool) {
	rec := st.conv(id)
	if rec == nil {
		return domain.ConversationSession{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneConv(rec.s), true
}

// GetOrCreateConversation returns the conversation for id, creating it if needed.
func (st *Store) GetOrCreateConversation(id, userID string) domain.ConversationSession {
	st.mu.Lock()
	rec, ok := st.convs[id]
	if !ok {
		now := st.now()
		rec = &convRecord{s: domain.ConversationSession{
			ID:        id,
			UserID:    userID,
			Context:   make(map[string]any),
			CreatedAt: now,
			UpdatedAt: now,
		}}
		st.convs[id] = rec
	}
	st.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneConv(rec.s)
}

// AppendTurns adds turns to the conversation history.
func (st *Store) AppendTurns(id string, turns ...domain.Turn) bool {
	rec := st.conv(id)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.s.History = append(rec.s.History, turns...)
	rec.s.UpdatedAt = st.now()
	return true
}

// SetContext stores a free-form context value on the conversation.
func (st *Store) SetContext(id, key string, value any) bool {
	rec := st.conv(id)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.s.Context[key] = value
	rec.s.UpdatedAt = st.now()
	return true
}

// DeleteConversation removes a conversation.
func (st *Store) DeleteConversation(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.convs[id]; !ok {
		return false
	}
	delete(st.convs, id)
	return true
}

// Conversations returns copies of all conversations.
func (st *Store) Conversations() []domain.ConversationSession {
	st.mu.RLock()
	recs := make([]*convRecord, 0, len(st.convs))
	for _, rec := range st.convs {
		recs = append(recs, rec)
	}
	st.mu.RUnlock()

	out := make([]domain.ConversationSession, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, cloneConv(rec.s))
		rec.mu.Unlock()
	}
	return out
}

// ClearAll drops every session. Used at process shutdown.
func (st *Store) ClearAll() {
	st.mu.Lock()
	defer st.mu.Unlock()
	clear(st.navs)
	clear(st.convs)
}

// cloneNav copies the mutable parts of a session. The active route is shared:
// it is immutable once set.
func cloneNav(s domain.NavigationSession) domain.NavigationSession {
	out := s
	if s.CurrentLocation != nil {
		loc := *s.CurrentLocation
		out.CurrentLocation = &loc
	}
	if s.Perception != nil {
		p := *s.Perception
		p.Obstacles = slices.Clone(s.Perception.Obstacles)
		out.Perception = &p
	}
	out.Alternatives = slices.Clone(s.Alternatives)
	return out
}

func cloneConv(s domain.ConversationSession) domain.ConversationSession {
	out := s
	out.History = slices.Clone(s.History)
	out.Context = maps.Clone(s.Context)
	if out.Context == nil {
		out.Context = make(map[string]any)
	}
	return out
}
