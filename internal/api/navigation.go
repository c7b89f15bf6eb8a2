package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/identity"
	"github.com/ashureev/wayfinder/internal/navigation"
	"github.com/ashureev/wayfinder/internal/perception"
)

// StreamPath is the WebSocket route for instruction streams.
const StreamPath = "/v1/nav/stream"

// Navigator starts, cancels and reports on navigation sessions.
type Navigator interface {
	Start(ctx context.Context, req navigation.StartRequest) (navigation.StartResult, error)
	Cancel(ctx context.Context, id string) error
	Status(id string) (navigation.Status, error)
	Exists(id string) bool
	Trips(ctx context.Context, userID string, limit int) ([]domain.Trip, error)
}

// PerceptionProcessor handles camera batches.
type PerceptionProcessor interface {
	Process(ctx context.Context, batch navigation.PerceptionBatch) (navigation.PerceptionOutcome, error)
}

// NavHandler handles navigation endpoints.
type NavHandler struct {
	nav    Navigator
	bridge PerceptionProcessor
	stream http.Handler
	logger *slog.Logger
}

// NewNavHandler creates a navigation handler. stream serves the WebSocket
// upgrade and may be nil.
func NewNavHandler(nav Navigator, bridge PerceptionProcessor, stream http.Handler, logger *slog.Logger) *NavHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NavHandler{nav: nav, bridge: bridge, stream: stream, logger: logger}
}

// RegisterRoutes registers navigation routes.
func (h *NavHandler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/nav", func(r chi.Router) {
		if h.stream != nil {
			r.Get("/stream", h.stream.ServeHTTP)
		}
		r.Post("/start", h.Start)
		r.Get("/trips", h.Trips)
		r.Post("/perception/batch", h.PerceptionBatch)
		r.Get("/{navSessionID}", h.Status)
		r.Post("/{navSessionID}/cancel", h.Cancel)
	})
}

// Requests carry no user id; the caller is whoever the identity middleware
// resolved, so trips started and listed by one client always match.
type startRequest struct {
	Origin      *domain.Point `json:"origin"`
	Destination *domain.Point `json:"destination"`
}

type startResponse struct {
	Success      bool                 `json:"success"`
	NavSessionID string               `json:"navSessionId"`
	Routes       []domain.RouteOption `json:"routes"`
	Message      string               `json:"message"`
	WsURL        string               `json:"wsUrl"`
	AudioURL     string               `json:"audioUrl"`
}

// Start plans routes and opens a navigation session.
func (h *NavHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Destination == nil {
		Error(w, http.StatusBadRequest, "destination is required (lat/lng)")
		return
	}
	res, err := h.nav.Start(r.Context(), navigation.StartRequest{
		UserID:      identity.UserIDFromContext(r.Context()),
		Origin:      req.Origin,
		Destination: *req.Destination,
	})
	if err != nil {
		h.writeNavError(w, err)
		return
	}

	routes := res.Routes
	if routes == nil {
		routes = []domain.RouteOption{}
	}
	JSON(w, http.StatusOK, startResponse{
		Success:      true,
		NavSessionID: res.NavSessionID,
		Routes:       routes,
		Message:      res.Message,
		WsURL:        streamURL(r, res.NavSessionID),
		AudioURL:     res.AudioURL,
	})
}

// Cancel stops a navigation session.
func (h *NavHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "navSessionID")
	if err := h.nav.Cancel(r.Context(), id); err != nil {
		h.writeNavError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"navSessionId": id,
		"state":        domain.NavStateCancelled,
	})
}

// Status reports a navigation session's progress.
func (h *NavHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.nav.Status(chi.URLParam(r, "navSessionID"))
	if err != nil {
		h.writeNavError(w, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// Trips lists the caller's journaled trips.
func (h *NavHandler) Trips(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	trips, err := h.nav.Trips(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Failed to list trips", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list trips")
		return
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "trips": trips})
}

type perceptionRequest struct {
	NavSessionID string        `json:"navSessionId"`
	Images       []string      `json:"images"`
	Location     *domain.Point `json:"location"`
}

type perceptionResponse struct {
	Success       bool              `json:"success"`
	Obstacles     []domain.Obstacle `json:"obstacles"`
	RoadCondition string            `json:"roadCondition"`
	SafetyLevel   int               `json:"safetyLevel"`
	Guidance      string            `json:"guidance"`
	AudioURL      string            `json:"audioUrl"`
}

// PerceptionBatch runs obstacle detection on uploaded frames.
func (h *NavHandler) PerceptionBatch(w http.ResponseWriter, r *http.Request) {
	var req perceptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NavSessionID == "" {
		Error(w, http.StatusBadRequest, "navSessionId is required")
		return
	}
	if !h.nav.Exists(req.NavSessionID) {
		h.writeNavError(w, navigation.ErrSessionNotFound)
		return
	}

	out, err := h.bridge.Process(r.Context(), navigation.PerceptionBatch{
		UserID:       identity.UserIDFromContext(r.Context()),
		NavSessionID: req.NavSessionID,
		Images:       req.Images,
		Location:     req.Location,
	})
	if err != nil {
		h.writeNavError(w, err)
		return
	}

	obstacles := out.Obstacles
	if obstacles == nil {
		obstacles = []domain.Obstacle{}
	}
	JSON(w, http.StatusOK, perceptionResponse{
		Success:       true,
		Obstacles:     obstacles,
		RoadCondition: out.RoadCondition,
		SafetyLevel:   out.SafetyLevel,
		Guidance:      out.Guidance,
		AudioURL:      out.AudioURL,
	})
}

func (h *NavHandler) writeNavError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, navigation.ErrOriginRequired), errors.Is(err, perception.ErrTooManyImages):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, navigation.ErrSessionNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, navigation.ErrAlreadyFinished):
		Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Navigation request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// streamURL builds the WebSocket URL for a session, mirroring the request
// scheme (wss behind TLS or a TLS-terminating proxy).
func streamURL(r *http.Request, navSessionID string) string {
	scheme := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     StreamPath,
		RawQuery: url.Values{"navSessionId": {navSessionID}}.Encode(),
	}
	return u.String()
}
