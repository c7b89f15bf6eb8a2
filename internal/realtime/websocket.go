package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/wayfinder/internal/domain"
)

const (
	// DefaultHeartbeatInterval is the inbound silence after which a HEARTBEAT is pushed.
	DefaultHeartbeatInterval = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// wsChannel adapts websocket.Conn to Channel. Writes use their own deadline
// so a cancelled caller does not tear down the socket mid-frame.
type wsChannel struct {
	conn *websocket.Conn
}

// NewWebSocketChannel wraps a websocket connection as a Channel.
func NewWebSocketChannel(conn *websocket.Conn) Channel {
	return &wsChannel{conn: conn}
}

func (c *wsChannel) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *wsChannel) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// SessionSource is the subset of the session store the stream needs.
type SessionSource interface {
	GetNavigation(id string) (domain.NavigationSession, bool)
	UpdateLocation(id string, p domain.Point) bool
}

// Runner drives instructions for one session until ctx is done.
type Runner interface {
	Run(ctx context.Context, navSessionID string)
}

// StreamHandler upgrades navigation stream requests and owns the lifetime of
// the session's channel and instruction loop.
type StreamHandler struct {
	registry  *Registry
	sessions  SessionSource
	runner    Runner
	origins   []string
	heartbeat time.Duration
}

// NewStreamHandler creates a stream handler. origins are websocket origin
// patterns; nil accepts only same-host requests.
func NewStreamHandler(registry *Registry, sessions SessionSource, runner Runner, origins []string, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &StreamHandler{
		registry:  registry,
		sessions:  sessions,
		runner:    runner,
		origins:   origins,
		heartbeat: heartbeat,
	}
}

// ServeHTTP implements http.Handler for the stream upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("navSessionId")
	if sessionID == "" {
		http.Error(w, "navSessionId is required", http.StatusBadRequest)
		return
	}
	if _, ok := h.sessions.GetNavigation(sessionID); !ok {
		http.Error(w, "navigation session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Error("Failed to accept stream", "error", err, "nav_session_id", sessionID)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	ch := NewWebSocketChannel(ws)
	h.registry.Bind(sessionID, ch, cancel)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		h.registry.DisconnectChannel(sessionID, ch)
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close stream", "error", closeErr, "nav_session_id", sessionID)
		}
	}()

	if err := h.registry.Send(ctx, sessionID, TypeNavStarted, NavStarted{Message: "Navigation stream connected"}); err != nil {
		slog.Warn("Failed to send stream greeting", "error", err, "nav_session_id", sessionID)
		return
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		h.runner.Run(ctx, sessionID)
	}()

	inbound := make(chan []byte)
	go func() {
		defer wg.Done()
		defer close(inbound)
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
					slog.Debug("Stream closed", "nav_session_id", sessionID)
				} else {
					slog.Warn("Stream read error", "error", err, "nav_session_id", sessionID)
				}
				return
			}
			select {
			case inbound <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	h.serve(ctx, sessionID, inbound)
	slog.Info("Navigation stream ended", "nav_session_id", sessionID)
}

func (h *StreamHandler) serve(ctx context.Context, sessionID string, inbound <-chan []byte) {
	timer := time.NewTimer(h.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-inbound:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(h.heartbeat)
			if err := h.handleInbound(ctx, sessionID, data); err != nil {
				return
			}
		case <-timer.C:
			if err := h.registry.Send(ctx, sessionID, TypeHeartbeat, Empty{}); err != nil {
				return
			}
			timer.Reset(h.heartbeat)
		}
	}
}

// handleInbound processes one client message. Malformed and unknown messages
// are ignored; only a failed reply ends the stream.
func (h *StreamHandler) handleInbound(ctx context.Context, sessionID string, data []byte) error {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("Ignoring malformed stream message", "error", err, "nav_session_id", sessionID)
		return nil
	}

	switch msg.Type {
	case TypePing:
		return h.registry.Send(ctx, sessionID, TypePong, Empty{})
	case TypeLocationUpdate:
		p, ok := msg.Location.point()
		if !ok {
			slog.Debug("Ignoring location update without coordinates", "nav_session_id", sessionID)
			return nil
		}
		h.sessions.UpdateLocation(sessionID, p)
	default:
		slog.Debug("Ignoring unknown stream message", "type", msg.Type, "nav_session_id", sessionID)
	}
	return nil
}
