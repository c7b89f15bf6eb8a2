package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/wayfinder/internal/metrics"
)

// ErrNotConnected is returned by Send when the session has no live channel.
var ErrNotConnected = errors.New("no live connection for session")

// Channel is an outbound transport for one session. Send returns ctx.Err()
// itself, unwrapped, only when ctx ended before anything was written.
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
}

// connection pairs a channel with its sequence counter. Both are created on
// connect and dropped together on disconnect. stop ends the work the owning
// handler runs on behalf of the channel.
type connection struct {
	mu     sync.Mutex
	ch     Channel
	stop   context.CancelFunc
	seq    int64
	closed bool
}

// Registry maps navigation session ids to their live channel. All outbound
// messages for a session pass through Send, which stamps a per-session
// sequence number and serializes writes.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*connection),
		logger: logger,
		now:    time.Now,
	}
}

// Connect registers ch for sessionID with a fresh sequence counter. A channel
// already registered for the session is closed and replaced.
func (r *Registry) Connect(sessionID string, ch Channel) {
	r.Bind(sessionID, ch, nil)
}

// Bind is Connect for a channel whose handler runs its own loops. When the
// channel is replaced, stop is called before the replacement becomes visible,
// so a superseded loop can never write to the new channel.
func (r *Registry) Bind(sessionID string, ch Channel, stop context.CancelFunc) {
	r.mu.Lock()
	existing := r.conns[sessionID]
	if existing != nil && existing.stop != nil && existing.ch != ch {
		existing.stop()
	}
	r.conns[sessionID] = &connection{ch: ch, stop: stop}
	r.mu.Unlock()

	if existing != nil && existing.ch != ch {
		existing.markClosed()
		_ = existing.ch.Close("session replaced")
	}
	metrics.ActiveConnections.Set(float64(r.Count()))
	r.logger.Info("Stream connected", "nav_session_id", sessionID)
}

// Disconnect removes the session's channel and counter. It is idempotent.
func (r *Registry) Disconnect(sessionID string) {
	r.remove(sessionID, nil)
}

// DisconnectChannel removes the session only while ch is still the registered
// channel, so a stale handler cannot evict its replacement.
func (r *Registry) DisconnectChannel(sessionID string, ch Channel) {
	r.remove(sessionID, ch)
}

func (r *Registry) remove(sessionID string, ch Channel) {
	r.mu.Lock()
	conn, ok := r.conns[sessionID]
	if !ok || (ch != nil && conn.ch != ch) {
		r.mu.Unlock()
		return
	}
	delete(r.conns, sessionID)
	r.mu.Unlock()

	conn.markClosed()
	metrics.ActiveConnections.Set(float64(r.Count()))
	r.logger.Info("Stream disconnected", "nav_session_id", sessionID)
}

func (r *Registry) removeIfSame(sessionID string, conn *connection) {
	r.mu.Lock()
	if r.conns[sessionID] == conn {
		delete(r.conns, sessionID)
	}
	r.mu.Unlock()
	metrics.ActiveConnections.Set(float64(r.Count()))
}

// Connected reports whether sessionID has a live channel.
func (r *Registry) Connected(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[sessionID]
	return ok
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send stamps the next sequence number on an envelope and writes it to the
// session's channel. It returns ErrNotConnected if the session has no channel.
// A transport error disconnects the session. A caller whose ctx ends before
// the frame is written gets ctx.Err() and the session stays connected.
func (r *Registry) Send(ctx context.Context, sessionID, msgType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}

	r.mu.RLock()
	conn := r.conns[sessionID]
	r.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	env := Envelope{
		Type:      msgType,
		Seq:       conn.seq,
		Timestamp: r.now().UnixMilli(),
		Data:      payload,
	}
	conn.seq++

	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := conn.ch.Send(ctx, frame); err != nil {
		//nolint:errorlint // Channels return ctx.Err() unwrapped only when nothing was written.
		if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
			conn.seq--
			r.logger.Debug("Stream send abandoned by caller", "nav_session_id", sessionID, "type", msgType)
			return fmt.Errorf("send %s: %w", msgType, err)
		}
		conn.closed = true
		r.removeIfSame(sessionID, conn)
		metrics.SendFailures.WithLabelValues(msgType).Inc()
		r.logger.Warn("Stream send failed, session disconnected",
			"nav_session_id", sessionID,
			"type", msgType,
			"seq", env.Seq,
			"error", err,
		)
		return fmt.Errorf("send %s: %w", msgType, err)
	}

	metrics.MessagesSent.WithLabelValues(msgType).Inc()
	return nil
}

func (c *connection) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
