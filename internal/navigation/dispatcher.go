// Package navigation drives guided walks: the per-session instruction loop,
// perception warnings, and session start/cancel.
package navigation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/metrics"
	"github.com/ashureev/wayfinder/internal/realtime"
	"github.com/ashureev/wayfinder/internal/route"
	"github.com/ashureev/wayfinder/internal/session"
	"github.com/ashureev/wayfinder/internal/speech"
)

// Prompt texts pushed by the dispatcher.
const (
	TextStarted         = "Navigation started. I will keep guiding you based on your location."
	TextRouteNotReady   = "Route data is not ready yet, please wait."
	TextWaitingLocation = "I have not received your location yet. Please enable location access and stay outdoors."
	TextArrived         = "You have arrived at your destination. Navigation ended."
	TextContinue        = "Please continue along the route."
)

const (
	DefaultTickInterval   = time.Second
	DefaultNoticeInterval = 4 * time.Second
)

// Sender pushes one message to a session's live channel.
type Sender interface {
	Send(ctx context.Context, sessionID, msgType string, data any) error
}

// DispatcherConfig controls the instruction loop.
type DispatcherConfig struct {
	TickInterval   time.Duration
	NoticeInterval time.Duration
	Tracker        route.Tracker
}

// Dispatcher runs the instruction loop for navigation sessions.
type Dispatcher struct {
	store   *session.Store
	sender  Sender
	tts     speech.Synthesizer
	journal Journal
	cfg     DispatcherConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. journal may be nil.
func NewDispatcher(store *session.Store, sender Sender, tts speech.Synthesizer, journal Journal, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.NoticeInterval <= 0 {
		cfg.NoticeInterval = DefaultNoticeInterval
	}
	if cfg.Tracker.WalkingSpeed <= 0 && cfg.Tracker.ArrivalThreshold <= 0 {
		cfg.Tracker = route.NewTracker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		tts:     tts,
		journal: journal,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// exit reasons, also used as metric labels.
const (
	exitSessionGone = "session_gone"
	exitTerminal    = "terminal_state"
	exitArrived     = "arrived"
	exitSendFailed  = "send_failed"
	exitCancelled   = "cancelled"
)

// loop holds the bookkeeping of one Run invocation.
type loop struct {
	id            string
	lastStep      int
	lastText      string
	lastNotice    time.Time
	lastRemaining int
	lastTime      int
	audio         map[string]string
}

// Run pushes instructions for navSessionID until the session ends, a push
// fails, or ctx is cancelled. It returns without sending if the session is
// absent or already finished.
func (d *Dispatcher) Run(ctx context.Context, navSessionID string) {
	metrics.ActiveDispatchers.Inc()
	defer metrics.ActiveDispatchers.Dec()

	reason := d.run(ctx, navSessionID)
	metrics.DispatcherExits.WithLabelValues(reason).Inc()
	d.logger.Info("Instruction loop stopped", "nav_session_id", navSessionID, "reason", reason)
}

func (d *Dispatcher) run(ctx context.Context, id string) string {
	s, ok := d.store.GetNavigation(id)
	if !ok {
		return exitSessionGone
	}
	if s.State.Terminal() {
		return exitTerminal
	}

	l := &loop{id: id, lastStep: -1, audio: make(map[string]string)}
	if s.Route != nil {
		l.lastRemaining = s.Route.Distance
		l.lastTime = d.cfg.Tracker.EstimateTime(s.Route.Distance)
	}

	if err := d.push(ctx, id, TextStarted, d.speak(ctx, l, TextStarted), 0, 0); err != nil {
		return d.failure(ctx)
	}
	d.logger.Info("Instruction loop started", "nav_session_id", id)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return exitCancelled
		case <-ticker.C:
		}
		if reason, done := d.tick(ctx, l); done {
			return reason
		}
	}
}

// tick runs one iteration. It reports the exit reason when the loop must stop.
func (d *Dispatcher) tick(ctx context.Context, l *loop) (string, bool) {
	s, ok := d.store.GetNavigation(l.id)
	if !ok {
		return exitSessionGone, true
	}
	if s.State.Terminal() {
		return exitTerminal, true
	}

	if s.Route == nil {
		if !d.noticeDue(l) {
			return "", false
		}
		if err := d.push(ctx, l.id, TextRouteNotReady, "", 0, 0); err != nil {
			return d.failure(ctx), true
		}
		return "", false
	}

	if s.CurrentLocation == nil {
		if !d.noticeDue(l) {
			return "", false
		}
		if err := d.push(ctx, l.id, TextWaitingLocation, "", l.lastRemaining, l.lastTime); err != nil {
			return d.failure(ctx), true
		}
		return "", false
	}

	p := d.cfg.Tracker.Track(s.Route, *s.CurrentLocation)
	l.lastRemaining = p.RemainingDistance
	l.lastTime = p.RemainingTime

	if p.Arrived {
		// Only the caller that wins the transition announces arrival.
		if !d.store.UpdateState(l.id, domain.NavStateArrived) {
			return exitTerminal, true
		}
		d.record(ctx, l.id)
		_ = d.push(ctx, l.id, TextArrived, "", 0, 0)
		return exitArrived, true
	}

	text := stepText(s.Route, p.StepIndex)
	if p.StepIndex == l.lastStep && text == l.lastText {
		return "", false
	}
	l.lastStep = p.StepIndex
	l.lastText = text

	if err := d.push(ctx, l.id, text, d.speak(ctx, l, text), p.RemainingDistance, p.RemainingTime); err != nil {
		return d.failure(ctx), true
	}
	return "", false
}

func (d *Dispatcher) noticeDue(l *loop) bool {
	now := d.now()
	if !l.lastNotice.IsZero() && now.Sub(l.lastNotice) < d.cfg.NoticeInterval {
		return false
	}
	l.lastNotice = now
	return true
}

// speak returns the audio handle for text, memoized for the loop's lifetime.
// Failed synthesis yields no audio and is retried on the next emission.
func (d *Dispatcher) speak(ctx context.Context, l *loop, text string) string {
	if d.tts == nil {
		return ""
	}
	if url, ok := l.audio[text]; ok {
		return url
	}
	url, err := d.tts.Synthesize(ctx, text, l.id)
	if err != nil {
		d.logger.Warn("Instruction audio unavailable", "collaborator", "speech", "nav_session_id", l.id, "error", err)
		return ""
	}
	if url != "" {
		l.audio[text] = url
	}
	return url
}

func (d *Dispatcher) push(ctx context.Context, id, text, audio string, remaining, remainingTime int) error {
	return d.sender.Send(ctx, id, realtime.TypeNavInstruction, realtime.Instruction{
		Text:              text,
		AudioURL:          realtime.AudioRef(audio),
		RemainingDistance: remaining,
		RemainingTime:     remainingTime,
	})
}

func (d *Dispatcher) failure(ctx context.Context) string {
	if ctx.Err() != nil {
		return exitCancelled
	}
	return exitSendFailed
}

func (d *Dispatcher) record(ctx context.Context, id string) {
	if d.journal == nil {
		return
	}
	recordTrip(ctx, d.journal, d.store, id, d.logger)
}

func stepText(r *domain.ActiveRoute, idx int) string {
	if idx >= 0 && idx < len(r.Steps) {
		if text := strings.TrimSpace(r.Steps[idx].Instruction); text != "" {
			return text
		}
	}
	return TextContinue
}
