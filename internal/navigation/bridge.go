package navigation

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/metrics"
	"github.com/ashureev/wayfinder/internal/perception"
	"github.com/ashureev/wayfinder/internal/realtime"
	"github.com/ashureev/wayfinder/internal/session"
	"github.com/ashureev/wayfinder/internal/speech"
)

// Advisor produces walking advice for the current surroundings.
type Advisor interface {
	Advise(ctx context.Context, obstacles []domain.Obstacle, loc *domain.Point) (string, error)
}

// PerceptionBatch is one camera upload for a session.
type PerceptionBatch struct {
	UserID       string
	NavSessionID string
	Images       []string
	Location     *domain.Point
}

// PerceptionOutcome is the processed result of a batch.
type PerceptionOutcome struct {
	Obstacles     []domain.Obstacle
	RoadCondition string
	SafetyLevel   int
	Guidance      string
	AudioURL      string
}

// Bridge folds perception results into the session and pushes obstacle
// warnings onto the session's stream.
type Bridge struct {
	store    *session.Store
	sender   Sender
	detector perception.Detector
	tts      speech.Synthesizer
	advisor  Advisor
	logger   *slog.Logger
	now      func() time.Time
}

// NewBridge creates a perception bridge. advisor may be nil.
func NewBridge(store *session.Store, sender Sender, detector perception.Detector, tts speech.Synthesizer, advisor Advisor, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		store:    store,
		sender:   sender,
		detector: detector,
		tts:      tts,
		advisor:  advisor,
		logger:   logger,
		now:      time.Now,
	}
}

// Process runs detection on a batch, records the snapshot on the session and
// pushes an OBSTACLE_WARNING when anything was found. Collaborator failures
// degrade to an empty or deterministic result; only invalid input is an error.
func (b *Bridge) Process(ctx context.Context, batch PerceptionBatch) (PerceptionOutcome, error) {
	if len(batch.Images) > perception.MaxImages {
		return PerceptionOutcome{}, perception.ErrTooManyImages
	}

	outcome := "ok"
	results, err := b.detector.DetectBatch(ctx, batch.Images)
	if err != nil {
		outcome = "detector_failed"
		b.logger.Warn("Obstacle detection failed", "collaborator", "detector", "nav_session_id", batch.NavSessionID, "error", err)
		results = nil
	}

	obstacles := perception.Aggregate(results)
	out := PerceptionOutcome{
		Obstacles:     obstacles,
		RoadCondition: perception.RoadCondition(obstacles),
		SafetyLevel:   perception.SafetyLevel(obstacles),
		Guidance:      b.advise(ctx, batch, obstacles),
	}

	warning := perception.WarningText(obstacles)
	if warning != "" && b.tts != nil {
		url, err := b.tts.Synthesize(ctx, warning, batch.NavSessionID)
		if err != nil {
			b.logger.Warn("Warning audio unavailable", "collaborator", "speech", "nav_session_id", batch.NavSessionID, "error", err)
		}
		out.AudioURL = url
	}

	b.store.UpdatePerception(batch.NavSessionID, domain.PerceptionSnapshot{
		At:              b.now(),
		SafetyLevel:     out.SafetyLevel,
		RoadCondition:   out.RoadCondition,
		Guidance:        out.Guidance,
		Obstacles:       obstacles,
		WarningText:     warning,
		WarningAudioURL: out.AudioURL,
	})

	if len(obstacles) > 0 {
		if err := b.sender.Send(ctx, batch.NavSessionID, realtime.TypeObstacleWarning, realtime.ObstacleWarning{
			Text:        warning,
			AudioURL:    realtime.AudioRef(out.AudioURL),
			SafetyLevel: out.SafetyLevel,
			Obstacles:   obstacles,
		}); err != nil {
			b.logger.Debug("Obstacle warning not delivered", "nav_session_id", batch.NavSessionID, "error", err)
		}
	}

	metrics.PerceptionBatches.WithLabelValues(outcome).Inc()
	return out, nil
}

func (b *Bridge) advise(ctx context.Context, batch PerceptionBatch, obstacles []domain.Obstacle) string {
	if b.advisor == nil {
		return perception.Guidance(obstacles)
	}
	text, err := b.advisor.Advise(ctx, obstacles, batch.Location)
	if err != nil || text == "" {
		b.logger.Warn("Guidance degraded to default text", "collaborator", "dialogue", "nav_session_id", batch.NavSessionID, "error", err)
		return perception.Guidance(obstacles)
	}
	return text
}
