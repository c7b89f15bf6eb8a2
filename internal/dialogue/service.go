package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/session"
	"github.com/ashureev/wayfinder/internal/speech"
)

// ErrEmptyText is returned for a turn without any user text.
var ErrEmptyText = errors.New("text is required")

// TurnRequest is one user utterance.
type TurnRequest struct {
	UserID    string
	SessionID string
	Text      string
	Location  *domain.Point
}

// TurnResult is the assistant's answer to a TurnRequest.
type TurnResult struct {
	SessionID string          `json:"sessionId"`
	Message   string          `json:"message"`
	AudioURL  string          `json:"audioUrl"`
	NavState  domain.NavState `json:"navState"`
	Data      map[string]any  `json:"data"`
}

// Service keeps conversation state and produces spoken replies.
type Service struct {
	store     *session.Store
	converser Converser
	tts       speech.Synthesizer
	logger    *slog.Logger
}

// NewService creates a dialogue service.
func NewService(store *session.Store, converser Converser, tts speech.Synthesizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tts == nil {
		tts = speech.Mock{}
	}
	return &Service{store: store, converser: converser, tts: tts, logger: logger}
}

// Turn runs one exchange and records both sides in the conversation history.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return TurnResult{}, ErrEmptyText
	}
	id := req.SessionID
	if id == "" {
		id = "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	s.store.GetOrCreateConversation(id, req.UserID)
	if req.Location != nil {
		s.store.SetContext(id, ContextLastLocation, *req.Location)
	}
	conv, _ := s.store.GetConversation(id)

	reply, err := s.converser.Converse(ctx, text, conv.RecentTurns(HistoryWindow), conv.Context)
	if err != nil {
		return TurnResult{}, err
	}
	s.store.AppendTurns(id,
		domain.Turn{Role: domain.RoleUser, Content: text},
		domain.Turn{Role: domain.RoleAssistant, Content: reply.Text},
	)

	audio, err := s.tts.Synthesize(ctx, reply.Text, id)
	if err != nil {
		s.logger.Warn("Reply synthesis failed", "conversation_id", id, "error", err)
	}

	s.logger.Debug("Dialogue turn", "conversation_id", id, "user_id", req.UserID, "nav_state", reply.NavState)
	return TurnResult{
		SessionID: id,
		Message:   reply.Text,
		AudioURL:  audio,
		NavState:  reply.NavState,
		Data:      reply.Data,
	}, nil
}
