package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/wayfinder/internal/dialogue"
	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/identity"
)

// Conversation runs dialogue turns.
type Conversation interface {
	Turn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnResult, error)
}

// VoiceHandler handles the voice dialogue endpoint.
type VoiceHandler struct {
	conv   Conversation
	logger *slog.Logger
}

// NewVoiceHandler creates a voice handler.
func NewVoiceHandler(conv Conversation, logger *slog.Logger) *VoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceHandler{conv: conv, logger: logger}
}

// RegisterRoutes registers voice routes.
func (h *VoiceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/voice/text", h.Text)
}

type voiceRequest struct {
	UserID    string        `json:"userId"`
	SessionID string        `json:"sessionId"`
	Text      string        `json:"text"`
	Location  *domain.Point `json:"location"`
}

type voiceResponse struct {
	Success bool `json:"success"`
	dialogue.TurnResult
}

// Text answers one typed or transcribed utterance.
func (h *VoiceHandler) Text(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = identity.UserIDFromContext(r.Context())
	}

	res, err := h.conv.Turn(r.Context(), dialogue.TurnRequest{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Text:      req.Text,
		Location:  req.Location,
	})
	if errors.Is(err, dialogue.ErrEmptyText) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Dialogue turn failed", "user_id", req.UserID, "error", err)
		Error(w, http.StatusBadGateway, "dialogue unavailable")
		return
	}
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	JSON(w, http.StatusOK, voiceResponse{Success: true, TurnResult: res})
}
