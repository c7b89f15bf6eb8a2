package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/wayfinder/internal/domain"
)

const systemPrompt = `You are a walking navigation assistant for elderly and visually impaired people.
Your job is to:
1. Understand where the user wants to go.
2. Ask politely for anything missing, such as the destination.
3. Once the destination is clear and the user agrees, append a fenced json block
   with {"destination": {"lat": ..., "lng": ...}, "confirmed": true}.
Keep replies short, friendly and free of jargon. Be patient and repeat when asked.`

const guidancePrompt = `You give one short spoken sentence of walking advice to a visually impaired
person based on detected obstacles. Mention the nearest hazard and what to do. No lists.`

// OpenAIConfig configures the chat model.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAI converses through an OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAI creates a chat client.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("dialogue: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
		logger.Warn("LLM_MODEL not set, defaulting", "model", model)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	logger.Info("Initializing dialogue model", "model", model, "base_url", oc.BaseURL)
	return &OpenAI{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// Converse implements Converser.
func (o *OpenAI) Converse(ctx context.Context, text string, history []domain.Turn, convCtx map[string]any) (Reply, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}
	if loc, ok := lastLocation(convCtx); ok {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem,
			Content: fmt.Sprintf("The user's current position is lat=%.6f, lng=%.6f. Use it as the origin; "+
				"do not ask where the user is.", loc.Lat, loc.Lng),
		})
	}
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	content, err := o.complete(ctx, msgs)
	if err != nil {
		return Reply{}, err
	}
	return ParseReply(content), nil
}

// Advise produces walking advice for the detected obstacles.
func (o *OpenAI) Advise(ctx context.Context, obstacles []domain.Obstacle, loc *domain.Point) (string, error) {
	var b strings.Builder
	if len(obstacles) == 0 {
		b.WriteString("No obstacles detected.")
	}
	for _, ob := range obstacles {
		fmt.Fprintf(&b, "- %s, %.1f m, %s, confidence %.2f\n", ob.Type, ob.Distance, ob.Direction, ob.Confidence)
	}
	if loc != nil {
		fmt.Fprintf(&b, "Position: lat=%.6f, lng=%.6f\n", loc.Lat, loc.Lng)
	}

	content, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: guidancePrompt},
		{Role: openai.ChatMessageRoleUser, Content: b.String()},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (o *OpenAI) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: o.temperature,
	}
	if o.maxTokens > 0 {
		req.MaxCompletionTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	o.logger.Debug("Received chat completion", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Fallback answers with the rule-based mock when the primary converser fails.
type Fallback struct {
	primary Converser
	logger  *slog.Logger
}

// WithFallback wraps primary.
func WithFallback(primary Converser, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, logger: logger}
}

// Converse implements Converser. It never returns an error.
func (f *Fallback) Converse(ctx context.Context, text string, history []domain.Turn, convCtx map[string]any) (Reply, error) {
	r, err := f.primary.Converse(ctx, text, history, convCtx)
	if err == nil && r.Text != "" {
		return r, nil
	}
	f.logger.Warn("Dialogue degraded to rule-based reply", "collaborator", "dialogue", "error", err)
	return Mock{}.Converse(ctx, text, history, convCtx)
}
