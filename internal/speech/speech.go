// Package speech turns prompt text into playable audio handles.
package speech

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"

	"github.com/ashureev/wayfinder/internal/metrics"
)

// AudioPrefix is the URL prefix under which audio files are served.
const AudioPrefix = "/audio/"

// Synthesizer converts text to an audio handle (a URL path). An empty handle
// means no audio is available.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, sessionID string) (string, error)
}

// MockURL returns the placeholder handle for text.
func MockURL(text string) string {
	sum := md5.Sum([]byte(text))
	return AudioPrefix + "mock_" + hex.EncodeToString(sum[:])[:8] + ".wav"
}

// Mock returns placeholder handles without producing audio.
type Mock struct{}

// Synthesize implements Synthesizer.
func (Mock) Synthesize(_ context.Context, text, _ string) (string, error) {
	if text == "" {
		return "", nil
	}
	return MockURL(text), nil
}

type speechClient interface {
	CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// OpenAIConfig configures the OpenAI-compatible speech provider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Voice     string
	OutputDir string
}

// OpenAI synthesizes speech through an OpenAI-compatible /audio/speech
// endpoint and stores the result under OutputDir. Files are keyed by text and
// session, so repeated prompts are served from disk.
type OpenAI struct {
	client    speechClient
	model     string
	voice     string
	outputDir string
	group     singleflight.Group
}

// NewOpenAI creates the provider and its output directory.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("speech: api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newOpenAI(openai.NewClientWithConfig(oc), cfg)
}

func newOpenAI(client speechClient, cfg OpenAIConfig) (*OpenAI, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}
	voice := cfg.Voice
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	slog.Info("Initializing speech provider", "model", model, "voice", voice, "output_dir", cfg.OutputDir)
	return &OpenAI{
		client:    client,
		model:     model,
		voice:     voice,
		outputDir: cfg.OutputDir,
	}, nil
}

// Filename returns the on-disk name for text spoken in sessionID.
func Filename(text, sessionID string) string {
	sum := md5.Sum([]byte(text + sessionID))
	return hex.EncodeToString(sum[:]) + ".mp3"
}

// Synthesize implements Synthesizer.
func (o *OpenAI) Synthesize(ctx context.Context, text, sessionID string) (string, error) {
	if text == "" {
		return "", nil
	}
	name := Filename(text, sessionID)
	path := filepath.Join(o.outputDir, name)

	if _, err := os.Stat(path); err == nil {
		return AudioPrefix + name, nil
	}

	_, err, _ := o.group.Do(name, func() (any, error) {
		if _, err := os.Stat(path); err == nil {
			return nil, nil
		}
		return nil, o.render(ctx, text, path)
	})
	if err != nil {
		return "", err
	}
	return AudioPrefix + name, nil
}

func (o *OpenAI) render(ctx context.Context, text, path string) error {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	tmp, err := os.CreateTemp(o.outputDir, ".speech-*")
	if err != nil {
		return fmt.Errorf("create temp audio: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close audio: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	return nil
}

// Fallback wraps a provider and substitutes the placeholder handle when it
// fails, so callers always get some audio handle for non-empty text.
type Fallback struct {
	primary Synthesizer
	logger  *slog.Logger
}

// WithFallback wraps primary.
func WithFallback(primary Synthesizer, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, logger: logger}
}

// Synthesize implements Synthesizer. It never returns an error.
func (f *Fallback) Synthesize(ctx context.Context, text, sessionID string) (string, error) {
	if text == "" {
		return "", nil
	}
	url, err := f.primary.Synthesize(ctx, text, sessionID)
	if err == nil && url != "" {
		metrics.SpeechRequests.WithLabelValues("ok").Inc()
		return url, nil
	}
	metrics.SpeechRequests.WithLabelValues("fallback").Inc()
	f.logger.Warn("Speech synthesis degraded to placeholder", "collaborator", "speech", "nav_session_id", sessionID, "error", err)
	return MockURL(text), nil
}
