package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/wayfinder/internal/metrics"
)

type fakeSpeechClient struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	last  openai.CreateSpeechRequest
	mu    sync.Mutex
}

func (c *fakeSpeechClient) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.last = req
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return openai.RawResponse{}, c.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader("ID3-audio:" + req.Input))}, nil
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, string, string) (string, error) {
	return "", errors.New("provider down")
}

func TestMockURLIsDeterministic(t *testing.T) {
	t.Parallel()

	a, _ := Mock{}.Synthesize(context.Background(), "Turn left", "s1")
	b, _ := Mock{}.Synthesize(context.Background(), "Turn left", "s2")
	if a != b {
		t.Fatalf("expected same handle for same text, got %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "/audio/mock_") || !strings.HasSuffix(a, ".wav") || len(a) != len("/audio/mock_")+8+len(".wav") {
		t.Fatalf("unexpected mock handle %q", a)
	}
	if empty, _ := (Mock{}).Synthesize(context.Background(), "", "s1"); empty != "" {
		t.Fatalf("expected no handle for empty text, got %q", empty)
	}
}

func TestOpenAIWritesAndCaches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client := &fakeSpeechClient{}
	s, err := newOpenAI(client, OpenAIConfig{OutputDir: dir, Voice: "nova"})
	if err != nil {
		t.Fatalf("newOpenAI failed: %v", err)
	}

	url, err := s.Synthesize(context.Background(), "Walk straight", "nav-1")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	want := "/audio/" + Filename("Walk straight", "nav-1")
	if url != want {
		t.Fatalf("expected %s, got %s", want, url)
	}
	data, err := os.ReadFile(filepath.Join(dir, Filename("Walk straight", "nav-1")))
	if err != nil {
		t.Fatalf("expected audio file: %v", err)
	}
	if string(data) != "ID3-audio:Walk straight" {
		t.Fatalf("unexpected audio content %q", data)
	}
	if client.last.Voice != "nova" || client.last.Model != openai.TTSModel1 || client.last.ResponseFormat != openai.SpeechResponseFormatMp3 {
		t.Fatalf("unexpected request: %+v", client.last)
	}

	if _, err := s.Synthesize(context.Background(), "Walk straight", "nav-1"); err != nil {
		t.Fatalf("second synthesize failed: %v", err)
	}
	if got := client.calls.Load(); got != 1 {
		t.Fatalf("expected cached second call, provider called %d times", got)
	}
}

func TestOpenAIDeduplicatesConcurrentCalls(t *testing.T) {
	t.Parallel()

	client := &fakeSpeechClient{delay: 20 * time.Millisecond}
	s, err := newOpenAI(client, OpenAIConfig{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("newOpenAI failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Synthesize(context.Background(), "Stairs ahead", "nav-1"); err != nil {
				t.Errorf("synthesize failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := client.calls.Load(); got != 1 {
		t.Fatalf("expected one provider call, got %d", got)
	}
}

func TestOpenAIProviderError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := newOpenAI(&fakeSpeechClient{err: errors.New("quota exceeded")}, OpenAIConfig{OutputDir: dir})
	if err != nil {
		t.Fatalf("newOpenAI failed: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "hello", "nav-1"); err == nil {
		t.Fatal("expected provider error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files after failure, got %d", len(entries))
	}
}

func TestFallbackSubstitutesPlaceholder(t *testing.T) {
	t.Parallel()

	before := testutil.ToFloat64(metrics.SpeechRequests.WithLabelValues("fallback"))

	f := WithFallback(failingSynth{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	url, err := f.Synthesize(context.Background(), "Arrived", "nav-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if url != MockURL("Arrived") {
		t.Fatalf("expected placeholder handle, got %s", url)
	}
	if after := testutil.ToFloat64(metrics.SpeechRequests.WithLabelValues("fallback")); after < before+1 {
		t.Fatalf("expected fallback counter to increase, %v -> %v", before, after)
	}
}
