package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeChannel struct {
	mu      sync.Mutex
	frames  [][]byte
	failErr error
	closed  bool
}

func (c *fakeChannel) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("invalid frame %s: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSendWithoutConnection(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	err := r.Send(context.Background(), "nav-1", TypeHeartbeat, Empty{})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendAssignsSequentialSeq(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ch := &fakeChannel{}
	r.Connect("nav-1", ch)

	ctx := context.Background()
	if err := r.Send(ctx, "nav-1", TypeNavStarted, NavStarted{Message: "hi"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	audio := "/audio/a.mp3"
	if err := r.Send(ctx, "nav-1", TypeNavInstruction, Instruction{Text: "Turn left", AudioURL: &audio, RemainingDistance: 120, RemainingTime: 100}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	envs := ch.envelopes(t)
	if len(envs) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(envs))
	}
	if envs[0].Seq != 0 || envs[1].Seq != 1 {
		t.Fatalf("expected seq 0,1, got %d,%d", envs[0].Seq, envs[1].Seq)
	}
	if envs[0].Type != TypeNavStarted || envs[1].Type != TypeNavInstruction {
		t.Fatalf("unexpected types: %s, %s", envs[0].Type, envs[1].Type)
	}
	if envs[1].Timestamp <= 0 {
		t.Fatalf("expected timestamp, got %d", envs[1].Timestamp)
	}

	var ins Instruction
	if err := json.Unmarshal(envs[1].Data, &ins); err != nil {
		t.Fatalf("decode instruction: %v", err)
	}
	if ins.Text != "Turn left" || ins.AudioURL == nil || *ins.AudioURL != audio || ins.RemainingDistance != 120 {
		t.Fatalf("unexpected instruction payload: %+v", ins)
	}
}

func TestNullAudioURLOnWire(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ch := &fakeChannel{}
	r.Connect("nav-1", ch)
	if err := r.Send(context.Background(), "nav-1", TypeNavInstruction, Instruction{Text: "x", AudioURL: AudioRef("")}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(ch.envelopes(t)[0].Data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := raw["audioUrl"]
	if !ok || v != nil {
		t.Fatalf("expected audioUrl to be null, got %v (present=%v)", v, ok)
	}
}

func TestConcurrentSendsAreOrdered(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ch := &fakeChannel{}
	r.Connect("nav-1", ch)

	const senders, perSender = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				if err := r.Send(context.Background(), "nav-1", TypeHeartbeat, Empty{}); err != nil {
					t.Errorf("send failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	envs := ch.envelopes(t)
	if len(envs) != senders*perSender {
		t.Fatalf("expected %d frames, got %d", senders*perSender, len(envs))
	}
	for i, env := range envs {
		if env.Seq != int64(i) {
			t.Fatalf("frame %d carries seq %d", i, env.Seq)
		}
	}
}

func TestSendFailureDisconnects(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ch := &fakeChannel{failErr: errors.New("broken pipe")}
	r.Connect("nav-1", ch)

	if err := r.Send(context.Background(), "nav-1", TypeHeartbeat, Empty{}); err == nil {
		t.Fatal("expected transport error")
	}
	if r.Connected("nav-1") {
		t.Fatal("expected session to be disconnected after send failure")
	}
	if err := r.Send(context.Background(), "nav-1", TypeHeartbeat, Empty{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestReconnectResetsSeqAndClosesOld(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	first := &fakeChannel{}
	r.Connect("nav-1", first)
	for i := 0; i < 3; i++ {
		_ = r.Send(context.Background(), "nav-1", TypeHeartbeat, Empty{})
	}

	second := &fakeChannel{}
	r.Connect("nav-1", second)
	if !first.closed {
		t.Fatal("expected replaced channel to be closed")
	}
	if err := r.Send(context.Background(), "nav-1", TypeHeartbeat, Empty{}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if envs := second.envelopes(t); len(envs) != 1 || envs[0].Seq != 0 {
		t.Fatalf("expected seq to restart at 0, got %+v", envs)
	}

	// A stale handler must not evict the replacement.
	r.DisconnectChannel("nav-1", first)
	if !r.Connected("nav-1") {
		t.Fatal("expected replacement channel to remain registered")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Connect("nav-1", &fakeChannel{})
	r.Disconnect("nav-1")
	r.Disconnect("nav-1")
	r.Disconnect("never-connected")
	if r.Count() != 0 {
		t.Fatalf("expected no connections, got %d", r.Count())
	}
}

func TestSendAfterCancel(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ch := &fakeChannel{}
	r.Connect("nav-1", ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Send(ctx, "nav-1", TypeHeartbeat, Empty{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(ch.envelopes(t)) != 0 {
		t.Fatal("expected nothing to be written")
	}
}

// cancelingChannel ends the caller's context the moment a write starts and
// reports it without writing, like a websocket whose caller gave up.
type cancelingChannel struct {
	fakeChannel
	cancel context.CancelFunc
}

func (c *cancelingChannel) Send(ctx context.Context, data []byte) error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		return ctx.Err()
	}
	return c.fakeChannel.Send(ctx, data)
}

func TestCallerCancelWhileWaitingKeepsConnection(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ch := &fakeChannel{}
	r.Connect("nav-1", ch)

	// Hold the write lock as a concurrent writer would.
	conn := r.conns["nav-1"]
	conn.mu.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- r.Send(ctx, "nav-1", TypeObstacleWarning, Empty{})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	conn.mu.Unlock()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !r.Connected("nav-1") {
		t.Fatal("expected session to stay connected after caller cancel")
	}
	if err := r.Send(context.Background(), "nav-1", TypeNavInstruction, Instruction{Text: "Go straight"}); err != nil {
		t.Fatalf("send after cancel failed: %v", err)
	}
	if envs := ch.envelopes(t); len(envs) != 1 || envs[0].Seq != 0 {
		t.Fatalf("expected one frame with seq 0, got %+v", envs)
	}
}

func TestCallerCancelDuringWriteKeepsConnection(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ch := &cancelingChannel{cancel: cancel}
	r.Connect("nav-1", ch)

	if err := r.Send(ctx, "nav-1", TypeObstacleWarning, Empty{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !r.Connected("nav-1") {
		t.Fatal("expected session to stay connected after caller cancel")
	}
	if err := r.Send(context.Background(), "nav-1", TypeHeartbeat, Empty{}); err != nil {
		t.Fatalf("send after cancel failed: %v", err)
	}
	if envs := ch.envelopes(t); len(envs) != 1 || envs[0].Seq != 0 {
		t.Fatalf("expected abandoned frame not to consume a seq, got %+v", envs)
	}
}

func TestBindStopsReplacedHandler(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	oldCtx, oldStop := context.WithCancel(context.Background())
	defer oldStop()
	first := &fakeChannel{}
	r.Bind("nav-1", first, oldStop)

	newCtx, newStop := context.WithCancel(context.Background())
	defer newStop()
	second := &fakeChannel{}
	r.Bind("nav-1", second, newStop)

	if oldCtx.Err() == nil {
		t.Fatal("expected replaced handler to be stopped before Bind returns")
	}
	if newCtx.Err() != nil {
		t.Fatal("expected replacement handler to keep running")
	}

	// The superseded loop's next push must not reach the new stream.
	if err := r.Send(oldCtx, "nav-1", TypeNavInstruction, Instruction{Text: "Turn left"}); err == nil {
		t.Fatal("expected superseded sender to be refused")
	}
	if err := r.Send(newCtx, "nav-1", TypeNavInstruction, Instruction{Text: "Turn left"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if envs := second.envelopes(t); len(envs) != 1 || envs[0].Seq != 0 {
		t.Fatalf("expected exactly one frame on the new stream, got %+v", envs)
	}
}
