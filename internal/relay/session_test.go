package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/neda-ai/neda/internal/observe"
	"github.com/neda-ai/neda/pkg/audio"
	"github.com/neda-ai/neda/pkg/provider/s2s"
	"github.com/neda-ai/neda/pkg/provider/s2s/mock"
	"github.com/neda-ai/neda/pkg/wire"
)

// sinkEvent records one ClientSink call.
type sinkEvent struct {
	kind        string // "status", "audio", "error"
	state       wire.State
	audio       string
	interrupted bool
	message     string
}

// recordSink is a ClientSink that records calls for inspection.
type recordSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordSink) Status(_ string, state wire.State) {
	r.append(sinkEvent{kind: "status", state: state})
}

func (r *recordSink) AudioOutput(_ string, audio string, interrupted bool) {
	r.append(sinkEvent{kind: "audio", audio: audio, interrupted: interrupted})
}

func (r *recordSink) Error(_ string, message string) {
	r.append(sinkEvent{kind: "error", message: message})
}

func (r *recordSink) append(ev sinkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordSink) snapshot() []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sinkEvent, len(r.events))
	copy(out, r.events)
	return out
}

// waitUntil polls cond until it returns true or the deadline passes.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// testMetrics returns a Metrics instance isolated from the global provider.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func staticInstructions(s string) InstructionSource {
	return InstructionsFunc(func(context.Context) (string, error) { return s, nil })
}

func newTestSession(t *testing.T, p s2s.Provider, sink ClientSink, instr InstructionSource) *Session {
	t.Helper()
	if instr == nil {
		instr = staticInstructions("be helpful")
	}
	return NewSession("sess-1", "mock", p, instr, sink, testMetrics(t), nil)
}

func TestStart_ConnectsAndReportsStatus(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Session: mock.NewSession()}
	sink := &recordSink{}
	sess := newTestSession(t, provider, sink, staticInstructions("context document"))

	if err := sess.Start(context.Background(), "Puck"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d sink events, want 2: %+v", len(events), events)
	}
	if events[0].state != wire.StateConnecting || events[1].state != wire.StateConnected {
		t.Errorf("status sequence = %+v, want connecting then connected", events)
	}

	cfg := provider.LastConfig()
	if cfg.Voice.ID != "Puck" {
		t.Errorf("voice = %q, want Puck", cfg.Voice.ID)
	}
	if cfg.Instructions != "context document" {
		t.Errorf("instructions = %q", cfg.Instructions)
	}
	if cfg.InputSampleRate != audio.CaptureRate {
		t.Errorf("input rate = %d, want %d", cfg.InputSampleRate, audio.CaptureRate)
	}
}

func TestStart_FailClosedOnConnectError(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{ConnectErr: errors.New("quota exceeded")}
	sink := &recordSink{}
	sess := newTestSession(t, provider, sink, nil)

	if err := sess.Start(context.Background(), ""); err == nil {
		t.Fatal("Start succeeded, want error")
	}

	events := sink.snapshot()
	last := events[len(events)-1]
	if last.kind != "status" || last.state != wire.StateError {
		t.Errorf("final sink event = %+v, want error status", last)
	}

	// No upstream was retained: forwarding drops silently.
	if err := sess.Forward(context.Background(), []byte{1, 2}); err != nil {
		t.Errorf("Forward after failed start: %v", err)
	}
}

func TestStart_InstructionFailureSkipsConnect(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	sink := &recordSink{}
	failing := InstructionsFunc(func(context.Context) (string, error) {
		return "", errors.New("database down")
	})
	sess := newTestSession(t, provider, sink, failing)

	if err := sess.Start(context.Background(), ""); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if provider.ConnectCount() != 0 {
		t.Errorf("Connect called %d times, want 0", provider.ConnectCount())
	}
}

func TestStart_ReplacesExistingUpstream(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{NewSessionPerConnect: true}
	sink := &recordSink{}
	sess := newTestSession(t, provider, sink, nil)

	ctx := context.Background()
	if err := sess.Start(ctx, ""); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := sess.Start(ctx, ""); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if provider.ConnectCount() != 2 {
		t.Fatalf("Connect called %d times, want 2", provider.ConnectCount())
	}
	first := provider.Sessions[0]
	second := provider.Sessions[1]
	if !first.Closed() {
		t.Error("first upstream not closed by second start")
	}
	if second.Closed() {
		t.Error("second upstream closed prematurely")
	}

	// The replaced upstream owns no status reporting: after its pump drains
	// there must be no disconnected status while the second upstream lives.
	waitUntil(t, func() bool {
		for _, ev := range sink.snapshot() {
			if ev.state == wire.StateConnected {
				return true
			}
		}
		return false
	})
	for _, ev := range sink.snapshot() {
		if ev.state == wire.StateDisconnected {
			t.Errorf("stale pump emitted disconnected status: %+v", sink.snapshot())
		}
	}
}

func TestForward_SendsFramesUpstream(t *testing.T) {
	t.Parallel()

	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	sink := &recordSink{}
	sess := newTestSession(t, provider, sink, nil)

	ctx := context.Background()
	if err := sess.Start(ctx, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	frame := []byte{0x01, 0x02, 0x03, 0x04}
	if err := sess.Forward(ctx, frame); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if upstream.SendCount() != 1 {
		t.Fatalf("upstream received %d frames, want 1", upstream.SendCount())
	}
	if got := upstream.SendAudioCalls[0].Chunk; string(got) != string(frame) {
		t.Errorf("upstream frame = %v, want %v", got, frame)
	}
}

func TestForward_DropsWithoutUpstream(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	sess := newTestSession(t, &mock.Provider{}, sink, nil)

	if err := sess.Forward(context.Background(), []byte{1}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(sink.snapshot()) != 0 {
		t.Errorf("dropping a frame produced sink events: %+v", sink.snapshot())
	}
}

func TestPump_RelaysAudioAndInterruption(t *testing.T) {
	t.Parallel()

	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	sink := &recordSink{}
	sess := newTestSession(t, provider, sink, nil)

	if err := sess.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pcm := []byte{0x10, 0x20, 0x30}
	upstream.Emit(s2s.Event{Kind: s2s.EventAudio, Audio: pcm})
	upstream.Emit(s2s.Event{Kind: s2s.EventInterrupted})
	upstream.Close()

	waitUntil(t, func() bool {
		for _, ev := range sink.snapshot() {
			if ev.state == wire.StateDisconnected {
				return true
			}
		}
		return false
	})

	var audioEvents []sinkEvent
	for _, ev := range sink.snapshot() {
		if ev.kind == "audio" {
			audioEvents = append(audioEvents, ev)
		}
	}
	if len(audioEvents) != 2 {
		t.Fatalf("got %d audio events, want 2: %+v", len(audioEvents), audioEvents)
	}
	if audioEvents[0].audio != audio.EncodeTransport(pcm) || audioEvents[0].interrupted {
		t.Errorf("first audio event = %+v", audioEvents[0])
	}
	if !audioEvents[1].interrupted || audioEvents[1].audio != "" {
		t.Errorf("interruption event = %+v", audioEvents[1])
	}
}

func TestPump_UpstreamFailureReportsError(t *testing.T) {
	t.Parallel()

	upstream := mock.NewSession()
	upstream.ErrVal = errors.New("stream reset")
	provider := &mock.Provider{Session: upstream}
	sink := &recordSink{}
	sess := newTestSession(t, provider, sink, nil)

	if err := sess.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	upstream.Close()

	waitUntil(t, func() bool {
		for _, ev := range sink.snapshot() {
			if ev.state == wire.StateError {
				return true
			}
		}
		return false
	})
	foundErr := false
	for _, ev := range sink.snapshot() {
		if ev.kind == "error" && ev.message == "stream reset" {
			foundErr = true
		}
	}
	if !foundErr {
		t.Errorf("error message not forwarded: %+v", sink.snapshot())
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	upstream := mock.NewSession()
	provider := &mock.Provider{Session: upstream}
	sess := newTestSession(t, provider, &recordSink{}, nil)

	if err := sess.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Close()
	sess.Close()
	if !upstream.Closed() {
		t.Error("upstream not closed")
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	provider := &mock.Provider{NewSessionPerConnect: true}
	sink := &recordSink{}

	mk := func(id string) func() *Session {
		return func() *Session {
			return NewSession(id, "mock", provider, staticInstructions(""), sink, testMetrics(t), nil)
		}
	}

	a := reg.GetOrCreate("a", mk("a"))
	if got := reg.GetOrCreate("a", mk("a")); got != a {
		t.Error("GetOrCreate created a duplicate session")
	}
	reg.GetOrCreate("b", mk("b"))
	if reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reg.Len())
	}

	ctx := context.Background()
	if err := a.Start(ctx, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reg.CloseAll()
	if reg.Len() != 0 {
		t.Errorf("Len after CloseAll = %d, want 0", reg.Len())
	}
	if !provider.Sessions[0].Closed() {
		t.Error("CloseAll did not close the session upstream")
	}
	if reg.Get("a") != nil {
		t.Error("session still registered after CloseAll")
	}
}
