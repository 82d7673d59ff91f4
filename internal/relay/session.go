package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/neda-ai/neda/internal/observe"
	"github.com/neda-ai/neda/pkg/audio"
	"github.com/neda-ai/neda/pkg/provider/s2s"
	"github.com/neda-ai/neda/pkg/wire"
)

// InstructionSource produces the system instruction for one session. It is
// satisfied by *briefing.Assembler; tests supply a fixed string.
type InstructionSource interface {
	Instructions(ctx context.Context) (string, error)
}

// InstructionsFunc adapts a plain function to [InstructionSource].
type InstructionsFunc func(ctx context.Context) (string, error)

func (f InstructionsFunc) Instructions(ctx context.Context) (string, error) { return f(ctx) }

// Session relays one client voice session to the upstream speech provider.
//
// A session holds at most one upstream connection. Start replaces an existing
// upstream after closing it; Forward drops frames while no upstream is open.
// All methods are safe for concurrent use.
type Session struct {
	id           string
	providerName string
	provider     s2s.Provider
	instructions InstructionSource
	sink         ClientSink
	metrics      *observe.Metrics
	log          *slog.Logger

	mu       sync.Mutex
	upstream s2s.SessionHandle
	gen      int
}

// NewSession creates a session for the given client session id. The sink
// receives every server-to-client message produced on behalf of this session.
func NewSession(id, providerName string, provider s2s.Provider, instructions InstructionSource, sink ClientSink, m *observe.Metrics, log *slog.Logger) *Session {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		id:           id,
		providerName: providerName,
		provider:     provider,
		instructions: instructions,
		sink:         sink,
		metrics:      m,
		log:          log.With(slog.String("session_id", id)),
	}
}

// ID returns the client-chosen session id.
func (s *Session) ID() string { return s.id }

// Start connects the upstream provider for this session: it assembles the
// instruction document, opens the S2S session, and begins pumping upstream
// events to the client sink.
//
// If an upstream is already open it is closed first, so a session never holds
// two upstream connections. On failure no upstream is retained and the client
// receives an error followed by an error status.
func (s *Session) Start(ctx context.Context, voice string) error {
	// Replace, never stack. The old pump sees its handle's event channel
	// close and exits without emitting a status for the stale generation.
	s.mu.Lock()
	if s.upstream != nil {
		old := s.upstream
		s.upstream = nil
		s.mu.Unlock()
		if err := old.Close(); err != nil {
			s.log.Warn("closing replaced upstream", slog.String("error", err.Error()))
		}
	} else {
		s.mu.Unlock()
	}

	s.sink.Status(s.id, wire.StateConnecting)

	instr, err := s.instructions.Instructions(ctx)
	if err != nil {
		s.metrics.RecordUpstreamError(ctx, s.providerName, "briefing")
		s.fail(fmt.Errorf("relay: assemble instructions: %w", err))
		return err
	}

	cfg := s2s.SessionConfig{
		Voice:           s2s.VoiceProfile{ID: voice},
		Instructions:    instr,
		InputSampleRate: audio.CaptureRate,
	}

	connectStart := time.Now()
	handle, err := s.provider.Connect(ctx, cfg)
	if err != nil {
		s.metrics.RecordUpstreamError(ctx, s.providerName, "connect")
		s.fail(fmt.Errorf("relay: connect upstream: %w", err))
		return err
	}
	s.metrics.UpstreamConnectDuration.Record(ctx, time.Since(connectStart).Seconds(),
		metric.WithAttributes(observe.Attr("provider", s.providerName)))

	s.mu.Lock()
	s.upstream = handle
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.sink.Status(s.id, wire.StateConnected)
	s.log.Info("upstream session established", slog.String("provider", s.providerName))

	go s.pump(handle, gen)
	return nil
}

// Forward relays one microphone frame (raw 16kHz PCM) to the upstream. While
// no upstream is open the frame is dropped silently; dropping is steady-state
// during connection churn, not an error.
func (s *Session) Forward(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	handle := s.upstream
	s.mu.Unlock()

	if handle == nil {
		s.metrics.FramesDropped.Add(ctx, 1)
		s.log.Debug("dropping frame without upstream")
		return nil
	}
	if err := handle.SendAudio(pcm); err != nil {
		s.metrics.RecordUpstreamError(ctx, s.providerName, "send")
		return fmt.Errorf("relay: forward frame: %w", err)
	}
	s.metrics.RecordFrameForwarded(ctx, s.providerName)
	return nil
}

// Close tears down the upstream connection, if any. Safe to call more than
// once and from any goroutine; errors from the provider are logged, not
// returned, since teardown is best-effort.
func (s *Session) Close() {
	s.mu.Lock()
	handle := s.upstream
	s.upstream = nil
	s.mu.Unlock()

	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		s.log.Warn("closing upstream", slog.String("error", err.Error()))
	}
}

// pump forwards upstream events to the client until the handle's event
// channel closes. gen identifies the upstream generation this pump serves; a
// newer Start invalidates it so the final status is only emitted for the
// current upstream.
func (s *Session) pump(handle s2s.SessionHandle, gen int) {
	ctx := context.Background()
	for ev := range handle.Events() {
		switch ev.Kind {
		case s2s.EventAudio:
			s.sink.AudioOutput(s.id, audio.EncodeTransport(ev.Audio), false)
			s.metrics.AudioChunksRelayed.Add(ctx, 1)
		case s2s.EventInterrupted:
			s.sink.AudioOutput(s.id, "", true)
			s.metrics.Interruptions.Add(ctx, 1)
		case s2s.EventTranscript:
			s.log.Debug("transcript", slog.String("text", ev.Text))
		case s2s.EventTurnComplete:
			s.log.Debug("turn complete")
		}
	}

	s.mu.Lock()
	current := s.upstream == handle && s.gen == gen
	if current {
		s.upstream = nil
	}
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, -1)

	if !current {
		// Replaced by a newer Start; the new upstream owns status reporting.
		return
	}
	if err := handle.Err(); err != nil {
		s.metrics.RecordUpstreamError(ctx, s.providerName, "stream")
		s.sink.Error(s.id, err.Error())
		s.sink.Status(s.id, wire.StateError)
		s.log.Warn("upstream session failed", slog.String("error", err.Error()))
		return
	}
	s.sink.Status(s.id, wire.StateDisconnected)
	s.log.Info("upstream session ended")
}

// fail reports a session start failure to the client. The session stays
// usable: a later start message may succeed.
func (s *Session) fail(err error) {
	s.sink.Error(s.id, err.Error())
	s.sink.Status(s.id, wire.StateError)
	s.log.Error("session start failed", slog.String("error", err.Error()))
}
