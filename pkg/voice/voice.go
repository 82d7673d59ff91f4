// Package voice implements the client-side live session manager: the state
// machine that ties microphone capture, playback scheduling, and the relay
// transport into one push-to-talk style assistant session.
//
// The manager moves through disconnected → connecting → connected and back to
// disconnected (or error). Connect is only honoured from a resting state;
// Disconnect is a fire-and-forget teardown valid anywhere. While connected,
// the manager streams capture frames to the relay, schedules returned audio,
// and performs local barge-in: when the user speaks over pending assistant
// audio, playback is flushed before the frame is forwarded.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neda-ai/neda/pkg/audio"
	"github.com/neda-ai/neda/pkg/wire"
)

// DefaultBargeInThreshold is the post-gain RMS above which local speech
// counts as an interruption attempt.
const DefaultBargeInThreshold = 0.01

// Transport is the session channel to the relay server. It outlives
// individual sessions — the manager starts and abandons sessions over the
// same connection.
type Transport interface {
	// Start requests a new session.
	Start(ctx context.Context, sessionID, voice string) error

	// SendFrame transmits one transport-encoded microphone frame.
	SendFrame(ctx context.Context, sessionID, data string) error

	// Events returns the inbound message channel carrying [wire.Status],
	// [wire.AudioOutput] and [wire.Error] values.
	Events() <-chan any
}

// Capture is one session's microphone pipeline. A fresh Capture is built per
// session via the manager's factory; Close releases the device.
type Capture interface {
	Start(ctx context.Context) (<-chan audio.Frame, error)
	SetMuted(muted bool)
	Close() error
}

// Playback schedules assistant audio for playout.
type Playback interface {
	Enqueue(pcm []byte) time.Time
	Flush()
	Pending() int
}

// Config assembles a [Manager].
type Config struct {
	Transport Transport

	// NewCapture builds the microphone pipeline for one session.
	NewCapture func() Capture

	Playback Playback

	// Voice optionally selects the assistant voice. Empty uses the server
	// default.
	Voice string

	// BargeInThreshold overrides [DefaultBargeInThreshold] when positive.
	BargeInThreshold float64

	// OnLevel, when set, receives the loudness of every capture frame. Used
	// for input level meters. Called from the capture goroutine; must not
	// block.
	OnLevel func(rms float64)

	Logger *slog.Logger
}

// Manager is the live session state machine. All methods are safe for
// concurrent use.
type Manager struct {
	transport  Transport
	newCapture func() Capture
	playback   Playback
	voice      string
	threshold  float64
	onLevel    func(float64)
	log        *slog.Logger

	mu        sync.Mutex
	state     wire.State
	muted     bool
	sessionID string
	capture   Capture
	cancel    context.CancelFunc

	// loopDone closes when the current session's event loop has exited. A new
	// Connect waits on it so two loops never read the shared transport event
	// channel at once: a lingering loop could otherwise consume an event meant
	// for the new session.
	loopDone chan struct{}
}

// NewManager creates a manager in the disconnected state.
func NewManager(cfg Config) *Manager {
	threshold := cfg.BargeInThreshold
	if threshold <= 0 {
		threshold = DefaultBargeInThreshold
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		transport:  cfg.Transport,
		newCapture: cfg.NewCapture,
		playback:   cfg.Playback,
		voice:      cfg.Voice,
		threshold:  threshold,
		onLevel:    cfg.OnLevel,
		log:        log,
	}
}

// State returns the current session state. The zero state is disconnected.
func (m *Manager) State() wire.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == "" {
		return wire.StateDisconnected
	}
	return m.state
}

// SessionID returns the id of the current session, or empty when resting.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Muted reports the mute state.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Connect starts a new session. Valid only from the disconnected and error
// states; anywhere else it is a no-op returning nil, so double-clicks and
// races with an in-flight connect are harmless.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case wire.StateConnecting, wire.StateConnected:
		m.mu.Unlock()
		return nil
	}
	prevDone := m.loopDone
	m.mu.Unlock()

	// The previous session's event loop must be gone before the transport is
	// asked for a new session, so the new session's events have exactly one
	// reader.
	if prevDone != nil {
		<-prevDone
	}

	m.mu.Lock()
	switch m.state {
	case wire.StateConnecting, wire.StateConnected:
		// A concurrent Connect won while we waited.
		m.mu.Unlock()
		return nil
	}
	m.state = wire.StateConnecting
	m.sessionID = uuid.NewString()
	sessionID := m.sessionID
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	done := make(chan struct{})
	m.loopDone = done
	m.mu.Unlock()

	if err := m.transport.Start(ctx, sessionID, m.voice); err != nil {
		cancel()
		close(done)
		m.mu.Lock()
		m.state = wire.StateError
		m.cancel = nil
		m.mu.Unlock()
		return fmt.Errorf("voice: start session: %w", err)
	}

	go func() {
		defer close(done)
		m.eventLoop(loopCtx, sessionID)
	}()
	return nil
}

// Disconnect tears the session down: capture released, scheduled playback
// flushed, state disconnected. Valid from any state and idempotent; teardown
// is fire-and-forget, nothing below it can fail loudly. When Disconnect
// returns, the session's event loop has exited.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	pipe := m.capture
	done := m.loopDone
	m.cancel = nil
	m.capture = nil
	m.sessionID = ""
	m.state = wire.StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if pipe != nil {
		if err := pipe.Close(); err != nil {
			m.log.Debug("closing capture", slog.String("error", err.Error()))
		}
	}
	m.playback.Flush()
}

// ToggleMute switches the microphone mute state. Muting flushes scheduled
// playback immediately: muting mid-reply reads as "stop talking".
func (m *Manager) ToggleMute(muted bool) {
	m.mu.Lock()
	m.muted = muted
	pipe := m.capture
	m.mu.Unlock()

	if pipe != nil {
		pipe.SetMuted(muted)
	}
	if muted {
		m.playback.Flush()
	}
}

// eventLoop consumes transport events for one session until teardown.
func (m *Manager) eventLoop(ctx context.Context, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.transport.Events():
			if !ok {
				m.endSession(wire.StateDisconnected)
				return
			}
			if done := m.handleEvent(ctx, sessionID, ev); done {
				return
			}
		}
	}
}

// handleEvent processes one inbound message. Returns true when the session is
// over and the loop should exit.
func (m *Manager) handleEvent(ctx context.Context, sessionID string, ev any) bool {
	switch e := ev.(type) {
	case wire.Status:
		if e.SessionID != "" && e.SessionID != sessionID {
			return false
		}
		switch e.State {
		case wire.StateConnected:
			m.beginStreaming(ctx, sessionID)
		case wire.StateDisconnected:
			m.endSession(wire.StateDisconnected)
			return true
		case wire.StateError:
			m.endSession(wire.StateError)
			return true
		}
	case wire.AudioOutput:
		if e.SessionID != sessionID {
			return false
		}
		if e.Interrupted {
			m.playback.Flush()
			return false
		}
		pcm, err := audio.DecodeTransport(e.Audio)
		if err != nil {
			m.log.Warn("dropping malformed audio output", slog.String("error", err.Error()))
			return false
		}
		m.playback.Enqueue(pcm)
	case wire.Error:
		if e.SessionID != sessionID {
			return false
		}
		m.log.Warn("session error", slog.String("message", e.Message))
	}
	return false
}

// beginStreaming opens the capture pipeline once the relay confirms the
// session. A capture failure is a session failure: the state moves to error.
func (m *Manager) beginStreaming(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if m.sessionID != sessionID || m.capture != nil {
		m.mu.Unlock()
		return
	}
	pipe := m.newCapture()
	m.capture = pipe
	m.state = wire.StateConnected
	muted := m.muted
	m.mu.Unlock()

	pipe.SetMuted(muted)
	frames, err := pipe.Start(ctx)
	if err != nil {
		m.log.Error("opening microphone", slog.String("error", err.Error()))
		m.endSession(wire.StateError)
		return
	}
	m.log.Info("session connected", slog.String("session_id", sessionID))

	go func() {
		for frame := range frames {
			m.handleFrame(ctx, sessionID, frame)
		}
	}()
}

// handleFrame applies the barge-in rule and forwards one capture frame.
func (m *Manager) handleFrame(ctx context.Context, sessionID string, frame audio.Frame) {
	if m.onLevel != nil {
		m.onLevel(frame.Loudness)
	}

	m.mu.Lock()
	connected := m.state == wire.StateConnected && m.sessionID == sessionID
	muted := m.muted
	m.mu.Unlock()
	if !connected {
		return
	}

	// Speaking over pending assistant audio interrupts it locally before the
	// frame even reaches the server.
	if !muted && frame.Loudness >= m.threshold && m.playback.Pending() > 0 {
		m.playback.Flush()
	}

	if muted || frame.PCM == nil {
		return
	}
	if err := m.transport.SendFrame(ctx, sessionID, audio.EncodeTransport(frame.PCM)); err != nil {
		m.log.Debug("sending frame", slog.String("error", err.Error()))
	}
}

// endSession closes capture and flushes playback, leaving the manager in
// final. No-op when the session already ended.
func (m *Manager) endSession(final wire.State) {
	m.mu.Lock()
	if m.state == wire.StateDisconnected || m.state == wire.StateError {
		m.mu.Unlock()
		return
	}
	pipe := m.capture
	cancel := m.cancel
	m.capture = nil
	m.cancel = nil
	m.sessionID = ""
	m.state = final
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pipe != nil {
		if err := pipe.Close(); err != nil {
			m.log.Debug("closing capture", slog.String("error", err.Error()))
		}
	}
	m.playback.Flush()
	m.log.Info("session ended", slog.String("state", string(final)))
}
