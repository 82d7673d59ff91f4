// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled S2S sessions.
// Use Session to drive the upstream event stream and inspect which methods
// were invoked by the relay.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Kind: s2s.EventAudio, Audio: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/neda-ai/neda/pkg/provider/s2s"
)

// Compile-time interface assertions.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*Session)(nil)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a fresh default Session.
	Session s2s.SessionHandle

	// NewSessionPerConnect, when true, makes every Connect call return a new
	// default Session even if Session is set. Useful to verify the
	// single-upstream invariant across restarts.
	NewSessionPerConnect bool

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions records every Session handed out by Connect.
	Sessions []*Session
}

// Connect records the call and returns the configured session or error.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil && !p.NewSessionPerConnect {
		return p.Session, nil
	}
	sess := NewSession()
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCount returns the number of recorded Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastConfig returns the SessionConfig of the most recent Connect call.
func (p *Provider) LastConfig() s2s.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ConnectCalls) == 0 {
		return s2s.SessionConfig{}
	}
	return p.ConnectCalls[len(p.ConnectCalls)-1].Cfg
}

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of s2s.SessionHandle. Create it with
// NewSession so the events channel is initialised.
type Session struct {
	mu sync.Mutex

	events chan s2s.Event

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// ErrVal is returned by Err.
	ErrVal error

	// SendAudioCalls records every SendAudio invocation in order.
	SendAudioCalls []SendAudioCall

	closed    bool
	closeOnce sync.Once
}

// NewSession creates a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 64)}
}

// Emit pushes an event onto the session's Events channel. It is a no-op after
// Close.
func (s *Session) Emit(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// SendCount returns the number of recorded SendAudio calls. Thread-safe.
func (s *Session) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Events returns the mock event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the session closed and closes the Events channel. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}
