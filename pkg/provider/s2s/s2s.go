// Package s2s defines the Provider interface for streaming speech-to-speech
// backends.
//
// An S2S provider wraps a real-time voice model that accepts raw audio input
// and returns synthesised audio output in a single, stateful duplex session.
// The relay treats the provider as an opaque contract: audio in, a stream of
// tagged [Event] values out.
//
// Sessions are long-lived (seconds to minutes). All implementations must be
// safe for concurrent use.
package s2s

import "context"

// EventKind discriminates the closed set of upstream session events. Provider
// implementations decode their wire format exactly once and emit one of these
// kinds; consumers switch on the kind instead of probing optional fields.
type EventKind int

const (
	// EventAudio carries a chunk of synthesised PCM audio.
	EventAudio EventKind = iota

	// EventInterrupted means the model was cut off mid-response (typically by
	// user speech) and any buffered playback of the current turn is stale.
	EventInterrupted

	// EventTurnComplete marks the natural end of a model response turn.
	EventTurnComplete

	// EventTranscript carries a text transcription of user or model speech.
	EventTranscript

	// EventOther is a recognised but uninteresting upstream message (setup
	// acknowledgements, usage reports). Carried for logging only.
	EventOther
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventTranscript:
		return "TRANSCRIPT"
	case EventOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// Event is one upstream session event. Audio is set only for EventAudio;
// Text only for EventTranscript and EventOther.
type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
}

// VoiceProfile identifies a synthesised voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier used in session setup.
	ID string

	// Name is the human-readable voice name.
	Name string
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice selects the synthesised voice. A zero value uses the provider's
	// default voice.
	Voice VoiceProfile

	// Instructions is the system-level prompt supplied to the model at setup,
	// assembled from organizational data per session.
	Instructions string

	// InputSampleRate is the sample rate of audio sent via SendAudio, in Hz.
	// Zero means 16000.
	InputSampleRate int
}

// Capabilities describes static properties of the S2S provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// OutputSampleRate is the sample rate of synthesised audio in Hz.
	OutputSampleRate int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the voice profiles available for this provider.
	Voices []VoiceProfile
}

// SessionHandle represents an open S2S session. It is an interface so that
// test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the relay — every method must return
// quickly. Output is channel-based to avoid blocking the relay's read loop.
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM audio chunk (little-endian s16, mono, at
	// the configured input rate) to the provider. Returns an error if the
	// session is closed or the provider cannot accept the chunk.
	SendAudio(chunk []byte) error

	// Events returns a read-only channel of tagged upstream events. The
	// channel is closed when the session ends or a mid-stream error occurs;
	// after it closes, call Err to check whether the session ended cleanly.
	// Consumers must drain this channel promptly to avoid stalling the
	// provider's receive loop.
	Events() <-chan Event

	// Err returns the error that caused the Events channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use; the relay opens one
// session per live call and many calls may be active concurrently.
type Provider interface {
	// Connect establishes a new S2S session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, invalid voice, or ctx already cancelled). The caller owns the
	// SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's model.
	Capabilities() Capabilities
}
