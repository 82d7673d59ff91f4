// Package wire defines the JSON message protocol spoken between the Neda
// client facade and the relay server over a single shared websocket
// connection.
//
// Every message is a flat JSON object with a "type" discriminator and a
// "session_id" field; one connection multiplexes many logical sessions, each
// independently ordered. Messages are decoded exactly once at the boundary
// via [DecodeClientMessage] / [DecodeServerMessage] into typed values so that
// downstream code switches on a closed set instead of probing optional
// fields.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client → server message types.
const (
	TypeStart      = "start"
	TypeAudioFrame = "audio_frame"
)

// Server → client message types.
const (
	TypeStatus      = "status"
	TypeAudioOutput = "audio_output"
	TypeError       = "error"
)

// State is a session status as reported by the server.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// IsValid reports whether s is a recognised session state.
func (s State) IsValid() bool {
	switch s {
	case StateConnecting, StateConnected, StateDisconnected, StateError:
		return true
	}
	return false
}

// DecodeError describes a malformed or unsupported wire message.
type DecodeError struct {
	Message string
	Field   string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Field)
}

func badMessage(message, field string) *DecodeError {
	return &DecodeError{Message: message, Field: field}
}

// Start initiates a new relay session. The client picks the session id; the
// server rejects duplicates.
type Start struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	// Voice optionally selects the synthesized voice for this session.
	// Empty means the server's configured default.
	Voice string `json:"voice,omitempty"`
}

// AudioFrame carries one transport-text-encoded block of 16 kHz mono PCM
// from the client microphone.
type AudioFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// Status reports a session state change to the client.
type Status struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
}

// AudioOutput carries synthesized 24 kHz mono PCM back to the client.
// Interrupted means the model was cut off: the client must flush any
// scheduled playback. Audio may be empty on a pure interrupt signal.
type AudioOutput struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Audio       string `json:"audio,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// Error carries a human-readable failure message for one session.
type Error struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// DecodeClientMessage parses one client → server frame. The returned value is
// one of [Start] or [AudioFrame].
func DecodeClientMessage(data []byte) (any, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeStart:
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badMessage("invalid start frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badMessage("start.session_id is required", "session_id")
		}
		return msg, nil
	case TypeAudioFrame:
		var msg AudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badMessage("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badMessage("audio_frame.session_id is required", "session_id")
		}
		if msg.Data == "" {
			return nil, badMessage("audio_frame.data is required", "data")
		}
		return msg, nil
	default:
		return nil, badMessage("unsupported message type "+typ, "type")
	}
}

// DecodeServerMessage parses one server → client frame. The returned value is
// one of [Status], [AudioOutput] or [Error].
func DecodeServerMessage(data []byte) (any, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeStatus:
		var msg Status
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badMessage("invalid status frame", "")
		}
		if !msg.State.IsValid() {
			return nil, badMessage("unknown status state "+string(msg.State), "state")
		}
		return msg, nil
	case TypeAudioOutput:
		var msg AudioOutput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badMessage("invalid audio_output frame", "")
		}
		return msg, nil
	case TypeError:
		var msg Error
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badMessage("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, badMessage("unsupported message type "+typ, "type")
	}
}

func peekType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badMessage("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badMessage("missing type", "type")
	}
	return typ, nil
}
