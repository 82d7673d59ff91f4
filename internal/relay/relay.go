// Package relay bridges dashboard voice clients to an upstream streaming
// speech provider.
//
// Each client session is an explicit [Session] entity owned by a [Registry]
// keyed by session id. A session holds at most one upstream provider
// connection at a time; starting a session that already has an upstream
// closes the old one first. Microphone frames arriving while no upstream is
// open are dropped silently — steady-state during reconnects, not an error.
//
// The [ClientSink] interface decouples what the provider emits from how it
// reaches the client, so session logic is tested without a websocket.
package relay

import "github.com/neda-ai/neda/pkg/wire"

// ClientSink delivers server-to-client messages for one connection. All
// methods are best-effort: delivery failures are handled by the transport
// layer, not surfaced to session logic. Implementations must be safe for
// concurrent use — the upstream pump and the read loop both emit.
type ClientSink interface {
	// Status reports a session lifecycle transition.
	Status(sessionID string, state wire.State)

	// AudioOutput delivers a base64 PCM chunk, or an interruption marker when
	// interrupted is true (audio is empty in that case).
	AudioOutput(sessionID string, audio string, interrupted bool)

	// Error reports a session-scoped failure.
	Error(sessionID string, message string)
}
