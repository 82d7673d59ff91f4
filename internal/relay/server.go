package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/neda-ai/neda/internal/observe"
	"github.com/neda-ai/neda/pkg/audio"
	"github.com/neda-ai/neda/pkg/provider/s2s"
	"github.com/neda-ai/neda/pkg/wire"
)

// maxMessageBytes bounds inbound websocket messages. A 2048-sample PCM frame
// is ~5.5 KiB after base64; 1 MiB leaves generous headroom for larger blocks.
const maxMessageBytes = 1 << 20

// Server accepts client websocket connections and relays their sessions to
// the upstream provider. One Server serves many connections; each connection
// gets its own [Registry].
type Server struct {
	ProviderName string
	Provider     s2s.Provider
	Instructions InstructionSource
	Metrics      *observe.Metrics

	// Logger overrides the per-connection logger. Nil means each connection
	// logs through [observe.Logger], which carries trace correlation ids.
	Logger *slog.Logger

	// OriginPatterns is passed to the websocket accept options. Empty means
	// same-origin only.
	OriginPatterns []string
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// read loop until the client disconnects. Every session opened over the
// connection is closed before the handler returns.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := srv.Logger
	if log == nil {
		// Pick up trace_id/span_id when the tracing middleware wraps us, so
		// every log line from this connection correlates with its trace.
		log = observe.Logger(r.Context())
	}
	metrics := srv.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: srv.OriginPatterns,
	})
	if err != nil {
		log.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	defer conn.Close(websocket.StatusInternalError, "connection teardown")

	sink := &connSink{conn: conn, log: log}
	registry := NewRegistry()
	defer registry.CloseAll()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Info("client disconnected")
			} else {
				log.Warn("client read failed", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := wire.DecodeClientMessage(data)
		if err != nil {
			sink.Error("", err.Error())
			continue
		}

		switch m := msg.(type) {
		case wire.Start:
			sess := registry.GetOrCreate(m.SessionID, func() *Session {
				return NewSession(m.SessionID, srv.ProviderName, srv.Provider, srv.Instructions, sink, metrics, log)
			})
			// Connect synchronously so frames sent after the connected status
			// always find the upstream open.
			if err := sess.Start(ctx, m.Voice); err != nil {
				// Already reported through the sink; the session stays
				// registered for a retry.
				continue
			}
		case wire.AudioFrame:
			sess := registry.Get(m.SessionID)
			if sess == nil {
				metrics.FramesDropped.Add(ctx, 1)
				continue
			}
			pcm, err := audio.DecodeTransport(m.Data)
			if err != nil {
				sink.Error(m.SessionID, "malformed audio frame")
				continue
			}
			if err := sess.Forward(ctx, pcm); err != nil {
				sink.Error(m.SessionID, err.Error())
			}
		}
	}
}

// connSink writes server-to-client wire messages to one websocket connection.
// A mutex serialises writers: the read loop and every session pump share the
// connection.
type connSink struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu sync.Mutex
}

var _ ClientSink = (*connSink)(nil)

func (c *connSink) Status(sessionID string, state wire.State) {
	c.write(wire.Status{Type: wire.TypeStatus, SessionID: sessionID, State: state})
}

func (c *connSink) AudioOutput(sessionID string, audio string, interrupted bool) {
	c.write(wire.AudioOutput{Type: wire.TypeAudioOutput, SessionID: sessionID, Audio: audio, Interrupted: interrupted})
}

func (c *connSink) Error(sessionID string, message string) {
	c.write(wire.Error{Type: wire.TypeError, SessionID: sessionID, Message: message})
}

func (c *connSink) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal outbound message", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		c.log.Debug("write to client failed", slog.String("error", err.Error()))
	}
}
