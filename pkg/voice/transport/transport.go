// Package transport is the client side of the relay wire protocol: one
// websocket connection carrying typed session messages.
//
// Inbound messages are decoded once and delivered on a channel of wire
// values. A dropped connection surfaces as a synthetic disconnected status
// followed by channel close; reconnecting is the caller's decision, the
// transport never retries on its own.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/neda-ai/neda/pkg/wire"
)

// Client is a live connection to the relay server. Safe for concurrent use.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	events chan any

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the relay server at url (ws:// or wss://). The returned
// client's read loop runs until the connection drops or Close is called.
func Dial(ctx context.Context, url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	c := &Client{
		conn:   conn,
		log:    log,
		events: make(chan any, 64),
	}
	go c.readLoop()
	return c, nil
}

// Start requests a new session with the given id and optional voice.
func (c *Client) Start(ctx context.Context, sessionID, voice string) error {
	return c.write(ctx, wire.Start{Type: wire.TypeStart, SessionID: sessionID, Voice: voice})
}

// SendFrame transmits one transport-encoded microphone frame.
func (c *Client) SendFrame(ctx context.Context, sessionID, data string) error {
	return c.write(ctx, wire.AudioFrame{Type: wire.TypeAudioFrame, SessionID: sessionID, Data: data})
}

// Events returns the inbound message channel. Values are [wire.Status],
// [wire.AudioOutput] or [wire.Error]. The channel closes after the connection
// ends; the last status before close is disconnected.
func (c *Client) Events() <-chan any {
	return c.events
}

// Close tears down the connection. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "client closing")
	})
	return nil
}

func (c *Client) write(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// readLoop decodes inbound frames until the connection ends, then emits the
// synthetic disconnected status and closes the events channel.
func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.log.Debug("connection ended", slog.String("error", err.Error()))
			}
			c.events <- wire.Status{Type: wire.TypeStatus, State: wire.StateDisconnected}
			return
		}
		msg, err := wire.DecodeServerMessage(data)
		if err != nil {
			c.log.Warn("dropping malformed server message", slog.String("error", err.Error()))
			continue
		}
		c.events <- msg
	}
}
