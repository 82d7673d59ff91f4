package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/neda-ai/neda/pkg/wire"
)

// fakeRelay accepts one websocket connection and exposes it to the test.
type fakeRelay struct {
	url   string
	conns chan *websocket.Conn
}

func startFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{conns: make(chan *websocket.Conn, 1)}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fr.conns <- conn
		// Hold the handler open; tests drive the connection directly.
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)
	fr.url = "ws" + strings.TrimPrefix(ts.URL, "http")
	return fr
}

func (fr *fakeRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fr.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func readClientMessage(t *testing.T, conn *websocket.Conn) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	msg, err := wire.DecodeClientMessage(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func writeServerMessage(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func TestClient_StartAndSendFrame(t *testing.T) {
	t.Parallel()

	fr := startFakeRelay(t)
	ctx := context.Background()
	client, err := Dial(ctx, fr.url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	server := fr.accept(t)

	if err := client.Start(ctx, "s1", "Puck"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start, ok := readClientMessage(t, server).(wire.Start)
	if !ok || start.SessionID != "s1" || start.Voice != "Puck" {
		t.Fatalf("server received %+v, want start for s1", start)
	}

	if err := client.SendFrame(ctx, "s1", "AAEC"); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	frame, ok := readClientMessage(t, server).(wire.AudioFrame)
	if !ok || frame.Data != "AAEC" {
		t.Fatalf("server received %+v, want audio frame", frame)
	}
}

func TestClient_DeliversTypedEvents(t *testing.T) {
	t.Parallel()

	fr := startFakeRelay(t)
	client, err := Dial(context.Background(), fr.url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	server := fr.accept(t)

	writeServerMessage(t, server, wire.Status{Type: wire.TypeStatus, SessionID: "s1", State: wire.StateConnected})
	writeServerMessage(t, server, wire.AudioOutput{Type: wire.TypeAudioOutput, SessionID: "s1", Audio: "UEND"})

	select {
	case ev := <-client.Events():
		st, ok := ev.(wire.Status)
		if !ok || st.State != wire.StateConnected {
			t.Fatalf("first event = %+v, want connected status", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no status event")
	}
	select {
	case ev := <-client.Events():
		out, ok := ev.(wire.AudioOutput)
		if !ok || out.Audio != "UEND" {
			t.Fatalf("second event = %+v, want audio output", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no audio event")
	}
}

func TestClient_ConnectionDropEmitsDisconnected(t *testing.T) {
	t.Parallel()

	fr := startFakeRelay(t)
	client, err := Dial(context.Background(), fr.url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	server := fr.accept(t)

	server.Close(websocket.StatusGoingAway, "server restarting")

	var last any
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				st, isStatus := last.(wire.Status)
				if !isStatus || st.State != wire.StateDisconnected {
					t.Fatalf("last event = %+v, want disconnected status", last)
				}
				return
			}
			last = ev
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	t.Parallel()

	fr := startFakeRelay(t)
	client, err := Dial(context.Background(), fr.url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	fr.accept(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDial_Failure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/live", nil); err == nil {
		t.Fatal("Dial to closed port succeeded")
	}
}
