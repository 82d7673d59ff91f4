package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/neda-ai/neda/pkg/provider/s2s"
	"github.com/neda-ai/neda/pkg/provider/s2s/openai"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	updateCh := make(chan map[string]any, 1)
	authCh := make(chan string, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		var raw map[string]any
		readJSON(t, conn, &raw)
		updateCh <- raw
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{
		Voice:        s2s.VoiceProfile{ID: "coral"},
		Instructions: "Answer briefly.",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if got := <-authCh; got != "Bearer sk-test" {
		t.Errorf("Authorization = %q; want Bearer sk-test", got)
	}

	select {
	case raw := <-updateCh:
		if raw["type"] != "session.update" {
			t.Fatalf("first message type = %v; want session.update", raw["type"])
		}
		sess, _ := raw["session"].(map[string]any)
		if sess == nil || sess["voice"] != "coral" || sess["instructions"] != "Answer briefly." {
			t.Errorf("unexpected session params: %v", sess)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestReceive_TaggedEvents(t *testing.T) {
	t.Parallel()

	audio := []byte{1, 2, 3}
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)

		writeJSON(t, conn, map[string]any{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(audio),
		})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "hel"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "lo"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.done"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	wantKinds := []s2s.EventKind{
		s2s.EventAudio, s2s.EventInterrupted, s2s.EventTranscript, s2s.EventTurnComplete,
	}
	for i, want := range wantKinds {
		select {
		case ev, ok := <-handle.Events():
			if !ok {
				t.Fatalf("events channel closed at index %d", i)
			}
			if ev.Kind != want {
				t.Fatalf("event %d kind = %v; want %v", i, ev.Kind, want)
			}
			if want == s2s.EventAudio && string(ev.Audio) != string(audio) {
				t.Errorf("audio payload = %v; want %v", ev.Audio, audio)
			}
			if want == s2s.EventTranscript && ev.Text != "hello" {
				t.Errorf("transcript = %q; want hello", ev.Text)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestSendAudio_AppendsToInputBuffer(t *testing.T) {
	t.Parallel()

	frameCh := make(chan map[string]any, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		var frame map[string]any
		readJSON(t, conn, &frame)
		frameCh <- frame
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if err := handle.SendAudio([]byte{5, 6}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case frame := <-frameCh:
		if frame["type"] != "input_audio_buffer.append" {
			t.Errorf("type = %v; want input_audio_buffer.append", frame["type"])
		}
		if frame["audio"] != base64.StdEncoding.EncodeToString([]byte{5, 6}) {
			t.Errorf("unexpected audio payload: %v", frame["audio"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio append")
	}
}

func TestErrorEvent_SetsErr(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "message": "bad voice"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case ev := <-handle.Events():
		if ev.Kind != s2s.EventOther {
			t.Fatalf("event kind = %v; want OTHER", ev.Kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error event")
	}

	if handle.Err() == nil {
		t.Error("Err should be set after an upstream error event")
	}
}
