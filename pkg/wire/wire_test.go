package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/neda-ai/neda/pkg/wire"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		want    any
		wantErr bool
	}{
		{
			name: "start",
			data: `{"type":"start","session_id":"s1","voice":"Kore"}`,
			want: wire.Start{Type: "start", SessionID: "s1", Voice: "Kore"},
		},
		{
			name: "audio frame",
			data: `{"type":"audio_frame","session_id":"s1","data":"AAAA"}`,
			want: wire.AudioFrame{Type: "audio_frame", SessionID: "s1", Data: "AAAA"},
		},
		{name: "start without session id", data: `{"type":"start"}`, wantErr: true},
		{name: "frame without data", data: `{"type":"audio_frame","session_id":"s1"}`, wantErr: true},
		{name: "unknown type", data: `{"type":"bogus","session_id":"s1"}`, wantErr: true},
		{name: "missing type", data: `{"session_id":"s1"}`, wantErr: true},
		{name: "not json", data: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wire.DecodeClientMessage([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeClientMessage: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeServerMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		want    any
		wantErr bool
	}{
		{
			name: "status",
			data: `{"type":"status","session_id":"s1","state":"connected"}`,
			want: wire.Status{Type: "status", SessionID: "s1", State: wire.StateConnected},
		},
		{
			name: "audio output with interrupt",
			data: `{"type":"audio_output","session_id":"s1","interrupted":true}`,
			want: wire.AudioOutput{Type: "audio_output", SessionID: "s1", Interrupted: true},
		},
		{
			name: "error",
			data: `{"type":"error","session_id":"s1","message":"boom"}`,
			want: wire.Error{Type: "error", SessionID: "s1", Message: "boom"},
		},
		{name: "invalid state", data: `{"type":"status","session_id":"s1","state":"weird"}`, wantErr: true},
		{name: "unknown type", data: `{"type":"nope"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wire.DecodeServerMessage([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeServerMessage: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestRoundTripThroughJSON(t *testing.T) {
	t.Parallel()

	out := wire.AudioOutput{Type: wire.TypeAudioOutput, SessionID: "abc", Audio: "UEND", Interrupted: true}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := wire.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != out {
		t.Errorf("round trip mismatch: %#v != %#v", decoded, out)
	}
}

func TestDecodeErrorIncludesField(t *testing.T) {
	t.Parallel()

	_, err := wire.DecodeClientMessage([]byte(`{"type":"start"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "start.session_id is required (session_id)" {
		t.Errorf("unexpected error text: %q", got)
	}
}
