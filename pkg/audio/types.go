// Package audio provides the PCM codec utilities and frame types shared by the
// Neda voice pipeline: float/int16 sample conversion, the text-safe transport
// encoding used over the session websocket, loudness measurement, and gain.
//
// All functions are pure and allocation-predictable; they run on the audio hot
// path on both client and server.
package audio

import "time"

// Sample rates fixed by the upstream speech service contract.
const (
	// CaptureRate is the microphone/inbound sample rate in Hz.
	CaptureRate = 16000

	// PlaybackRate is the synthesized/outbound sample rate in Hz.
	PlaybackRate = 24000
)

// Frame is a single block of mono PCM flowing through the pipeline. Frames are
// transient: produced by the capture pipeline, consumed exactly once by the
// transport (inbound) or the playback scheduler (outbound).
type Frame struct {
	// PCM is little-endian signed 16-bit mono audio data.
	PCM []byte

	// SampleRate in Hz (CaptureRate for microphone frames, PlaybackRate for
	// synthesized frames).
	SampleRate int

	// Loudness is the post-gain RMS of the frame in [0,1]. Only set on
	// capture frames; used for visualization and barge-in detection.
	Loudness float64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
