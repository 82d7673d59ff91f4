// Package malgosink implements playback.Sink on real speaker hardware via
// miniaudio (github.com/gen2brain/malgo).
//
// The scheduler guarantees units arrive in start-time order with no overlap,
// so the sink reduces to a pull buffer: the device callback drains queued PCM
// and pads with silence when the queue is empty.
package malgosink

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/neda-ai/neda/pkg/voice/playback"
)

// Compile-time interface assertion.
var _ playback.Sink = (*Sink)(nil)

// Sink plays scheduled PCM through the default system output device.
type Sink struct {
	rate uint32

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	buf    []byte
}

// New opens the default output device at the given sample rate (mono s16le)
// and starts it. The device outputs silence until audio is scheduled.
func New(sampleRate int) (*Sink, error) {
	s := &Sink{rate: uint32(sampleRate)}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgosink: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = s.rate
	cfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			s.fill(output)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgosink: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgosink: start device: %w", err)
	}

	s.ctx = mctx
	s.device = device
	return s, nil
}

// Play appends pcm to the playout queue. The start time is implicit: units
// arrive gapless and ordered, so queue position is playout position.
func (s *Sink) Play(pcm []byte, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, pcm...)
}

// Discard drops everything queued; the device reverts to silence on the next
// period.
func (s *Sink) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}

// Close stops the device and releases miniaudio resources. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	_ = s.device.Stop()
	s.device.Uninit()
	s.device = nil

	err := s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
	if err != nil {
		return fmt.Errorf("malgosink: uninit context: %w", err)
	}
	return nil
}

// fill copies queued PCM into the device buffer, zero-padding the rest.
func (s *Sink) fill(output []byte) {
	s.mu.Lock()
	n := copy(output, s.buf)
	s.buf = s.buf[n:]
	s.mu.Unlock()

	for i := n; i < len(output); i++ {
		output[i] = 0
	}
}
