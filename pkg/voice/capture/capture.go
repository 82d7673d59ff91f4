// Package capture turns microphone input into fixed-size transmit-ready
// frames.
//
// A [Device] delivers raw float32 samples as the hardware produces them; the
// [Pipeline] regroups them into fixed blocks, applies input gain, measures
// post-gain loudness, and emits [audio.Frame] values. Muting does not pause
// capture: loudness keeps flowing for the level indicator while the PCM
// payload is withheld.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neda-ai/neda/pkg/audio"
)

// ErrDeviceUnavailable means the microphone could not be opened: missing
// hardware, no permission, or the device is claimed by another process.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

const (
	// DefaultBlockSize is the number of samples per emitted frame.
	DefaultBlockSize = 2048

	// DefaultGain is the input amplification applied before transmission.
	// Microphone input tends to be quiet relative to what speech models
	// expect, so the default boosts it.
	DefaultGain = 3.0
)

// Device abstracts the microphone. Implementations deliver raw mono float32
// samples in [-1, 1] at the pipeline's sample rate; block sizes are whatever
// the hardware produces, the pipeline regroups them.
type Device interface {
	// Start opens the device and begins delivering samples to fn. fn is
	// called from the device's capture goroutine and must not block. Opening
	// may wait on an OS permission prompt, so it honours ctx. Returns
	// [ErrDeviceUnavailable] (possibly wrapped) when no usable device exists.
	Start(ctx context.Context, fn func(samples []float32)) error

	// Stop ends capture and releases the device. Idempotent.
	Stop() error
}

// Pipeline converts a device's sample stream into transmit-ready frames.
// All methods are safe for concurrent use.
type Pipeline struct {
	dev       Device
	rate      int
	blockSize int

	mu       sync.Mutex
	gain     float64
	muted    bool
	started  bool
	closed   bool
	pending  []float32
	captured time.Duration

	frames chan audio.Frame
}

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithGain sets the input gain. Values at or below zero keep [DefaultGain].
func WithGain(g float64) Option {
	return func(p *Pipeline) {
		if g > 0 {
			p.gain = g
		}
	}
}

// WithBlockSize sets the number of samples per frame.
func WithBlockSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithSampleRate overrides the capture sample rate in Hz. Defaults to
// [audio.CaptureRate].
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// NewPipeline creates a pipeline reading from dev.
func NewPipeline(dev Device, opts ...Option) *Pipeline {
	p := &Pipeline{
		dev:       dev,
		rate:      audio.CaptureRate,
		blockSize: DefaultBlockSize,
		gain:      DefaultGain,
		frames:    make(chan audio.Frame, 32),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start opens the device and returns the frame channel. The channel closes
// when the pipeline is closed. Start fails on a closed pipeline and when the
// device cannot be opened; it can only be called once.
func (p *Pipeline) Start(ctx context.Context) (<-chan audio.Frame, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("capture: pipeline closed")
	}
	if p.started {
		p.mu.Unlock()
		return nil, errors.New("capture: pipeline already started")
	}
	p.started = true
	p.mu.Unlock()

	if err := p.dev.Start(ctx, p.ingest); err != nil {
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		return nil, fmt.Errorf("capture: start device: %w", err)
	}
	return p.frames, nil
}

// SetMuted switches transmission on or off. While muted, frames carry
// loudness but no PCM.
func (p *Pipeline) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Close stops the device and closes the frame channel. Idempotent; the
// device error, if any, is returned on the first call only.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.dev.Stop()
	close(p.frames)
	if err != nil {
		return fmt.Errorf("capture: stop device: %w", err)
	}
	return nil
}

// ingest accumulates device samples and emits a frame per full block. Runs on
// the device's capture goroutine.
func (p *Pipeline) ingest(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.pending = append(p.pending, samples...)
	for len(p.pending) >= p.blockSize {
		block := make([]float32, p.blockSize)
		copy(block, p.pending[:p.blockSize])
		p.pending = p.pending[p.blockSize:]

		audio.ApplyGain(block, p.gain)
		frame := audio.Frame{
			SampleRate: p.rate,
			Loudness:   audio.RMS(block),
			Timestamp:  p.captured,
		}
		if !p.muted {
			frame.PCM = audio.FloatToPCM16(block)
		}
		p.captured += time.Duration(p.blockSize) * time.Second / time.Duration(p.rate)

		// The consumer owns pacing; when it falls behind, the oldest frame
		// goes, not the newest.
		select {
		case p.frames <- frame:
		default:
			select {
			case <-p.frames:
			default:
			}
			select {
			case p.frames <- frame:
			default:
			}
		}
	}
}
