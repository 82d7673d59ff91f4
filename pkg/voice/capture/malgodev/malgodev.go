// Package malgodev implements capture.Device on real microphone hardware via
// miniaudio (github.com/gen2brain/malgo).
package malgodev

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/neda-ai/neda/pkg/voice/capture"
)

// Compile-time interface assertion.
var _ capture.Device = (*Device)(nil)

// Device captures mono float32 audio from the default system microphone.
type Device struct {
	rate uint32

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// New creates a microphone device capturing at the given sample rate.
func New(sampleRate int) *Device {
	return &Device{rate: uint32(sampleRate)}
}

// Start initialises miniaudio and begins capture. The callback receives mono
// float32 blocks sized by the backend's period. Returns
// [capture.ErrDeviceUnavailable] when no capture device can be opened.
func (d *Device) Start(ctx context.Context, fn func(samples []float32)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		return fmt.Errorf("malgodev: already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{
		ThreadPriority: malgo.ThreadPriorityRealtime,
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", capture.ErrDeviceUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = d.rate
	cfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			fn(decodeF32(input, int(frameCount)))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init device: %v", capture.ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start device: %v", capture.ErrDeviceUnavailable, err)
	}

	d.ctx = mctx
	d.device = device
	return nil
}

// Stop ends capture and releases the device and context. Idempotent.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil
	}
	_ = d.device.Stop()
	d.device.Uninit()
	d.device = nil

	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	if err != nil {
		return fmt.Errorf("malgodev: uninit context: %w", err)
	}
	return nil
}

// decodeF32 converts a raw little-endian float32 buffer to samples.
func decodeF32(data []byte, frames int) []float32 {
	if frames*4 > len(data) {
		frames = len(data) / 4
	}
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
