// Package mock provides a scripted capture.Device for tests.
package mock

import (
	"context"
	"sync"

	"github.com/neda-ai/neda/pkg/voice/capture"
)

// Compile-time interface assertion.
var _ capture.Device = (*Device)(nil)

// Device is a mock microphone. Feed pushes samples to the pipeline as if the
// hardware produced them.
type Device struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	// StopErr, if non-nil, is returned from Stop.
	StopErr error

	fn      func([]float32)
	started bool
	stops   int
}

// Start records the callback and returns StartErr.
func (d *Device) Start(_ context.Context, fn func(samples []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	d.fn = fn
	d.started = true
	return nil
}

// Stop records the call and returns StopErr.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.stops++
	return d.StopErr
}

// Feed delivers samples to the registered callback. No-op before Start or
// after Stop.
func (d *Device) Feed(samples []float32) {
	d.mu.Lock()
	fn := d.fn
	started := d.started
	d.mu.Unlock()
	if started && fn != nil {
		fn(samples)
	}
}

// Started reports whether the device is currently capturing.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// StopCount returns how many times Stop was called.
func (d *Device) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}
