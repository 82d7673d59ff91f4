// Package playback schedules synthesized audio chunks for gapless playout.
//
// Chunks arrive from the network in bursts; each is scheduled to start
// exactly when the previous one ends, or immediately when the queue has run
// dry. The [Scheduler] tracks what is still audible so callers can make
// barge-in decisions, and [Scheduler.Flush] discards everything at once when
// the user interrupts the model.
package playback

import (
	"sync"
	"time"

	"github.com/neda-ai/neda/pkg/audio"
)

// Clock abstracts the playout timebase. Production code uses [SystemClock];
// tests substitute a manual clock to make scheduling deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock is a [Clock] backed by [time.Now].
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Sink receives scheduled PCM for actual playout. Implementations must accept
// units ahead of time and honour their start times; Discard drops everything
// not yet played.
type Sink interface {
	// Play schedules pcm (little-endian s16 mono) to begin at start. start is
	// never earlier than the previous unit's end, so appending is gapless.
	Play(pcm []byte, start time.Time)

	// Discard stops playout immediately and drops all scheduled units.
	Discard()
}

// unit is one scheduled chunk's audible interval.
type unit struct {
	start time.Time
	end   time.Time
}

// Scheduler assigns start times to incoming audio chunks so playback is
// gapless while chunks keep arriving and restarts immediately after a gap.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	clock Clock
	sink  Sink
	rate  int

	mu    sync.Mutex
	next  time.Time
	units []unit
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithClock substitutes the playout timebase. Defaults to [SystemClock].
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithSampleRate overrides the playout sample rate in Hz. Defaults to
// [audio.PlaybackRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// NewScheduler creates a scheduler delivering to sink.
func NewScheduler(sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock: SystemClock{},
		sink:  sink,
		rate:  audio.PlaybackRate,
	}
	for _, o := range opts {
		o(s)
	}
	s.next = s.clock.Now()
	return s
}

// Enqueue schedules pcm for playout and returns its start time. The start is
// the end of the previously scheduled chunk, or the current clock time when
// the queue has drained — start times never move backwards except across
// [Scheduler.Flush].
func (s *Scheduler) Enqueue(pcm []byte) time.Time {
	d := time.Duration(len(pcm)/2) * time.Second / time.Duration(s.rate)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	start := s.next
	if now.After(start) {
		start = now
	}
	end := start.Add(d)
	s.next = end

	s.pruneLocked(now)
	s.units = append(s.units, unit{start: start, end: end})

	s.sink.Play(pcm, start)
	return start
}

// Flush discards every scheduled chunk, audible or not, and resets the
// schedule to the current clock time so the next chunk plays immediately.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.units = s.units[:0]
	s.next = s.clock.Now()
	s.sink.Discard()
}

// Pending reports how many scheduled chunks have not finished playing yet.
// A non-zero value means the assistant is audible or about to be.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.clock.Now())
	return len(s.units)
}

// pruneLocked drops units whose playout has already ended. Must be called
// with s.mu held.
func (s *Scheduler) pruneLocked(now time.Time) {
	kept := s.units[:0]
	for _, u := range s.units {
		if u.end.After(now) {
			kept = append(kept, u)
		}
	}
	s.units = kept
}
