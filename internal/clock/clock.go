// Package clock decides when a release timestamp has passed.
//
// Readiness is always recomputed from a fresh wall-clock read. The countdown
// is for display and must never gate a key fetch.
package clock

import (
	"context"
	"sync"
	"time"
)

// DefaultMargin absorbs publication latency of the key-release network
// after the nominal release timestamp.
const DefaultMargin = 5 * time.Second

// DefaultTickInterval is how often a ReleaseClock re-checks readiness.
const DefaultTickInterval = time.Second

// Source supplies the current time.
type Source interface {
	Now() time.Time
}

type systemSource struct{}

func (systemSource) Now() time.Time { return time.Now() }

// System is the wall clock.
var System Source = systemSource{}

// IsReady reports whether now >= release + margin.
func IsReady(now time.Time, release int64, margin time.Duration) bool {
	return !now.Before(time.Unix(release, 0).Add(margin))
}

// Remaining returns max(0, release - now) in whole seconds.
func Remaining(now time.Time, release int64) int64 {
	left := release - now.Unix()
	if left < 0 {
		return 0
	}
	return left
}

// Tick is one observation of a release clock.
type Tick struct {
	Now       time.Time
	Remaining int64
	Ready     bool
}

// ReleaseClock tracks a single release timestamp for one session.
type ReleaseClock struct {
	source  Source
	release int64
	margin  time.Duration
}

// NewReleaseClock creates a clock for release. A nil source means the wall clock.
func NewReleaseClock(source Source, release int64, margin time.Duration) *ReleaseClock {
	if source == nil {
		source = System
	}
	return &ReleaseClock{source: source, release: release, margin: margin}
}

// Release returns the tracked timestamp.
func (c *ReleaseClock) Release() int64 { return c.release }

// Margin returns the post-release margin.
func (c *ReleaseClock) Margin() time.Duration { return c.margin }

// Ready reports readiness at the current time.
func (c *ReleaseClock) Ready() bool {
	return IsReady(c.source.Now(), c.release, c.margin)
}

// Remaining returns the display countdown at the current time.
func (c *ReleaseClock) Remaining() int64 {
	return Remaining(c.source.Now(), c.release)
}

// Observe samples the clock once.
func (c *ReleaseClock) Observe() Tick {
	now := c.source.Now()
	return Tick{
		Now:       now,
		Remaining: Remaining(now, c.release),
		Ready:     IsReady(now, c.release, c.margin),
	}
}

// Ticks emits an observation immediately and then every interval until ctx
// is done, at which point the channel is closed. Slow consumers skip ticks
// rather than queueing them.
func (c *ReleaseClock) Ticks(ctx context.Context, interval time.Duration) <-chan Tick {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	out := make(chan Tick, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		send := func() {
			select {
			case out <- c.Observe():
			default:
			}
		}
		send()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()
	return out
}

// Manual is a Source whose time only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock reading now.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
