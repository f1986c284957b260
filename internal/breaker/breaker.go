// Package breaker implements the per-endpoint circuit breaker fronting
// send (spec §4.5): a rolling-window failure-rate gate with Closed, Open
// and HalfOpen states.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Clock is the time source the breaker consults; tests supply a fake so
// sleep-window and rolling-window behaviour is deterministic (spec §9
// open question on seeding from a test clock).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config mirrors the CircuitBreaker attributes in spec §3/§6.
type Config struct {
	Enabled               bool
	ErrorThresholdPercent int // 0-100, inclusive threshold (spec §4.5 "Tie-breaks")
	VolumeThreshold       int
	SleepWindow           time.Duration
	RollingWindow         time.Duration
	HalfOpenProbeLimit    int
}

// DefaultConfig matches the spec §6 configuration table defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		ErrorThresholdPercent: 50,
		VolumeThreshold:       20,
		SleepWindow:           10 * time.Second,
		RollingWindow:         10 * time.Second,
		HalfOpenProbeLimit:    1,
	}
}

type sample struct {
	at      time.Time
	success bool
}

// Breaker is the gate an endpoint consults before every send (spec
// §3/§4.5). It is not safe to share across endpoints; each endpoint owns
// exactly one.
type Breaker struct {
	cfg   Config
	clock Clock

	mu               sync.Mutex
	state            State
	samples          []sample
	openedAt         time.Time
	halfOpenInFlight int

	// OnTransition, if set, is invoked with the old and new state
	// whenever the breaker changes state. It runs under the breaker's
	// lock's absence (called after mu is released) so it must not call
	// back into the breaker. The endpoint driver uses this to publish
	// CircuitOpened/HalfOpened/Closed events (spec §4.6 table).
	OnTransition func(from, to State)
}

func New(cfg Config) *Breaker {
	return NewWithClock(cfg, realClock{})
}

func NewWithClock(cfg Config, clock Clock) *Breaker {
	return &Breaker{cfg: cfg, clock: clock, state: StateClosed}
}

// Allow reports whether a send may be dispatched right now. If disabled,
// it is always true and no recording occurs elsewhere either (spec
// §4.5). Open denies every call; HalfOpen admits at most
// HalfOpenProbeLimit concurrent probes.
func (b *Breaker) Allow() bool {
	if !b.cfg.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.SleepWindow {
			b.transitionLocked(StateHalfOpen)
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenProbeLimit {
			b.halfOpenInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful outcome. A successful probe while
// HalfOpen closes the breaker; per spec §9's resolved open question this
// closes the breaker but does NOT reset the rolling window — older
// failure samples keep ageing out on their own schedule.
func (b *Breaker) RecordSuccess() {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.evictOldLocked(now)
	b.samples = append(b.samples, sample{at: now, success: true})

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = 0
		b.transitionLocked(StateClosed)
	case StateClosed:
		b.maybeOpenLocked(now)
	}
}

// RecordFailure records a failed outcome (transport error, timeout, or a
// codec-classified retryable server failure — spec §4.5
// "Classification"). A failed probe while HalfOpen reopens the breaker
// and extends the sleep window from now.
func (b *Breaker) RecordFailure() {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.evictOldLocked(now)
	b.samples = append(b.samples, sample{at: now, success: false})

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = 0
		b.openedAt = now
		b.transitionLocked(StateOpen)
	case StateClosed:
		b.maybeOpenLocked(now)
	}
}

// maybeOpenLocked opens a Closed breaker once the rolling window holds at
// least VolumeThreshold samples and the failure ratio reaches
// ErrorThresholdPercent (inclusive).
func (b *Breaker) maybeOpenLocked(now time.Time) {
	total := len(b.samples)
	if total < b.cfg.VolumeThreshold {
		return
	}
	failures := 0
	for _, s := range b.samples {
		if !s.success {
			failures++
		}
	}
	if failures == 0 {
		return
	}
	pct := failures * 100 / total
	if pct >= b.cfg.ErrorThresholdPercent {
		b.openedAt = now
		b.transitionLocked(StateOpen)
	}
}

// State returns a snapshot of the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// UpdateConfig swaps the breaker's thresholds live, for a config reload
// (spec §6 SPEC_FULL supplement). The current state and sample history
// are left as-is; only future Allow/Record calls see the new thresholds.
func (b *Breaker) UpdateConfig(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

// SampleCount returns the number of samples currently inside the rolling
// window — exposed for the "sample count < volume_threshold ⇒ stays
// Closed" testable property (spec §8).
func (b *Breaker) SampleCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictOldLocked(b.clock.Now())
	return len(b.samples)
}

// evictOldLocked drops samples older than RollingWindow, lazily, on each
// mutation (spec §4.5 "Rolling window uses a timestamped bounded ring").
func (b *Breaker) evictOldLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.RollingWindow)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = b.samples[i:]
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	if b.OnTransition != nil && from != to {
		cb := b.OnTransition
		b.mu.Unlock()
		cb(from, to)
		b.mu.Lock()
	}
}
