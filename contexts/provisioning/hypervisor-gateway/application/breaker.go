package application

import (
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerSettings tune the failure window. Zero values fall back to the
// defaults.
type BreakerSettings struct {
	WindowSize  int
	MinSamples  int
	FailureRate float64
	Cooldown    time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.WindowSize <= 0 {
		s.WindowSize = 20
	}
	if s.MinSamples <= 0 {
		s.MinSamples = 5
	}
	if s.FailureRate <= 0 {
		s.FailureRate = 0.5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return s
}

// Breaker is a sliding-window circuit breaker. Closed admits every call and
// opens once the window's failure rate crosses the threshold. Open rejects
// until the cooldown elapses, then a single half-open probe decides whether
// to close again.
type Breaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	now      func() time.Time

	state    BreakerState
	window   []bool
	next     int
	filled   int
	openedAt time.Time
	probing  bool
}

func NewBreaker(settings BreakerSettings, now func() time.Time) *Breaker {
	settings = settings.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		settings: settings,
		now:      now,
		window:   make([]bool, settings.WindowSize),
	}
}

// Allow reserves a call slot. A false return means the call must not be
// made; every true return must be balanced by Record or Release.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.settings.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	default: // half-open, one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Record reports the outcome of an admitted call. A half-open probe closes
// the breaker on success and re-opens it on failure.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if success {
			b.reset()
			return
		}
		b.trip()
		return
	}

	b.window[b.next] = !success
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
	if b.state == BreakerClosed && b.filled >= b.settings.MinSamples && b.failureRate() >= b.settings.FailureRate {
		b.trip()
	}
}

// Release frees a reserved slot without an outcome, for calls aborted by
// cancellation before the hypervisor answered.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *Breaker) failureRate() float64 {
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.probing = false
}

func (b *Breaker) reset() {
	b.state = BreakerClosed
	b.probing = false
	b.next = 0
	b.filled = 0
	for i := range b.window {
		b.window[i] = false
	}
}
