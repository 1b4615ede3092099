// Package circuitbreaker guards the pipeline's outbound dependencies (the
// model API, the source-control providers) against cascading failures: a
// tripping breaker fails fast and lets stream redelivery absorb the outage.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	StateClosed   State = iota // requests pass through
	StateOpen                  // failing fast
	StateHalfOpen              // probing for recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned when the breaker refuses a request.
var ErrOpen = errors.New("circuit breaker is open")

// Counts tracks outcomes within the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c Counts) failureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

// Requests is counted in before(); outcomes only adjust the tallies.
func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Config tunes one breaker.
type Config struct {
	Name string
	// MaxProbes is how many requests the half-open state admits.
	MaxProbes uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Cooldown is how long the open state lasts before probing.
	Cooldown time.Duration
	// ReadyToTrip decides, on each closed-state failure, whether to open.
	ReadyToTrip func(Counts) bool
}

// ForLLM is tuned for the model API: trip on three consecutive failures,
// cool down for half a minute.
func ForLLM() Config {
	return Config{
		Name:      "llm",
		MaxProbes: 2,
		Interval:  time.Minute,
		Cooldown:  30 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}
}

// ForSCM is tuned for provider APIs: they rate limit rather than fall over,
// so trip only on a sustained failure ratio.
func ForSCM() Config {
	return Config{
		Name:      "scm",
		MaxProbes: 3,
		Interval:  2 * time.Minute,
		Cooldown:  20 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 5 && c.failureRatio() > 0.5
		},
	}
}

// Breaker is a single circuit breaker. The zero value is not usable; use New.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

func New(cfg Config) *Breaker {
	if cfg.MaxProbes == 0 {
		cfg.MaxProbes = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// State reports the current position, advancing open → half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, _ := b.currentState(time.Now())
	return s
}

// Do runs fn if the breaker admits the request, recording the outcome.
func (b *Breaker) Do(fn func() error) error {
	generation, err := b.before()
	if err != nil {
		return err
	}
	err = fn()
	b.after(generation, err == nil)
	return err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxProbes {
		return generation, ErrOpen
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) after(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.currentState(now)
	if generation != current {
		return // outcome from a previous generation
	}

	if success {
		b.counts.onSuccess()
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxProbes {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.cfg.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.newGeneration(now)
	slog.Warn("circuit breaker state change",
		"breaker", b.cfg.Name, "from", prev.String(), "to", state.String())
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		if b.cfg.Interval > 0 {
			b.expiry = now.Add(b.cfg.Interval)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.cfg.Cooldown)
	default:
		b.expiry = time.Time{}
	}
}
