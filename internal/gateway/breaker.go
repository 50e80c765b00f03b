package gateway

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrOpen is returned by Breaker.Allow when calls to the target are not
// currently permitted.
var ErrOpen = errors.New("circuit breaker is open")

// State is a circuit breaker state.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a count-based circuit breaker.
type BreakerConfig struct {
	WindowSize            int           `default:"10"  usage:"Number of most recent calls tracked by the breaker"`
	MinimumCalls          int           `default:"3"   usage:"Calls recorded before failure rates are evaluated"`
	FailureRateThreshold  float64       `default:"50"  usage:"Failure rate percentage that opens the breaker"`
	SlowCallRateThreshold float64       `default:"50"  usage:"Slow call rate percentage that opens the breaker"`
	SlowCallDuration      time.Duration `default:"2s"  usage:"Calls slower than this count as slow"`
	OpenWait              time.Duration `default:"10s" usage:"Time spent open before trial calls are allowed"`
	HalfOpenPermits       int           `default:"3"   usage:"Trial calls permitted while half-open"`
}

// DefaultBreakerConfig returns the breaker policy used for remote authorities.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:            10,
		MinimumCalls:          3,
		FailureRateThreshold:  50,
		SlowCallRateThreshold: 50,
		SlowCallDuration:      2 * time.Second,
		OpenWait:              10 * time.Second,
		HalfOpenPermits:       3,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinimumCalls <= 0 || c.MinimumCalls > c.WindowSize {
		c.MinimumCalls = c.WindowSize
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	if c.SlowCallRateThreshold <= 0 {
		c.SlowCallRateThreshold = d.SlowCallRateThreshold
	}
	if c.SlowCallDuration <= 0 {
		c.SlowCallDuration = d.SlowCallDuration
	}
	if c.OpenWait <= 0 {
		c.OpenWait = d.OpenWait
	}
	if c.HalfOpenPermits <= 0 {
		c.HalfOpenPermits = d.HalfOpenPermits
	}
	return c
}

type callOutcome struct {
	failed bool
	slow   bool
}

// Breaker is a circuit breaker over the last WindowSize call outcomes.
// It is safe for concurrent use and is shared by every caller of one target.
type Breaker struct {
	name         string
	cfg          BreakerConfig
	now          func() time.Time
	onTransition func(name string, from, to State)

	mu       sync.Mutex
	state    State
	openedAt time.Time
	window   []callOutcome
	next     int
	filled   int
	trials   int
	passed   int
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithTransitionHook registers fn to be called on every state change.
// fn runs under the breaker lock and must not call back into the breaker.
func WithTransitionHook(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) {
		b.onTransition = fn
	}
}

// NewBreaker creates a closed breaker for the named target.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	cfg = cfg.normalized()
	b := &Breaker{
		name:         name,
		cfg:          cfg,
		now:          time.Now,
		onTransition: func(string, State, State) {},
		window:       make([]callOutcome, cfg.WindowSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the target name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving OPEN to HALF_OPEN when the wait
// has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow reports whether a call may proceed. Every permitted call must be
// followed by exactly one Record or Release.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenPermits {
			return ErrOpen
		}
		b.trials++
	}
	return nil
}

// Record registers the outcome of a permitted call.
func (b *Breaker) Record(elapsed time.Duration, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		// Late result of a call permitted before the breaker opened.
		return
	case StateHalfOpen:
		if failed {
			b.transition(StateOpen)
			return
		}
		b.passed++
		if b.passed >= b.cfg.HalfOpenPermits {
			b.transition(StateClosed)
		}
		return
	}

	b.window[b.next] = callOutcome{
		failed: failed,
		slow:   elapsed > b.cfg.SlowCallDuration,
	}
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
	if b.filled < b.cfg.MinimumCalls {
		return
	}

	var failures, slow int
	for i := 0; i < b.filled; i++ {
		if b.window[i].failed {
			failures++
		}
		if b.window[i].slow {
			slow++
		}
	}
	total := float64(b.filled)
	if float64(failures)*100/total >= b.cfg.FailureRateThreshold ||
		float64(slow)*100/total >= b.cfg.SlowCallRateThreshold {
		b.transition(StateOpen)
	}
}

// Release returns the permit of a call whose outcome says nothing about the
// target, such as one the caller abandoned. No outcome is recorded.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.trials > b.passed {
		b.trials--
	}
}

func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenWait {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateHalfOpen:
		b.trials, b.passed = 0, 0
	case StateClosed:
		b.next, b.filled = 0, 0
		clear(b.window)
	}
	b.onTransition(b.name, from, to)
}
