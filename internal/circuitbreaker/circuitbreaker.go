// Package circuitbreaker guards provider reads so a dead node fails preflight
// fast instead of stalling every dispatch on a network timeout.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"

	"github.com/tenfinney/assist/internal/clock"
	"github.com/tenfinney/assist/internal/metrics"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = fmt.Errorf("circuit breaker is open: provider temporarily unavailable")

type State int

const (
	StateClosed   State = iota // reads pass through
	StateOpen                  // reads fail fast until the cooldown elapses
	StateHalfOpen              // one trial read at a time decides
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes a Breaker. Zero values fall back to DefaultConfig.
type Config struct {
	// Name labels log lines and the breaker gauge.
	Name string

	// TripAfter consecutive failed reads open the breaker.
	TripAfter int

	// CloseAfter consecutive successful trial reads close it again.
	CloseAfter int

	// Cooldown is how long an open breaker rejects reads before admitting a trial read.
	Cooldown time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// OnStateChange runs after the breaker lock is released.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		Name:       "provider_reads",
		TripAfter:  5,
		CloseAfter: 2,
		Cooldown:   30 * time.Second,
	}
}

// Breaker counts consecutive read failures across all operations of one
// provider. Once open, a single trial read is let through per cooldown.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inTrial   bool
	openedAt  time.Time
	lastOp    string
	lastErr   error
}

func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = def.TripAfter
	}
	if cfg.CloseAfter <= 0 {
		cfg.CloseAfter = def.CloseAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	metrics.ProviderBreakerOpen.WithLabelValues(cfg.Name).Set(0)
	return &Breaker{cfg: cfg}
}

// stateLocked promotes open to half-open once the cooldown elapsed.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.cfg.Clock.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Execute runs the read op unless the breaker is open, and records whether
// it failed. Rejected calls return an error wrapping ErrOpen that names the
// read which tripped the breaker.
func (b *Breaker) Execute(op string, fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(op, err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if !b.inTrial {
			b.inTrial = true
			b.state = StateHalfOpen
			return nil
		}
	}
	return fmt.Errorf("%w: %s failing since %s: %v",
		ErrOpen, b.lastOp, b.openedAt.Format(time.RFC3339), b.lastErr)
}

func (b *Breaker) record(op string, err error) {
	b.mu.Lock()
	trial := b.state == StateHalfOpen
	if trial {
		b.inTrial = false
	}

	next := b.state
	if err != nil {
		b.failures++
		b.successes = 0
		b.lastOp, b.lastErr = op, err
		if trial || b.failures >= b.cfg.TripAfter {
			next = StateOpen
			b.openedAt = b.cfg.Clock.Now()
		}
	} else {
		b.failures = 0
		b.successes++
		if trial && b.successes >= b.cfg.CloseAfter {
			next = StateClosed
		}
	}
	from, changed := b.state, b.state != next
	b.state = next
	b.mu.Unlock()

	if changed {
		b.changed(from, next)
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.successes = 0, 0
	b.inTrial = false
	b.mu.Unlock()

	if from != StateClosed {
		b.changed(from, StateClosed)
	}
}

func (b *Breaker) changed(from, to State) {
	open := 0.0
	if to == StateOpen {
		open = 1
	}
	metrics.ProviderBreakerOpen.WithLabelValues(b.cfg.Name).Set(open)

	logger.WithFields(logger.Fields{
		"breaker": b.cfg.Name,
		"from":    from.String(),
		"to":      to.String(),
	}).Warn("provider circuit breaker changed state")

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	LastFailedOp        string
	LastError           string
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		State:               b.stateLocked(),
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		LastFailedOp:        b.lastOp,
	}
	if b.lastErr != nil {
		stats.LastError = b.lastErr.Error()
	}
	return stats
}
