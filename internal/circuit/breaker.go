// Package circuit shields the rest of the control plane from a flapping
// controller. After a run of failed Miniserver calls the breaker opens and
// short-circuits further attempts; once a backoff elapses a single probe
// call is let through, and the breaker closes again only after a run of
// successes.
package circuit

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/logging"
)

// ErrOpen is returned by callers that consult Allow and find the breaker
// open.
var ErrOpen = errors.New("controller circuit open")

// State is the breaker's admission mode.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen rejects every call until the backoff elapses.
	StateOpen
	// StateHalfOpen admits a single probe call at a time.
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

// FailureClass tells the breaker how to weigh a failed controller call.
type FailureClass int

const (
	// FailureTransient counts toward the trip threshold; retrying later
	// may succeed.
	FailureTransient FailureClass = iota
	// FailureOverload trips immediately — the controller told us to back
	// off, so hammering it with threshold-many more calls helps nobody.
	FailureOverload
	// FailureRejected never trips: the controller refused this specific
	// command, and a different command would still go through.
	FailureRejected
	// FailureAuth never trips either; bad credentials are a configuration
	// problem no amount of waiting fixes.
	FailureAuth
)

// Config tunes trip and recovery behavior. Zero values fall back to the
// defaults.
type Config struct {
	// FailureThreshold is how many consecutive transient failures open the
	// breaker.
	FailureThreshold int
	// SuccessThreshold is how many consecutive probe successes close it
	// again.
	SuccessThreshold int
	// InitialBackoff is the first open-state wait; each reopen multiplies
	// it by BackoffFactor up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig suits a Miniserver on a LAN: trip fast, probe after a
// second, never wait more than two minutes.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		InitialBackoff:   time.Second,
		MaxBackoff:       2 * time.Minute,
		BackoffFactor:    2.0,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = d.BackoffFactor
	}
}

// Breaker tracks consecutive call outcomes against one upstream. All
// methods are safe for concurrent use.
type Breaker struct {
	mu   sync.RWMutex
	cfg  Config
	name string
	log  zerolog.Logger

	state         State
	failures      int
	successes     int
	probeInFlight bool

	backoff  time.Duration
	openedAt time.Time

	lastErr     error
	totalTrips  int64
	totalCalls  int64
	totalFailed int64
}

// NewBreaker builds a closed breaker named for its upstream.
func NewBreaker(name string, cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		cfg:     cfg,
		name:    name,
		log:     logging.Component("circuit").With().Str("breaker", name).Logger(),
		state:   StateClosed,
		backoff: cfg.InitialBackoff,
	}
}

// Allow reports whether a call may proceed now. When the open-state
// backoff has elapsed it transitions to half-open and admits the caller as
// the probe; a half-open breaker admits only one probe at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.backoff {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.log.Info().Msg("backoff elapsed, probing controller")
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess feeds a successful call back into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.failures = 0
	b.successes++

	if b.state == StateHalfOpen {
		b.probeInFlight = false
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.backoff = b.cfg.InitialBackoff
			b.log.Info().Msg("controller recovered, circuit closed")
		}
	}
}

// RecordFailure classifies err and feeds it back into the breaker.
func (b *Breaker) RecordFailure(err error) {
	b.RecordFailureClass(err, Classify(err))
}

// RecordFailureClass feeds a failed call back with an explicit class, for
// callers that already know how the controller responded.
func (b *Breaker) RecordFailureClass(err error, class FailureClass) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalFailed++
	b.successes = 0
	b.lastErr = err

	switch class {
	case FailureRejected, FailureAuth:
		// The upstream is reachable; it just said no. Clear the probe slot
		// so a half-open breaker can try again, but leave the failure run
		// untouched.
		if b.state == StateHalfOpen {
			b.probeInFlight = false
		}
		b.log.Debug().Err(err).Msg("non-tripping controller failure")
		return
	case FailureOverload:
		b.failures = b.cfg.FailureThreshold
	default:
		b.failures++
	}

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip(err)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.backoff = time.Duration(float64(b.backoff) * b.cfg.BackoffFactor)
		if b.backoff > b.cfg.MaxBackoff {
			b.backoff = b.cfg.MaxBackoff
		}
		b.trip(err)
	}
}

// trip opens the breaker. Caller holds b.mu.
func (b *Breaker) trip(err error) {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.probeInFlight = false
	b.totalTrips++
	b.log.Warn().Err(err).Dur("backoff", b.backoff).Int("failures", b.failures).Msg("circuit opened")
}

// Reset forces the breaker closed and clears the failure run.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probeInFlight = false
	b.backoff = b.cfg.InitialBackoff
	b.lastErr = nil
}

// State returns the current admission mode.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	Name           string        `json:"name"`
	State          string        `json:"state"`
	Failures       int           `json:"consecutive_failures"`
	Backoff        time.Duration `json:"backoff_ms"`
	TotalCalls     int64         `json:"total_calls"`
	TotalFailed    int64         `json:"total_failed"`
	TotalTrips     int64         `json:"total_trips"`
	LastError      string        `json:"last_error,omitempty"`
	RetryAvailable time.Duration `json:"retry_in_ms,omitempty"`
}

// Status reports the breaker's current snapshot.
func (b *Breaker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Status{
		Name:        b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		Backoff:     b.backoff,
		TotalCalls:  b.totalCalls,
		TotalFailed: b.totalFailed,
		TotalTrips:  b.totalTrips,
	}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	if b.state == StateOpen {
		if remaining := b.backoff - time.Since(b.openedAt); remaining > 0 {
			st.RetryAvailable = remaining
		}
	}
	return st
}

// Classify maps a controller error onto a FailureClass by inspecting its
// message. The Miniserver's HTTP API reports most conditions only as
// status codes folded into the error text, so substring matching is the
// honest option here.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureTransient
	}
	msg := strings.ToLower(err.Error())

	switch {
	case hasAny(msg, "503", "429", "too many", "overload", "connection reset"):
		return FailureOverload
	case hasAny(msg, "401", "403", "unauthorized", "forbidden", "authentication"):
		return FailureAuth
	case hasAny(msg, "400", "404", "bad request", "rejected", "unknown uuid", "malformed"):
		return FailureRejected
	default:
		return FailureTransient
	}
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
