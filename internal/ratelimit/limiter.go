// Package ratelimit implements the Rate Limiter (C5): a token bucket with
// a burst pool, keyed by one of four client-identity strategies.
package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// Outcome is the per-request admission decision.
type Outcome int

const (
	Allowed Outcome = iota
	AllowedBurst
	Limited
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case AllowedBurst:
		return "allowed_burst"
	case Limited:
		return "limited"
	default:
		return "unknown"
	}
}

// Decision is the outcome plus, for Limited, the reset time.
type Decision struct {
	Outcome Outcome
	ResetAt time.Time
}

// ByIP, ByUserAgent, ByTool, and ByComposite build bucket keys from the
// four supported client-identity strategies.
func ByIP(ip string) string { return ip }

func ByUserAgent(ua string) string { return normalizeUA(ua) }

func ByTool(clientID, tool string) string { return clientID + "::" + tool }

func ByComposite(ip, ua string) string { return ip + "::" + ua }

func normalizeUA(ua string) string {
	if len(ua) > 32 {
		return ua[:32]
	}
	return ua
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	burstUsed  int
	lastRefill time.Time
	windowStart time.Time
	requestCount int
}

// Stats reports limiter occupancy, read without blocking on the buckets
// themselves.
type Stats struct {
	ActiveClients  int
	TotalRequests  int64
	BurstRequests  int64
	TotalBuckets   int
}

// Limiter owns the per-key bucket map. Bucket updates are fine-grained
// (one mutex per bucket); the map itself is guarded by a read-mostly lock.
type Limiter struct {
	cfg models.RateLimitConfig
	log zerolog.Logger

	mu      sync.RWMutex
	buckets map[string]*bucket

	totalRequests atomic.Int64
	burstRequests atomic.Int64

	stopCh chan struct{}
}

func New(cfg models.RateLimitConfig) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 60
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		log:     logging.Component("ratelimit"),
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
}

// Allow decides admission for one request under key: spend a token if one
// is available, else spend from the burst pool, else reject with the next
// reset time. Never returns an error — a limiter-internal fault degrades
// to Allowed with a warning log, since limiting is protective rather than
// load-bearing.
func (l *Limiter) Allow(key string) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Warn().Interface("panic", r).Str("key", key).Msg("rate limiter fault, allowing request")
			decision = Decision{Outcome: Allowed}
		}
	}()

	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	l.refillLocked(b, now)

	b.requestCount++
	l.totalRequests.Add(1)

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Outcome: Allowed}
	}
	if b.burstUsed < l.cfg.BurstSize {
		b.burstUsed++
		l.burstRequests.Add(1)
		return Decision{Outcome: AllowedBurst}
	}

	resetAt := b.lastRefill.Add(l.cfg.WindowDuration)
	return Decision{Outcome: Limited, ResetAt: resetAt}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	now := time.Now()
	b = &bucket{
		tokens:      float64(l.cfg.MaxRequests),
		lastRefill:  now,
		windowStart: now,
	}
	l.buckets[key] = b
	return b
}

// refillLocked applies elapsed-time refill. Caller must hold b.mu.
func (l *Limiter) refillLocked(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	rate := float64(l.cfg.MaxRequests) / l.cfg.WindowDuration.Seconds()
	b.tokens += rate * elapsed.Seconds()
	if b.tokens > float64(l.cfg.MaxRequests) {
		b.tokens = float64(l.cfg.MaxRequests)
	}
	b.lastRefill = now

	// Burst pool replenishes once per window boundary.
	if now.Sub(b.windowStart) >= l.cfg.WindowDuration {
		b.burstUsed = 0
		b.windowStart = now
	}
}

// Stats reports current occupancy without blocking bucket updates.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	count := len(l.buckets)
	l.mu.RUnlock()
	return Stats{
		ActiveClients: count,
		TotalRequests: l.totalRequests.Load(),
		BurstRequests: l.burstRequests.Load(),
		TotalBuckets:  count,
	}
}

// StartJanitor runs the background bucket cleanup task until Stop is
// called. A bucket is removed once it has sat idle for two windows with
// its counters fully restored.
func (l *Limiter) StartJanitor() {
	go func() {
		ticker := time.NewTicker(l.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-2 * l.cfg.WindowDuration)

	l.mu.RLock()
	candidates := make([]string, 0)
	for key, b := range l.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff) && b.tokens >= float64(l.cfg.MaxRequests) && b.burstUsed == 0
		b.mu.Unlock()
		if stale {
			candidates = append(candidates, key)
		}
	}
	l.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}
	l.mu.Lock()
	for _, key := range candidates {
		delete(l.buckets, key)
	}
	l.mu.Unlock()
	l.log.Debug().Int("evicted", len(candidates)).Msg("rate limiter janitor swept stale buckets")
}

// Stop halts the janitor task.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// Reason formats a Limited decision for inclusion in a rejection message.
func Reason(d Decision) string {
	if d.Outcome != Limited {
		return ""
	}
	return fmt.Sprintf("rate limited, reset at %s", d.ResetAt.Format(time.RFC3339))
}
