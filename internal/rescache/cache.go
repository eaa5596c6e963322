// Package rescache implements the Resource Cache (C7): a URI-keyed TTL map
// serving read-mostly MCP resource reads, with a classification table
// deciding per-URI TTL and cacheability.
package rescache

import (
	"fmt"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// ClassificationRule maps a glob pattern over the full URI (scheme
// included, e.g. "*/sensors/motion" matches "loxone://sensors/motion") to
// a TTL and cacheability.
type ClassificationRule struct {
	Pattern    string
	TTL        time.Duration
	Cacheable  bool
}

// DefaultClassification tiers TTLs by how fast each view goes stale:
// sensor readings in seconds, device lists in minutes, room structure in
// hours, health always fresh.
func DefaultClassification() []ClassificationRule {
	return []ClassificationRule{
		{Pattern: "*/sensors/temperature", TTL: 5 * time.Second, Cacheable: true},
		{Pattern: "*/sensors/door-window", TTL: 5 * time.Second, Cacheable: true},
		{Pattern: "*/sensors/motion", TTL: 5 * time.Second, Cacheable: true},
		{Pattern: "*/energy/consumption", TTL: 30 * time.Second, Cacheable: true},
		{Pattern: "*/weather/current", TTL: 30 * time.Second, Cacheable: true},
		{Pattern: "*/devices/all", TTL: 300 * time.Second, Cacheable: true},
		{Pattern: "*/audio/zones", TTL: 300 * time.Second, Cacheable: true},
		{Pattern: "*/rooms", TTL: 3600 * time.Second, Cacheable: true},
		{Pattern: "*/structure/rooms", TTL: 3600 * time.Second, Cacheable: true},
		{Pattern: "*/system/capabilities", TTL: 3600 * time.Second, Cacheable: true},
		{Pattern: "*/system/info", Cacheable: false},
		{Pattern: "*/status/health", Cacheable: false},
	}
}

// Reader computes the payload for a URI on a cache miss.
type Reader func(uri string) (data []byte, mimeType string, err error)

// SoftCap is the entry count past which an insert first sweeps expired
// entries.
const SoftCap = 100

// Cache guards its map with a single read-write lock.
type Cache struct {
	rules []ClassificationRule
	read  Reader
	log   zerolog.Logger

	mu             sync.RWMutex
	entries        map[string]models.CacheEntry
	subscriptions  map[string]bool
	catalogURIs    map[string]bool
	catalogGlobs   []string
}

func New(rules []ClassificationRule, read Reader) *Cache {
	return &Cache{
		rules:         rules,
		read:          read,
		log:           logging.Component("rescache"),
		entries:       make(map[string]models.CacheEntry),
		subscriptions: make(map[string]bool),
		catalogURIs:   make(map[string]bool),
	}
}

// SetCatalog registers the exact resource URIs and the glob patterns
// (expanded from URI templates) that Subscribe validates against. The
// classification rules above decide only TTLs; they are deliberately not a
// validity oracle — a URI can be served with the default TTL and still be
// a perfectly known resource.
func (c *Cache) SetCatalog(uris []string, globs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogURIs = make(map[string]bool, len(uris))
	for _, u := range uris {
		c.catalogURIs[u] = true
	}
	c.catalogGlobs = append([]string(nil), globs...)
}

// knownLocked reports whether uri is in the subscription catalog. Caller
// holds c.mu (read side suffices).
func (c *Cache) knownLocked(uri string) bool {
	if c.catalogURIs[uri] {
		return true
	}
	for _, g := range c.catalogGlobs {
		if wildcard.Match(g, uri) {
			return true
		}
	}
	return false
}

// classify finds the first matching rule for uri, falling back to a
// default 60s cacheable entry.
func (c *Cache) classify(uri string) ClassificationRule {
	for _, r := range c.rules {
		if wildcard.Match(r.Pattern, uri) {
			return r
		}
	}
	return ClassificationRule{Pattern: "*", TTL: 60 * time.Second, Cacheable: true}
}

// Read serves uri from the cache when the entry is fresh, otherwise
// computes the payload and writes it through.
func (c *Cache) Read(uri string) ([]byte, string, error) {
	rule := c.classify(uri)

	if rule.Cacheable {
		c.mu.RLock()
		entry, ok := c.entries[uri]
		c.mu.RUnlock()
		if ok && !entry.Expired(time.Now()) {
			return entry.Data, entry.MimeType, nil
		}
	}

	data, mime, err := c.read(uri)
	if err != nil {
		return nil, "", fmt.Errorf("compute resource %s: %w", uri, err)
	}

	if rule.Cacheable {
		c.writeThrough(uri, data, mime, rule.TTL)
	}
	return data, mime, nil
}

func (c *Cache) writeThrough(uri string, data []byte, mime string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= SoftCap {
		c.sweepExpiredLocked()
	}
	c.entries[uri] = models.CacheEntry{Data: data, MimeType: mime, CreatedAt: time.Now(), TTL: ttl}
}

func (c *Cache) sweepExpiredLocked() {
	now := time.Now()
	for uri, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, uri)
		}
	}
}

// Subscribe validates uri against the resource catalog and records a
// subscription. Notification delivery is a transport-layer concern and
// handled elsewhere.
func (c *Cache) Subscribe(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.knownLocked(uri) {
		return fmt.Errorf("unknown resource uri: %s", uri)
	}
	c.subscriptions[uri] = true
	return nil
}

// Unsubscribe is idempotent: calling it on an unsubscribed uri still
// succeeds.
func (c *Cache) Unsubscribe(uri string) {
	c.mu.Lock()
	delete(c.subscriptions, uri)
	c.mu.Unlock()
}

// Subscribed reports whether uri currently has an active subscription.
func (c *Cache) Subscribed(uri string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[uri]
}

// Size reports the current number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
