// Package deviceclient talks to the Miniserver: issuing single device
// commands, fetching state batches, and performing liveness checks over
// its HTTP/WebSocket API. The rest of the control plane depends on the
// Client interface only, never on this implementation.
package deviceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/circuit"
	"github.com/loxone-mcp/control-plane/internal/logging"
)

// StateSample is one raw reading as returned by the controller, before the
// value resolver turns it into a ResolvedValue.
type StateSample struct {
	UUID      string
	Value     interface{}
	Timestamp time.Time
}

// CommandResult is the outcome of a single device command.
type CommandResult struct {
	UUID            string
	PreviousState   interface{}
	Response        string
}

// Client is the capability set the rest of the control plane depends on.
// It is an interface (not a type hierarchy) per the "polymorphism without
// inheritance" design note.
type Client interface {
	SendCommand(ctx context.Context, uuid, command string) (CommandResult, error)
	GetDeviceStates(ctx context.Context, uuids []string) (map[string]StateSample, error)
	HealthCheck(ctx context.Context) error
}

// Config configures the HTTP/WebSocket client.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	CommandTimeout time.Duration // per-call deadline, default 5s
	WebSocketURL   string        // optional; empty disables the live push feed
}

func (c *Config) applyDefaults() {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Second
	}
}

// HTTPClient is the production Client implementation: an HTTP transport with
// a cached resolver for the Miniserver host, a circuit breaker around live
// calls so a flapping controller degrades instead of cascading, and an
// optional WebSocket feed that keeps a last-known-value cache warm for the
// value resolver's cached-source fallback.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	resolver *dnscache.Resolver
	breaker *circuit.Breaker
	log     zerolog.Logger

	mu       sync.RWMutex
	lastSeen map[string]StateSample // live-push cache, keyed by uuid
	onChange func(uuid string, old, newVal interface{})

	wsConn   *websocket.Conn
	wsCancel context.CancelFunc
}

// SetStateHook registers a callback invoked whenever an observed value for
// a uuid differs from the last one seen. The sensor journal is fed through
// this hook. Call before StartLivePush.
func (c *HTTPClient) SetStateHook(fn func(uuid string, old, newVal interface{})) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// New builds an HTTPClient. It does not block on connecting; callers that
// want the WebSocket feed call StartLivePush separately so startup failures
// of the live feed never block structure-cache warmup.
func New(cfg Config) *HTTPClient {
	cfg.applyDefaults()

	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil || len(ips) == 0 {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}

	return &HTTPClient{
		cfg:      cfg,
		http:     &http.Client{Transport: transport},
		resolver: resolver,
		breaker:  circuit.NewBreaker("device-client", circuit.DefaultConfig()),
		log:      logging.Component("deviceclient"),
		lastSeen: make(map[string]StateSample),
	}
}

// SendCommand issues one device command. Write commands are never retried
// by this layer — callers in the fan-out engine report failures per device
// instead.
func (c *HTTPClient) SendCommand(ctx context.Context, uuid, command string) (CommandResult, error) {
	if !c.breaker.Allow() {
		return CommandResult{}, circuit.ErrOpen
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/jdev/sps/io/%s/%s", c.cfg.BaseURL, uuid, command)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.breaker.RecordFailure(err)
		return CommandResult{}, err
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure(err)
		return CommandResult{}, fmt.Errorf("send command %s to %s: %w", command, uuid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		err := fmt.Errorf("miniserver returned %d", resp.StatusCode)
		c.breaker.RecordFailure(err)
		return CommandResult{}, err
	}
	if resp.StatusCode >= 400 {
		// The command itself was rejected; the controller is healthy.
		c.breaker.RecordFailureClass(fmt.Errorf("rejected: %d", resp.StatusCode), circuit.FailureRejected)
		return CommandResult{}, fmt.Errorf("command rejected with status %d", resp.StatusCode)
	}

	var body struct {
		LL struct {
			Value string `json:"value"`
		} `json:"LL"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body) // best-effort; absence isn't fatal

	c.breaker.RecordSuccess()

	prev := c.previousState(uuid)
	return CommandResult{UUID: uuid, PreviousState: prev, Response: body.LL.Value}, nil
}

// GetDeviceStates fetches every requested uuid under one shared deadline,
// one HTTP request per uuid. Partial failures are represented by the
// absence of an entry in the returned map; callers (the value resolver)
// fall back to cached/inferred sources for missing UUIDs.
func (c *HTTPClient) GetDeviceStates(ctx context.Context, uuids []string) (map[string]StateSample, error) {
	if len(uuids) == 0 {
		return map[string]StateSample{}, nil
	}
	if !c.breaker.Allow() {
		return nil, circuit.ErrOpen
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	result := make(map[string]StateSample, len(uuids))
	for _, uuid := range uuids {
		url := fmt.Sprintf("%s/jdev/sps/io/%s", c.cfg.BaseURL, uuid)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		if c.cfg.Username != "" {
			req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn().Err(err).Str("uuid", uuid).Msg("state fetch failed, leaving uuid unresolved")
			continue
		}
		var body struct {
			LL struct {
				Value interface{} `json:"value"`
			} `json:"LL"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			continue
		}
		sample := StateSample{UUID: uuid, Value: body.LL.Value, Timestamp: time.Now()}
		result[uuid] = sample
		c.recordLive(sample)
	}

	c.breaker.RecordSuccess()
	return result, nil
}

// HealthCheck performs a liveness probe against the controller.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/jdev/sps/status", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// CachedState returns the last live-pushed value for uuid, if any. The value
// resolver calls this as its "cached" fallback source.
func (c *HTTPClient) CachedState(uuid string) (StateSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.lastSeen[uuid]
	return s, ok
}

func (c *HTTPClient) previousState(uuid string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.lastSeen[uuid]; ok {
		return s.Value
	}
	return nil
}

func (c *HTTPClient) recordLive(s StateSample) {
	c.mu.Lock()
	prev, seen := c.lastSeen[s.UUID]
	c.lastSeen[s.UUID] = s
	hook := c.onChange
	c.mu.Unlock()

	if hook == nil {
		return
	}
	if !seen {
		hook(s.UUID, nil, s.Value)
		return
	}
	if prev.Value != s.Value {
		hook(s.UUID, prev.Value, s.Value)
	}
}

// StartLivePush connects to the Miniserver's WebSocket status feed and keeps
// the live cache warm. It reconnects with a fixed backoff on drop and runs
// until ctx is cancelled or Stop is called.
func (c *HTTPClient) StartLivePush(ctx context.Context) {
	if c.cfg.WebSocketURL == "" {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.wsCancel = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WebSocketURL, nil)
			if err != nil {
				c.log.Warn().Err(err).Msg("live push connect failed, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}
			c.mu.Lock()
			c.wsConn = conn
			c.mu.Unlock()
			c.readLoop(ctx, conn)
		}
	}()
}

func (c *HTTPClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var msg struct {
			UUID  string      `json:"uuid"`
			Value interface{} `json:"value"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			c.log.Warn().Err(err).Msg("live push read failed")
			return
		}
		if msg.UUID == "" {
			continue
		}
		c.recordLive(StateSample{UUID: msg.UUID, Value: msg.Value, Timestamp: time.Now()})
	}
}

// Stop tears down the live push connection, if any.
func (c *HTTPClient) Stop() {
	if c.wsCancel != nil {
		c.wsCancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil {
		c.wsConn.Close()
	}
}
