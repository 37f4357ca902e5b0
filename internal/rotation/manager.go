package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultFailureThreshold is how many consecutive failures trigger a
// rotation when none of the quota signatures matched
const DefaultFailureThreshold = 5

// quotaSignatures are error substrings that identify an exhausted endpoint.
// A single match rotates immediately without waiting for the threshold.
var quotaSignatures = []string{
	"max requests limit exceeded",
	"max daily request",
	"quota exceeded",
	"command limit",
	"rate limit",
	"command not allowed when used memory",
}

// ErrNoEndpoints indicates the manager was built without any Redis URL
var ErrNoEndpoints = errors.New("no redis endpoints configured")

// Manager owns the active Redis connection and rotates across a fixed set
// of endpoint URLs when the active one looks exhausted or dead. Rotation is
// event driven: consumers report every operation outcome and the manager
// decides when to advance.
type Manager struct {
	endpoints   []string
	statePath   string
	threshold   int
	dialTimeout time.Duration
	logger      *slog.Logger

	mu       sync.RWMutex
	client   *redis.Client
	index    int
	failures int
	rotated  int64
}

// ManagerConfig holds configuration for the rotation manager
type ManagerConfig struct {
	Endpoints        []string
	StatePath        string
	FailureThreshold int
	DialTimeout      time.Duration
	Logger           *slog.Logger
}

// NewManager creates a rotation manager, restoring the persisted position
// and connecting to the current endpoint. A connect failure is not fatal:
// the failure counter starts ticking and rotation recovers.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	state := LoadState(cfg.StatePath, len(cfg.Endpoints))

	m := &Manager{
		endpoints:   cfg.Endpoints,
		statePath:   cfg.StatePath,
		threshold:   threshold,
		dialTimeout: dialTimeout,
		logger:      cfg.Logger,
		index:       state.CurrentIndex,
	}

	client, err := m.connect(m.index)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("initial redis connect failed",
				slog.Int("endpoint_index", m.index),
				slog.Any("error", err))
		}
		// An unreachable endpoint still gets a client: operations fail
		// with errors that feed ReportFailure until rotation recovers.
		m.failures = 1
		client = redis.NewClient(mustParseURL(m.endpoints[m.index], m.dialTimeout))
	}
	m.client = client

	if m.logger != nil {
		m.logger.Info("redis rotation manager started",
			slog.Int("endpoints", len(cfg.Endpoints)),
			slog.Int("current_index", m.index))
	}
	return m, nil
}

// connect builds a client for the endpoint at index and verifies it with a
// ping
func (m *Manager) connect(index int) (*redis.Client, error) {
	opts, err := redis.ParseURL(m.endpoints[index])
	if err != nil {
		return nil, fmt.Errorf("invalid redis url at index %d: %w", index, err)
	}
	opts.DialTimeout = m.dialTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return client, nil
}

// Redis returns the active client. It is never nil: an unreachable
// endpoint yields a client whose operations fail, and those failures feed
// ReportFailure until rotation moves on.
func (m *Manager) Redis() *redis.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// ReportSuccess resets the consecutive failure counter
func (m *Manager) ReportSuccess() {
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
}

// ReportFailure records a failed operation. A quota signature rotates
// immediately; otherwise rotation waits for the consecutive threshold.
func (m *Manager) ReportFailure(err error) {
	if err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if isQuotaError(err) {
		if m.logger != nil {
			m.logger.Warn("redis quota signature detected", slog.Any("error", err))
		}
		m.rotateLocked()
		return
	}

	m.failures++
	if m.failures >= m.threshold {
		if m.logger != nil {
			m.logger.Warn("redis failure threshold reached",
				slog.Int("failures", m.failures),
				slog.Any("error", err))
		}
		m.rotateLocked()
	}
}

// Rotate advances to the next endpoint explicitly
func (m *Manager) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked()
}

// rotateLocked advances the endpoint ring, persists the position and swaps
// the client. Caller holds m.mu.
func (m *Manager) rotateLocked() {
	if len(m.endpoints) < 2 {
		// Nothing to rotate to, keep retrying the sole endpoint
		m.failures = 0
		return
	}

	old := m.client
	m.index = (m.index + 1) % len(m.endpoints)
	m.failures = 0
	m.rotated++

	if err := SaveState(m.statePath, &State{
		CurrentIndex:   m.index,
		TotalEndpoints: len(m.endpoints),
		LastUpdate:     time.Now().UTC(),
	}); err != nil && m.logger != nil {
		m.logger.Warn("failed to persist rotation state", slog.Any("error", err))
	}

	// The next endpoint is adopted without a ping so the lock is never
	// held across a network round trip; its health is discovered by the
	// first operations through ReportFailure.
	m.client = redis.NewClient(mustParseURL(m.endpoints[m.index], m.dialTimeout))

	if old != nil {
		old.Close()
	}
	if m.logger != nil {
		m.logger.Info("rotated redis endpoint", slog.Int("current_index", m.index))
	}
}

// Info describes the manager's current position
type Info struct {
	CurrentIndex   int   `json:"currentIndex"`
	TotalEndpoints int   `json:"totalEndpoints"`
	Failures       int   `json:"failures"`
	Rotations      int64 `json:"rotations"`
}

// Info returns a snapshot of the rotation position
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{
		CurrentIndex:   m.index,
		TotalEndpoints: len(m.endpoints),
		Failures:       m.failures,
		Rotations:      m.rotated,
	}
}

// Close releases the active client
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func isQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range quotaSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// mustParseURL builds client options for an endpoint already validated at
// startup; a parse error here means the URL list changed under us
func mustParseURL(url string, dialTimeout time.Duration) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return &redis.Options{Addr: url, DialTimeout: dialTimeout}
	}
	opts.DialTimeout = dialTimeout
	return opts
}
