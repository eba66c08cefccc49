// Package connection owns the single pooled connection to the backing store.
// It is the only package that knows the store address and auth material.
package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shared-redis/pkg/config"
	"github.com/Sternrassler/shared-redis/pkg/metrics"
	"github.com/Sternrassler/shared-redis/pkg/storeerr"
)

var acquireTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
	Namespace: metrics.Namespace,
	Name:      "connection_acquire_total",
	Help:      "Store connection acquisition attempts by result",
}, []string{"result"}) // "ok", "reused", "shared", "failed"

// Manager produces a shared client for the configured store. The first
// successful Acquire creates the client; later calls return the same one.
// go-redis pools and reconnects internally, so the client is safe to share.
type Manager struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu       sync.Mutex
	client   *redis.Client
	inflight *attempt
}

// attempt is one dial+PING shared by every caller that arrives while it runs.
type attempt struct {
	done   chan struct{}
	client *redis.Client
	err    error
}

// NewManager creates a connection manager. No connection is made until the
// first Acquire.
func NewManager(cfg *config.Config, logger zerolog.Logger) *Manager {
	if cfg == nil {
		panic("config cannot be nil")
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
	}
}

// Acquire returns the shared client, dialing and verifying it with PING on
// first use. A failed attempt is not cached; the next call dials again.
// The attempt is bounded by the configured dial timeout and never retried.
// Callers arriving while an attempt runs wait for that attempt, each only
// as long as its own ctx allows.
func (m *Manager) Acquire(ctx context.Context) (*redis.Client, error) {
	m.mu.Lock()
	if m.client != nil {
		client := m.client
		m.mu.Unlock()
		acquireTotal.WithLabelValues("reused").Inc()
		return client, nil
	}

	a := m.inflight
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		m.inflight = a
		// The attempt outlives a cancelled caller so that waiters still get a result.
		go m.dial(context.WithoutCancel(ctx), a)
	} else {
		acquireTotal.WithLabelValues("shared").Inc()
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.client, a.err
	case <-ctx.Done():
		return nil, storeerr.Connection("acquire", "", ctx.Err())
	}
}

// dial runs one attempt and publishes its result.
func (m *Manager) dial(ctx context.Context, a *attempt) {
	client, err := m.connect(ctx)

	m.mu.Lock()
	if m.inflight == a {
		m.inflight = nil
		if err == nil {
			m.client = client
		}
	} else if err == nil {
		// Close ran while the attempt was in flight.
		_ = client.Close()
		client, err = nil, storeerr.Connection("acquire", "", redis.ErrClosed)
	}
	m.mu.Unlock()

	a.client, a.err = client, err
	close(a.done)
}

func (m *Manager) connect(ctx context.Context) (*redis.Client, error) {
	opts, err := m.options()
	if err != nil {
		acquireTotal.WithLabelValues("failed").Inc()
		return nil, storeerr.Connection("acquire", "", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		acquireTotal.WithLabelValues("failed").Inc()
		return nil, storeerr.Connection("acquire", "", err)
	}

	acquireTotal.WithLabelValues("ok").Inc()
	m.logger.Info().
		Str("addr", m.Addr()).
		Bool("tls", opts.TLSConfig != nil).
		Msg("Connected to store")

	return client, nil
}

// AcquireOptional is Acquire for callers that must degrade instead of fail:
// on error it logs and reports the store as unavailable.
func (m *Manager) AcquireOptional(ctx context.Context) (*redis.Client, bool) {
	client, err := m.Acquire(ctx)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("addr", m.Addr()).
			Msg("Store unavailable, continuing without it")
		return nil, false
	}
	return client, true
}

// Ping verifies the store answers, acquiring the client if needed.
func (m *Manager) Ping(ctx context.Context) error {
	client, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return storeerr.Connection("ping", "", err)
	}
	return nil
}

// Close closes the held client. A later Acquire dials a fresh one.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inflight = nil
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	if err != nil && err != redis.ErrClosed {
		return fmt.Errorf("close store client: %w", err)
	}
	return nil
}

// Addr returns the store address with credentials redacted.
func (m *Manager) Addr() string {
	addr := m.cfg.RedisAddress()
	if u, err := url.Parse(addr); err == nil {
		return u.Redacted()
	}
	return addr
}

// options translates the configuration into go-redis options.
func (m *Manager) options() (*redis.Options, error) {
	opts, err := redis.ParseURL(m.cfg.RedisAddress())
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}

	opts.DialTimeout = m.cfg.DialTimeout
	// Commands are not retried; a failed call surfaces to the caller.
	opts.MaxRetries = -1
	// Context deadlines reach the socket, so the acquire PING and caller
	// deadlines bound reads and writes instead of the 3s default.
	opts.ContextTimeoutEnabled = true

	tlsConfig, err := m.tlsConfig(opts)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = tlsConfig

	return opts, nil
}

func (m *Manager) tlsConfig(opts *redis.Options) (*tls.Config, error) {
	wantTLS := m.cfg.TLS || opts.TLSConfig != nil || m.cfg.TLSCAFile != "" || m.cfg.TLSCertFile != ""
	if !wantTLS {
		return nil, nil
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		host := opts.Addr
		if u, err := url.Parse("//" + opts.Addr); err == nil {
			host = u.Hostname()
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
	}
	tlsConfig.InsecureSkipVerify = m.cfg.TLSInsecureSkipVerify

	if m.cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(m.cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read tls ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tls ca file %s contains no certificates", m.cfg.TLSCAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if m.cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(m.cfg.TLSCertFile, m.cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
