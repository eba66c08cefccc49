package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shared-redis/pkg/config"
	"github.com/Sternrassler/shared-redis/pkg/connection"
	"github.com/Sternrassler/shared-redis/pkg/storeerr"
)

// DefaultRetryInterval is how often operations retry acquiring a store
// that was unavailable.
const DefaultRetryInterval = 10 * time.Second

// StatusUnavailable is reported by GetCacheInfo when no store is reachable.
const StatusUnavailable = "Redis not available"

// infoSections are merged by GetCacheInfo.
var infoSections = []string{"memory", "stats", "keyspace"}

var errNilEnvelope = errors.New("cache envelope cannot be nil")

// Manager is an advisory cache over the shared store. When the store is
// disabled or unreachable every operation degrades to a miss or a no-op
// instead of failing; only serialization and command errors reach callers.
// A Manager is safe for concurrent use.
type Manager struct {
	cfg    *config.Config
	conns  *connection.Manager
	codec  Codec
	logger zerolog.Logger
	now    func() time.Time

	retryInterval time.Duration

	mu        sync.Mutex
	client    *redis.Client
	lastRetry time.Time
	retrying  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec overrides the codec selected by the configuration.
func WithCodec(c Codec) Option {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithClock sets the time source used to stamp envelopes.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetryInterval sets how often operations retry an unavailable store.
// Zero means every operation retries, one attempt at a time.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retryInterval = d
		}
	}
}

// NewManager creates a cache manager and tries to acquire the store once.
// An unavailable store is logged, not returned.
func NewManager(ctx context.Context, cfg *config.Config, conns *connection.Manager, logger zerolog.Logger, opts ...Option) *Manager {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if conns == nil {
		panic("connection manager cannot be nil")
	}

	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		logger.Warn().Err(err).Msg("Unknown codec, using json")
		codec = JSONCodec{}
	}

	m := &Manager{
		cfg:             cfg,
		conns:           conns,
		codec:           codec,
		logger:          logger,
		now:             time.Now,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(m)
	}

	if !cfg.CacheEnabled {
		m.logger.Info().Msg("Cache disabled by configuration")
		return m
	}
	m.mu.Lock()
	m.lastRetry = time.Now()
	m.mu.Unlock()
	m.acquire(ctx)
	return m
}

// Codec returns the envelope codec in use.
func (m *Manager) Codec() Codec {
	return m.codec
}

// IsAvailable reports whether caching is enabled and a store handle is held.
// Without a handle it makes a fresh acquisition attempt, bounded by ctx and
// the dial timeout. A held handle keeps reporting true after the store goes
// away; operations then degrade one call at a time until it answers again.
func (m *Manager) IsAvailable(ctx context.Context) bool {
	if !m.cfg.CacheEnabled {
		return false
	}
	if c := m.held(); c != nil {
		return true
	}
	return m.acquire(ctx) != nil
}

func (m *Manager) held() *redis.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// acquire asks the connection manager for a client and remembers the result.
func (m *Manager) acquire(ctx context.Context) *redis.Client {
	client, ok := m.conns.AcquireOptional(ctx)
	if !ok {
		return nil
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return client
}

// handle returns the client for an operation, or nil when the cache must degrade.
func (m *Manager) handle(ctx context.Context) *redis.Client {
	if !m.cfg.CacheEnabled {
		return nil
	}

	m.mu.Lock()
	if m.client != nil {
		client := m.client
		m.mu.Unlock()
		return client
	}
	// One operation retries per interval; the rest degrade without waiting.
	if m.retrying || time.Since(m.lastRetry) < m.retryInterval {
		m.mu.Unlock()
		return nil
	}
	m.retrying = true
	m.lastRetry = time.Now()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.retrying = false
		m.mu.Unlock()
	}()
	return m.acquire(ctx)
}

// degraded records an operation answered without a store.
func (m *Manager) degraded(op, key string) {
	CacheDegraded.WithLabelValues(op).Inc()
	m.logger.Debug().
		Str("operation", op).
		Str("key", key).
		Msg("Cache unavailable, skipping")
}

// classify turns a go-redis failure into a storeerr value. Connection errors
// are logged and swallowed (nil); command errors are returned.
func (m *Manager) classify(op, key string, err error) error {
	CacheErrors.WithLabelValues(op).Inc()
	serr := storeerr.FromRedis(op, key, err)
	if storeerr.IsConnection(serr) {
		if errors.Is(err, redis.ErrClosed) {
			m.mu.Lock()
			m.client = nil
			m.mu.Unlock()
		}
		m.logger.Warn().
			Err(err).
			Str("operation", op).
			Str("key", key).
			Msg("Cache store unreachable, degrading")
		return nil
	}
	m.logger.Error().
		Err(err).
		Str("operation", op).
		Str("key", key).
		Msg("Cache command rejected")
	return serr
}

// GetRaw returns the stored bytes for key. found is false when the key is
// absent or the store is unavailable.
func (m *Manager) GetRaw(ctx context.Context, key string) (data []byte, found bool, err error) {
	client := m.handle(ctx)
	if client == nil {
		m.degraded("get", key)
		CacheMisses.Inc()
		return nil, false, nil
	}

	data, err = client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			m.logger.Debug().Str("key", key).Msg("Cache miss")
			return nil, false, nil
		}
		if cerr := m.classify("get", key, err); cerr != nil {
			return nil, false, cerr
		}
		CacheMisses.Inc()
		return nil, false, nil
	}

	CacheHits.Inc()
	m.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Cache hit")
	return data, true, nil
}

// SetRaw stores data under key with the configured TTL. It reports whether
// the value was written.
func (m *Manager) SetRaw(ctx context.Context, key string, data []byte) (bool, error) {
	client := m.handle(ctx)
	if client == nil {
		m.degraded("set", key)
		return false, nil
	}

	if err := client.Set(ctx, key, data, m.cfg.CacheTTL).Err(); err != nil {
		return false, m.classify("set", key, err)
	}

	CacheEntryBytes.Observe(float64(len(data)))
	m.logger.Debug().
		Str("key", key).
		Dur("ttl", m.cfg.CacheTTL).
		Int("bytes", len(data)).
		Msg("Cache set")
	return true, nil
}

// Get returns the envelope stored under key, or nil when there is none or
// the store is unavailable. A stored value that cannot be decoded is
// deleted and reported as a serialization error.
func Get[T any](ctx context.Context, m *Manager, key string) (*Envelope[T], error) {
	data, found, err := m.GetRaw(ctx, key)
	if err != nil || !found {
		return nil, err
	}

	var env Envelope[T]
	if err := m.codec.Unmarshal(data, &env); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		m.logger.Error().
			Err(err).
			Str("key", key).
			Str("codec", m.codec.Name()).
			Msg("Corrupt cache entry, evicting")
		m.evict(ctx, key)
		return nil, storeerr.Serialization("get", key, err)
	}

	env.CachedAt = env.CachedAt.UTC()
	if env.CacheKey != "" && env.CacheKey != key {
		m.logger.Warn().
			Str("key", key).
			Str("envelope_key", env.CacheKey).
			Msg("Cache envelope key mismatch")
	}
	return &env, nil
}

// evict removes a corrupt entry, ignoring failures.
func (m *Manager) evict(ctx context.Context, key string) {
	client := m.held()
	if client == nil {
		return
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		m.logger.Debug().Err(err).Str("key", key).Msg("Failed to evict corrupt entry")
	}
}

// Set encodes env and stores it under key with the configured TTL. It
// returns false without error when the store is unavailable. Encoding
// failures are returned even then.
func Set[T any](ctx context.Context, m *Manager, key string, env *Envelope[T]) (bool, error) {
	if env == nil {
		return false, storeerr.Serialization("set", key, errNilEnvelope)
	}

	data, err := m.codec.Marshal(env)
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		return false, storeerr.Serialization("set", key, err)
	}
	return m.SetRaw(ctx, key, data)
}

// CacheResponse fingerprints request under prefix and stores response in a
// fresh envelope. The envelope is returned whether or not it was stored.
func CacheResponse[T any](ctx context.Context, m *Manager, prefix string, request any, response T) (*Envelope[T], error) {
	key, err := GenerateCacheKey(prefix, request)
	if err != nil {
		return nil, err
	}

	env := &Envelope[T]{
		Data:     response,
		CachedAt: m.now().UTC(),
		CacheKey: key,
	}

	stored, err := Set(ctx, m, key, env)
	if err != nil {
		if storeerr.IsSerialization(err) {
			return nil, err
		}
		// Rejected writes were logged by Set; the response is still valid.
		return env, nil
	}
	if stored {
		m.logger.Info().
			Str("prefix", prefix).
			Str("key", key).
			Msg("Cached response")
	}
	return env, nil
}

// GetCachedResponse returns the envelope cached for request under prefix.
func GetCachedResponse[T any](ctx context.Context, m *Manager, prefix string, request any) (*Envelope[T], error) {
	key, err := GenerateCacheKey(prefix, request)
	if err != nil {
		return nil, err
	}
	return Get[T](ctx, m, key)
}

// Delete removes key and reports whether it existed.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	client := m.handle(ctx)
	if client == nil {
		m.degraded("delete", key)
		return false, nil
	}

	n, err := client.Del(ctx, key).Result()
	if err != nil {
		return false, m.classify("delete", key, err)
	}

	m.logger.Debug().Str("key", key).Bool("removed", n > 0).Msg("Cache delete")
	return n > 0, nil
}

// ClearPattern deletes every key matching the glob pattern and returns how
// many were removed. Keys are walked with SCAN and deleted in batches, so the
// store is never blocked by a full keyspace walk. If the store goes away
// mid-walk the count so far is returned.
func (m *Manager) ClearPattern(ctx context.Context, pattern string) (int64, error) {
	client := m.handle(ctx)
	if client == nil {
		m.degraded("clear", pattern)
		return 0, nil
	}

	batchSize := int(m.cfg.ScanCount)
	batch := make([]string, 0, batchSize)
	var deleted int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	iter := client.Scan(ctx, 0, pattern, m.cfg.ScanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return m.clearFailed(pattern, deleted, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return m.clearFailed(pattern, deleted, err)
	}
	if err := flush(); err != nil {
		return m.clearFailed(pattern, deleted, err)
	}

	CacheClearedKeys.Add(float64(deleted))
	m.logger.Info().
		Str("pattern", pattern).
		Int64("deleted", deleted).
		Msg("Cleared cache keys")
	return deleted, nil
}

func (m *Manager) clearFailed(pattern string, deleted int64, err error) (int64, error) {
	CacheClearedKeys.Add(float64(deleted))
	return deleted, m.classify("clear", pattern, err)
}

// GetCacheInfo returns store statistics from INFO memory, stats and keyspace
// plus db_size. Values are passed through verbatim.
func (m *Manager) GetCacheInfo(ctx context.Context) map[string]string {
	unavailable := map[string]string{"status": StatusUnavailable}

	client := m.handle(ctx)
	if client == nil {
		m.degraded("info", "")
		return unavailable
	}

	stats := make(map[string]string)
	for _, section := range infoSections {
		raw, err := client.Info(ctx, section).Result()
		if err != nil {
			if m.classify("info", "", err) == nil {
				return unavailable
			}
			// Some compatible stores reject individual sections.
			continue
		}
		parseInfo(raw, stats)
	}

	size, err := client.DBSize(ctx).Result()
	if err != nil {
		if m.classify("info", "", err) == nil {
			return unavailable
		}
	} else {
		stats["db_size"] = strconv.FormatInt(size, 10)
	}

	stats["status"] = "available"
	return stats
}

// parseInfo adds the "field:value" lines of an INFO reply to dst.
func parseInfo(raw string, dst map[string]string) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		dst[field] = value
	}
}

// TTL returns the remaining lifetime of key. found is false when the key does
// not exist or the store is unavailable; a found key without expiry has a
// zero TTL.
func (m *Manager) TTL(ctx context.Context, key string) (ttl time.Duration, found bool, err error) {
	client := m.handle(ctx)
	if client == nil {
		m.degraded("ttl", key)
		return 0, false, nil
	}

	d, err := client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, m.classify("ttl", key, err)
	}

	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return 0, true, nil
	default:
		return d, true, nil
	}
}

// String describes the manager for logs.
func (m *Manager) String() string {
	return fmt.Sprintf("cache(enabled=%t codec=%s ttl=%s)", m.cfg.CacheEnabled, m.codec.Name(), m.cfg.CacheTTL)
}
