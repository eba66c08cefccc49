// Package config holds the resolved configuration shared by the connection
// and cache managers. It is loaded once at process start and never mutated.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys. Each key doubles as the environment variable name
// (upper-cased) and the key inside a .env file.
const (
	KeyRedisURL          = "redis_url"
	KeyRedisHost         = "redis_host"
	KeyRedisPort         = "redis_port"
	KeyRedisUsername     = "redis_username"
	KeyRedisPassword     = "redis_password"
	KeyRedisAuthPassword = "redis_auth_password"
	KeyRedisDB           = "redis_db"
	KeyRedisTLS          = "redis_tls"
	KeyRedisTLSInsecure  = "redis_tls_insecure"
	KeyRedisTLSCAFile    = "redis_tls_ca_file"
	KeyRedisTLSCertFile  = "redis_tls_cert_file"
	KeyRedisTLSKeyFile   = "redis_tls_key_file"
	KeyRedisDialTimeout  = "redis_dial_timeout"
	KeyCacheEnabled      = "cache_enabled"
	KeyCacheTTLSeconds   = "cache_ttl_seconds"
	KeyIdempotentExpiry  = "idempotent_expiry_in_sec"
	KeyCacheScanCount    = "cache_scan_count"
	KeyCacheCodec        = "cache_codec"
	KeyLogLevel          = "log_level"
	KeyLogPretty         = "log_pretty"
)

// Default values.
const (
	DefaultRedisHost        = "127.0.0.1"
	DefaultRedisPort        = 6379
	DefaultDialTimeout      = 5 * time.Second
	DefaultCacheTTL         = 3600 * time.Second
	DefaultIdempotentExpiry = 120 * time.Second
	DefaultScanCount        = 100
	DefaultCodec            = "json"
	DefaultLogLevel         = "info"
)

var validCodecs = map[string]bool{"json": true, "msgpack": true}

// Config is the resolved configuration.
type Config struct {
	// RedisURL, when set, is used verbatim and overrides the host/port/credential fields.
	RedisURL string

	RedisHost     string
	RedisPort     int
	RedisUsername string
	RedisPassword string
	RedisDB       int

	// TLS material
	TLS                   bool
	TLSInsecureSkipVerify bool
	TLSCAFile             string
	TLSCertFile           string
	TLSKeyFile            string

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration

	// CacheEnabled switches the advisory cache on or off.
	CacheEnabled bool

	// CacheTTL is applied to every envelope written by the cache manager.
	CacheTTL time.Duration

	// IdempotentExpiry is the default lifetime of idempotent markers.
	IdempotentExpiry time.Duration

	// ScanCount is the SCAN COUNT hint and delete batch size for pattern clears.
	ScanCount int64

	// Codec names the envelope serialization format ("json" or "msgpack").
	Codec string

	LogLevel  string
	LogPretty bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		RedisHost:        DefaultRedisHost,
		RedisPort:        DefaultRedisPort,
		DialTimeout:      DefaultDialTimeout,
		CacheEnabled:     true,
		CacheTTL:         DefaultCacheTTL,
		IdempotentExpiry: DefaultIdempotentExpiry,
		ScanCount:        DefaultScanCount,
		Codec:            DefaultCodec,
		LogLevel:         DefaultLogLevel,
	}
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyRedisHost, d.RedisHost)
	v.SetDefault(KeyRedisPort, d.RedisPort)
	v.SetDefault(KeyRedisUsername, "")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisAuthPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyRedisTLS, false)
	v.SetDefault(KeyRedisTLSInsecure, false)
	v.SetDefault(KeyRedisTLSCAFile, "")
	v.SetDefault(KeyRedisTLSCertFile, "")
	v.SetDefault(KeyRedisTLSKeyFile, "")
	v.SetDefault(KeyRedisDialTimeout, d.DialTimeout.String())
	v.SetDefault(KeyCacheEnabled, d.CacheEnabled)
	v.SetDefault(KeyCacheTTLSeconds, int(d.CacheTTL/time.Second))
	v.SetDefault(KeyIdempotentExpiry, int(d.IdempotentExpiry/time.Second))
	v.SetDefault(KeyCacheScanCount, d.ScanCount)
	v.SetDefault(KeyCacheCodec, d.Codec)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogPretty, false)
}

// NewViper returns a viper instance with defaults and environment binding.
// If envFile is non-empty it is read as a dotenv file; a missing file is ignored.
// Environment variables take precedence over the file.
func NewViper(envFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read env file %s: %w", envFile, err)
			}
		}
	}
	return v, nil
}

// Load builds a Config from the environment and an optional .env file.
func Load(envFile string) (*Config, error) {
	v, err := NewViper(envFile)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper resolves and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	dialTimeout, err := parseDuration(v.GetString(KeyRedisDialTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyRedisDialTimeout, err)
	}

	cfg := &Config{
		RedisURL:              strings.TrimSpace(v.GetString(KeyRedisURL)),
		RedisHost:             v.GetString(KeyRedisHost),
		RedisPort:             v.GetInt(KeyRedisPort),
		RedisUsername:         v.GetString(KeyRedisUsername),
		RedisPassword:         v.GetString(KeyRedisPassword),
		RedisDB:               v.GetInt(KeyRedisDB),
		TLS:                   v.GetBool(KeyRedisTLS),
		TLSInsecureSkipVerify: v.GetBool(KeyRedisTLSInsecure),
		TLSCAFile:             v.GetString(KeyRedisTLSCAFile),
		TLSCertFile:           v.GetString(KeyRedisTLSCertFile),
		TLSKeyFile:            v.GetString(KeyRedisTLSKeyFile),
		DialTimeout:           dialTimeout,
		CacheEnabled:          v.GetBool(KeyCacheEnabled),
		CacheTTL:              time.Duration(v.GetInt64(KeyCacheTTLSeconds)) * time.Second,
		IdempotentExpiry:      time.Duration(v.GetInt64(KeyIdempotentExpiry)) * time.Second,
		ScanCount:             v.GetInt64(KeyCacheScanCount),
		Codec:                 strings.ToLower(v.GetString(KeyCacheCodec)),
		LogLevel:              v.GetString(KeyLogLevel),
		LogPretty:             v.GetBool(KeyLogPretty),
	}

	// REDIS_AUTH_PASSWORD is accepted as a fallback for deployments that use it.
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = v.GetString(KeyRedisAuthPassword)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration accepts Go duration strings and bare integers (seconds).
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks the configuration for values the managers cannot work with.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		if c.RedisHost == "" {
			return fmt.Errorf("redis host must not be empty")
		}
		if c.RedisPort <= 0 || c.RedisPort > 65535 {
			return fmt.Errorf("redis port must be between 1 and 65535 (received %d)", c.RedisPort)
		}
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db must not be negative (received %d)", c.RedisDB)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be greater than 0 (received %s)", c.DialTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be greater than 0 (received %s)", c.CacheTTL)
	}
	if c.IdempotentExpiry <= 0 {
		return fmt.Errorf("idempotent expiry must be greater than 0 (received %s)", c.IdempotentExpiry)
	}
	if c.ScanCount <= 0 {
		return fmt.Errorf("scan count must be greater than 0 (received %d)", c.ScanCount)
	}
	if !validCodecs[c.Codec] {
		return fmt.Errorf("invalid codec '%s'. must be json or msgpack", c.Codec)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls cert file and key file must be set together")
	}
	return nil
}

// RedisAddress returns the URL used to dial the store.
func (c *Config) RedisAddress() string {
	if c.RedisURL != "" {
		return c.RedisURL
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort)),
	}
	if c.RedisPassword != "" {
		u.User = url.UserPassword(c.RedisUsername, c.RedisPassword)
	}
	if c.RedisDB != 0 {
		u.Path = "/" + strconv.Itoa(c.RedisDB)
	}
	return u.String()
}

// String renders the configuration with the password redacted.
func (c *Config) String() string {
	addr := c.RedisAddress()
	if u, err := url.Parse(addr); err == nil {
		addr = u.Redacted()
	}
	return fmt.Sprintf("addr=%s tls=%t cache_enabled=%t ttl=%s idempotent_expiry=%s codec=%s",
		addr, c.TLS, c.CacheEnabled, c.CacheTTL, c.IdempotentExpiry, c.Codec)
}
