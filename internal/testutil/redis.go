// Package testutil provides Redis fixtures for tests: an in-process
// miniredis server for unit tests and a container for integration tests.
package testutil

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/shared-redis/pkg/config"
)

// RedisImage is the image used for integration tests.
const RedisImage = "redis:7-alpine"

// NewMiniredis starts an in-process Redis server and returns it together with
// a configuration pointing at it. The server stops when the test ends.
func NewMiniredis(t testing.TB) (*miniredis.Miniredis, *config.Config) {
	t.Helper()

	mr := miniredis.RunT(t)
	return mr, ConfigFor(t, mr.Host(), mr.Port())
}

// ConfigFor returns a default configuration for host:port with a short dial timeout.
func ConfigFor(t testing.TB, host, port string) *config.Config {
	t.Helper()

	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("invalid port %q: %v", port, err)
	}
	cfg := config.Default()
	cfg.RedisHost = host
	cfg.RedisPort = p
	cfg.DialTimeout = time.Second
	return &cfg
}

// UnreachableConfig returns a configuration pointing at a port nothing listens on.
func UnreachableConfig(t testing.TB) *config.Config {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	if err := l.Close(); err != nil {
		t.Fatalf("Failed to release port: %v", err)
	}

	cfg := ConfigFor(t, "127.0.0.1", strconv.Itoa(addr.Port))
	cfg.DialTimeout = 200 * time.Millisecond
	return cfg
}

// SilentConfig returns a configuration pointing at a listener that accepts
// connections and never answers. Dials succeed; every reply hangs.
func SilentConfig(t testing.TB, dialTimeout time.Duration) *config.Config {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})

	addr := l.Addr().(*net.TCPAddr)
	cfg := ConfigFor(t, "127.0.0.1", strconv.Itoa(addr.Port))
	cfg.DialTimeout = dialTimeout
	return cfg
}

// StartRedisContainer starts a Redis container and returns a configuration
// pointing at it. The container is terminated when the test ends.
func StartRedisContainer(t testing.TB) *config.Config {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        RedisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := ConfigFor(t, host, port.Port())
	cfg.DialTimeout = 5 * time.Second
	return cfg
}

// NopLogger returns a disabled logger for tests.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}
