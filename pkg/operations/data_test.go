package operations

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/shared-redis/internal/testutil"
	"github.com/Sternrassler/shared-redis/pkg/connection"
	"github.com/Sternrassler/shared-redis/pkg/storeerr"
)

func setupClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, cfg := testutil.NewMiniredis(t)
	conns := connection.NewManager(cfg, testutil.NopLogger())
	t.Cleanup(func() { _ = conns.Close() })

	rdb, err := conns.Acquire(context.Background())
	require.NoError(t, err)
	return mr, rdb
}

type session struct{ User string }

func TestSetGetData(t *testing.T) {
	_, rdb := setupClient(t)
	ctx := context.Background()

	ok, err := SetData(ctx, rdb, "session:1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	s, found, err := GetData[string](ctx, rdb, "session:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "alice", s)

	ok, err = SetData(ctx, rdb, "counter", 42)
	require.NoError(t, err)
	assert.True(t, ok)

	n, found, err := GetData[int](ctx, rdb, "counter")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, n)

	b, found, err := GetData[[]byte](ctx, rdb, "session:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("alice"), b)
}

func TestSetData_NoExpiry(t *testing.T) {
	mr, rdb := setupClient(t)

	_, err := SetData(context.Background(), rdb, "k", "v")
	require.NoError(t, err)
	assert.Zero(t, mr.TTL("k"))
}

func TestGetData_Absent(t *testing.T) {
	_, rdb := setupClient(t)

	v, found, err := GetData[string](context.Background(), rdb, "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, v)
}

func TestGetData_ScanFailure(t *testing.T) {
	_, rdb := setupClient(t)
	ctx := context.Background()
	_, err := SetData(ctx, rdb, "k", "not a number")
	require.NoError(t, err)

	_, found, err := GetData[int](ctx, rdb, "k")
	assert.False(t, found)
	assert.True(t, storeerr.IsSerialization(err), "got %v", err)

	_, _, err = GetData[session](ctx, rdb, "k")
	assert.True(t, storeerr.IsSerialization(err), "got %v", err)
}

func TestSetData_UnsupportedValue(t *testing.T) {
	mr, rdb := setupClient(t)

	tests := []struct {
		name  string
		value any
	}{
		{name: "struct", value: session{User: "a"}},
		{name: "map", value: map[string]string{"a": "b"}},
		{name: "nil", value: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := SetData(context.Background(), rdb, "k", tt.value)
			assert.False(t, ok)
			assert.True(t, storeerr.IsSerialization(err))
			assert.False(t, mr.Exists("k"))
		})
	}
}

func TestGetData_WrongType(t *testing.T) {
	mr, rdb := setupClient(t)
	_, err := mr.Lpush("list", "x")
	require.NoError(t, err)

	_, _, err = GetData[string](context.Background(), rdb, "list")
	require.Error(t, err)
	assert.True(t, storeerr.IsCommand(err), "got %v", err)
}

func TestData_StoreDown(t *testing.T) {
	mr, rdb := setupClient(t)
	mr.Close()
	ctx := context.Background()

	_, err := SetData(ctx, rdb, "k", "v")
	assert.True(t, storeerr.IsConnection(err), "got %v", err)

	_, _, err = GetData[string](ctx, rdb, "k")
	assert.True(t, storeerr.IsConnection(err), "got %v", err)

	_, err = SetIfNotExist(ctx, rdb, "k", "v", time.Minute)
	assert.True(t, storeerr.IsConnection(err), "got %v", err)
}

func TestSetIfNotExist(t *testing.T) {
	mr, rdb := setupClient(t)
	ctx := context.Background()

	created, err := SetIfNotExist(ctx, rdb, "lock", "owner-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 30*time.Second, mr.TTL("lock"))

	created, err = SetIfNotExist(ctx, rdb, "lock", "owner-2", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, created)

	v, err := mr.Get("lock")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", v)

	mr.FastForward(31 * time.Second)
	created, err = SetIfNotExist(ctx, rdb, "lock", "owner-3", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, created, "marker must be claimable again after expiry")
}

func TestSetIfNotExist_NoExpiry(t *testing.T) {
	mr, rdb := setupClient(t)

	created, err := SetIfNotExist(context.Background(), rdb, "k", "v", 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, mr.TTL("k"))
}

func TestSetIfNotExist_NegativeExpiry(t *testing.T) {
	mr, rdb := setupClient(t)

	ok, err := SetIfNotExist(context.Background(), rdb, "k", "v", -time.Second)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, storeerr.IsInvalid(err), "got %v", err)
	assert.False(t, storeerr.IsConnection(err))
	assert.False(t, mr.Exists("k"), "nothing is written for a rejected expiry")
}

func TestSetIfNotExistDefault(t *testing.T) {
	mr, cfg := testutil.NewMiniredis(t)
	cfg.IdempotentExpiry = 45 * time.Second
	conns := connection.NewManager(cfg, testutil.NopLogger())
	t.Cleanup(func() { _ = conns.Close() })
	rdb, err := conns.Acquire(context.Background())
	require.NoError(t, err)

	created, err := SetIfNotExistDefault(context.Background(), rdb, cfg, "req:1", "1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 45*time.Second, mr.TTL("req:1"))
}

func TestSetIfNotExist_Race(t *testing.T) {
	mr, rdb := setupClient(t)
	ctx := context.Background()

	const racers = 50
	var winners atomic.Int32
	var winner atomic.Value

	var g errgroup.Group
	for i := 0; i < racers; i++ {
		g.Go(func() error {
			value := fmt.Sprintf("racer-%d", i)
			created, err := SetIfNotExist(ctx, rdb, "race", value, time.Minute)
			if err != nil {
				return err
			}
			if created {
				winners.Add(1)
				winner.Store(value)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), winners.Load())
	stored, err := mr.Get("race")
	require.NoError(t, err)
	assert.Equal(t, winner.Load(), stored)
}
