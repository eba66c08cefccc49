// Package operations provides store primitives for callers that depend on the
// store: plain values, idempotent markers and pub/sub. Unlike the cache
// package nothing here degrades; every failure is returned as a storeerr
// value.
package operations

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/shared-redis/pkg/config"
	"github.com/Sternrassler/shared-redis/pkg/storeerr"
)

// fail records and classifies a store error.
func fail(op, key string, err error) error {
	OpsErrors.WithLabelValues(op).Inc()
	return storeerr.FromRedis(op, key, err)
}

// checkValue rejects values the store protocol cannot carry, so they surface
// as serialization errors instead of transport failures.
func checkValue(op, key string, value any) error {
	switch value.(type) {
	case string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, bool,
		time.Time, time.Duration, net.IP,
		encoding.BinaryMarshaler:
		return nil
	case nil:
		return storeerr.Serialization(op, key, errors.New("value must not be nil"))
	default:
		return storeerr.Serialization(op, key,
			fmt.Errorf("unsupported value type %T (implement encoding.BinaryMarshaler)", value))
	}
}

// SetData stores value under key without expiry.
func SetData(ctx context.Context, rdb redis.UniversalClient, key string, value any) (bool, error) {
	if err := checkValue("set", key, value); err != nil {
		OpsErrors.WithLabelValues("set").Inc()
		return false, err
	}

	res, err := rdb.Set(ctx, key, value, 0).Result()
	if err != nil {
		return false, fail("set", key, err)
	}
	return res == "OK", nil
}

// GetData reads key into a T. T may be a string, []byte, numeric or bool
// type, or implement encoding.BinaryUnmarshaler through its pointer.
// found is false when the key does not exist.
func GetData[T any](ctx context.Context, rdb redis.UniversalClient, key string) (value T, found bool, err error) {
	cmd := rdb.Get(ctx, key)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return value, false, nil
		}
		return value, false, fail("get", key, err)
	}

	if err := cmd.Scan(&value); err != nil {
		OpsErrors.WithLabelValues("get").Inc()
		var zero T
		return zero, false, storeerr.Serialization("get", key, err)
	}
	return value, true, nil
}

// SetIfNotExist stores value under key only if key is absent, in a single
// atomic command. It reports whether this call created the key; of many
// concurrent callers exactly one sees true. A positive expiry bounds the
// marker's lifetime; zero means no expiry.
func SetIfNotExist(ctx context.Context, rdb redis.UniversalClient, key string, value any, expiry time.Duration) (bool, error) {
	if expiry < 0 {
		OpsErrors.WithLabelValues("setnx").Inc()
		return false, storeerr.Invalid("setnx", key, fmt.Errorf("expiry must not be negative (received %s)", expiry))
	}
	if err := checkValue("setnx", key, value); err != nil {
		OpsErrors.WithLabelValues("setnx").Inc()
		return false, err
	}

	created, err := rdb.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		return false, fail("setnx", key, err)
	}

	if created {
		IdempotentClaims.WithLabelValues("won").Inc()
	} else {
		IdempotentClaims.WithLabelValues("lost").Inc()
	}
	return created, nil
}

// SetIfNotExistDefault is SetIfNotExist with the configured idempotent expiry.
func SetIfNotExistDefault(ctx context.Context, rdb redis.UniversalClient, cfg *config.Config, key string, value any) (bool, error) {
	return SetIfNotExist(ctx, rdb, key, value, cfg.IdempotentExpiry)
}
