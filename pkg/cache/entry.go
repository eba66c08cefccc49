package cache

import (
	"time"
)

// Envelope wraps a cached value with its cache metadata. It is created at
// set time and stored as a field-tagged object.
type Envelope[T any] struct {
	// Data is the cached payload
	Data T `json:"data" msgpack:"data"`

	// CachedAt is when the envelope was created
	CachedAt time.Time `json:"cached_at" msgpack:"cached_at"`

	// CacheKey is the key the envelope was stored under (diagnostic only)
	CacheKey string `json:"cache_key" msgpack:"cache_key"`
}

// NewEnvelope wraps data for storage under key, stamped with the current time.
func NewEnvelope[T any](data T, key string) *Envelope[T] {
	return &Envelope[T]{
		Data:     data,
		CachedAt: time.Now().UTC(),
		CacheKey: key,
	}
}

// Age returns how long ago the envelope was created.
func (e *Envelope[T]) Age() time.Duration {
	age := time.Since(e.CachedAt)
	if age < 0 {
		return 0
	}
	return age
}
