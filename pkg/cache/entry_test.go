package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	ID    int      `json:"id"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Admin bool     `json:"admin"`
}

func TestNewEnvelope(t *testing.T) {
	before := time.Now()
	env := NewEnvelope(profile{ID: 1}, "user_profile:abc")

	assert.Equal(t, 1, env.Data.ID)
	assert.Equal(t, "user_profile:abc", env.CacheKey)
	assert.Equal(t, time.UTC, env.CachedAt.Location())
	assert.False(t, env.CachedAt.Before(before.Truncate(time.Second)))
	assert.GreaterOrEqual(t, env.Age(), time.Duration(0))
}

func TestEnvelope_CodecRoundTrip(t *testing.T) {
	cachedAt := time.Date(2025, 3, 14, 15, 9, 26, 535897000, time.UTC)
	want := Envelope[profile]{
		Data:     profile{ID: 42, Name: "Ada", Tags: []string{"a", "b"}, Admin: true},
		CachedAt: cachedAt,
		CacheKey: "user_profile:0f",
	}

	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Marshal(want)
			require.NoError(t, err)

			var got Envelope[profile]
			require.NoError(t, codec.Unmarshal(data, &got))

			assert.Equal(t, want.Data, got.Data)
			assert.Equal(t, want.CacheKey, got.CacheKey)
			assert.True(t, want.CachedAt.Equal(got.CachedAt), "cached_at %v != %v", got.CachedAt, want.CachedAt)
		})
	}
}

func TestJSONCodec_FieldNames(t *testing.T) {
	data, err := JSONCodec{}.Marshal(Envelope[string]{Data: "x", CacheKey: "k"})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"data":"x"`)
	assert.Contains(t, string(data), `"cached_at":`)
	assert.Contains(t, string(data), `"cache_key":"k"`)
}

func TestMsgpackCodec_UsesJSONTags(t *testing.T) {
	data, err := MsgpackCodec{}.Marshal(profile{ID: 1, Name: "n"})
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, MsgpackCodec{}.Unmarshal(data, &generic))
	assert.Contains(t, generic, "id")
	assert.Contains(t, generic, "name")
	assert.NotContains(t, generic, "ID")
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: "json"},
		{name: "json", want: "json"},
		{name: "msgpack", want: "msgpack"},
		{name: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CodecByName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Name())
		})
	}
}
