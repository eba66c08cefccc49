package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/Sternrassler/shared-redis/pkg/storeerr"
)

// canonicalMode encodes with RFC 8949 Core Deterministic rules: sorted map
// keys and shortest-form numbers, so equal values always give equal bytes.
var canonicalMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor deterministic mode: %v", err))
	}
	return em
}()

// GenerateCacheKey derives a deterministic key of the form "prefix:hexdigest"
// from a request payload. The digest is SHA-256 over a canonical encoding of
// the payload, so field order and map insertion order do not matter.
// Fields tagged `json:"-"` are excluded, which is how callers mark transient
// request fields.
//
// Example:
//
//	GenerateCacheKey("user_profile", UserRequest{UserID: 123})
//	// user_profile:3f1c...e9 (64 hex chars)
func GenerateCacheKey(prefix string, payload any) (string, error) {
	digest, err := Fingerprint(payload)
	if err != nil {
		return "", err
	}
	return prefix + ":" + digest, nil
}

// Fingerprint returns the lowercase hex SHA-256 digest of the canonical
// encoding of payload. It fails if the payload cannot be serialized.
func Fingerprint(payload any) (string, error) {
	canonical, err := canonicalBytes(payload)
	if err != nil {
		return "", storeerr.Serialization("fingerprint", "", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalBytes maps payload to its JSON data model (honoring struct tags)
// and re-encodes that model deterministically.
func canonicalBytes(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	normalized, err := normalize(generic)
	if err != nil {
		return nil, err
	}

	out, err := canonicalMode.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return out, nil
}

// normalize turns json.Number into real numbers so that 1 and "1" stay distinct
// while 1, 1.0 and 1e0 collapse to the same integer. Integers keep full
// precision; other values become the nearest float64.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case json.Number:
		r, ok := new(big.Rat).SetString(t.String())
		if !ok {
			return nil, fmt.Errorf("number %q is not a decimal", t.String())
		}
		if !r.IsInt() {
			f, _ := r.Float64()
			return f, nil
		}
		n := r.Num()
		switch {
		case n.IsInt64():
			return n.Int64(), nil
		case n.IsUint64():
			return n.Uint64(), nil
		default:
			return n, nil
		}
	default:
		return v, nil
	}
}
