// Package storeerr defines the error taxonomy shared by the connection, cache
// and operations packages.
package storeerr

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Kind classifies a store failure.
type Kind string

const (
	// KindConnection covers unreachable stores, auth failures, timeouts and closed clients.
	KindConnection Kind = "connection"

	// KindSerialization covers payloads that cannot be encoded or decoded.
	KindSerialization Kind = "serialization"

	// KindCommand covers commands the store rejected (e.g. WRONGTYPE).
	KindCommand Kind = "command"

	// KindInvalid covers arguments rejected before any command is sent.
	KindInvalid Kind = "invalid"
)

// Sentinels matched with errors.Is.
var (
	ErrConnection    = errors.New("store unavailable")
	ErrSerialization = errors.New("serialization failed")
	ErrStoreCommand  = errors.New("store rejected command")
	ErrInvalid       = errors.New("invalid argument")
)

// Error carries the kind, the operation and key involved, and the cause.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s error (key %q): %v", e.Op, e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindSerialization:
		return ErrSerialization
	case KindCommand:
		return ErrStoreCommand
	case KindInvalid:
		return ErrInvalid
	default:
		return ErrConnection
	}
}

// Connection wraps err as a connection error.
func Connection(op, key string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Key: key, Err: err}
}

// Serialization wraps err as a serialization error.
func Serialization(op, key string, err error) error {
	return &Error{Kind: KindSerialization, Op: op, Key: key, Err: err}
}

// Command wraps err as a store command error.
func Command(op, key string, err error) error {
	return &Error{Kind: KindCommand, Op: op, Key: key, Err: err}
}

// Invalid wraps err as an invalid argument error.
func Invalid(op, key string, err error) error {
	return &Error{Kind: KindInvalid, Op: op, Key: key, Err: err}
}

// FromRedis classifies an error returned by go-redis. Server error replies
// become command errors; anything else means the transport failed. Callers
// must handle redis.Nil before calling this.
func FromRedis(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) && !errors.Is(err, redis.Nil) {
		return Command(op, key, err)
	}
	return Connection(op, key, err)
}

// IsConnection reports whether err is a connection error.
func IsConnection(err error) bool { return errors.Is(err, ErrConnection) }

// IsSerialization reports whether err is a serialization error.
func IsSerialization(err error) bool { return errors.Is(err, ErrSerialization) }

// IsCommand reports whether err is a store command error.
func IsCommand(err error) bool { return errors.Is(err, ErrStoreCommand) }

// IsInvalid reports whether err is an invalid argument error.
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalid) }
