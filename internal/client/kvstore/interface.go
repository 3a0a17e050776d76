package kvstore

import (
	"context"
	"errors"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// UpdateFunc receives the current value of a key (nil when absent) and
// returns the value to store.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a persistent key/value store.
type Store interface {
	// Get returns the value stored under key, or nil if there is none.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Update atomically replaces the value of key with the result of fn.
	// If fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Close releases the underlying resources.
	Close() error
}
