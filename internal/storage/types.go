// Package storage provides the flat key/value backends used to persist the
// filesystem's inode table across mount cycles.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has never been set.
var ErrNotFound = errors.New("key not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("storage adapter closed")

// Adapter is a flat key/value persistence backend.
type Adapter interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists keys with the given prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases the backend.
	Close() error
}

// FileState is the on-disk document of the file adapter.
type FileState struct {
	// Stored values by key
	Entries map[string]string `json:"entries"`

	// Version for future compatibility
	Version int `json:"version"`
}
