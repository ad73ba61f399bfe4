// Package storage defines the pluggable blob-store interface used for the
// cache index and for archived artifacts.
package storage

import (
	"context"
	"errors"
	"io"
)

// Common storage errors.
var (
	ErrKeyNotFound     = errors.New("key not found in storage")
	ErrInvalidConfig   = errors.New("invalid storage configuration")
	ErrUnknownBackend  = errors.New("unknown storage backend type")
	ErrBackendNotReady = errors.New("storage backend not initialized")
)

// Backend is a minimal blob store. Implementations cover the local
// filesystem, memory (tests), Redis, S3-compatible services, and Google
// Cloud Storage.
type Backend interface {
	// Init prepares the backend from its string-keyed options. It must be
	// called once before any other method.
	Init(options map[string]string) error

	// Save stores the data stream under key, overwriting any existing value.
	Save(ctx context.Context, key string, data io.Reader) error

	// Load returns a reader for the value stored under key, or
	// ErrKeyNotFound.
	Load(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the value stored under key, or returns ErrKeyNotFound.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a value is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Factory constructs an uninitialized Backend.
type Factory func() Backend

var factories = map[string]Factory{}

// Register makes a backend type available to Open. Backend packages call
// this from init.
func Register(name string, f Factory) {
	factories[name] = f
}

// Open constructs and initializes the backend named by typ with the given
// options.
func Open(typ string, options map[string]string) (Backend, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, ErrUnknownBackend
	}

	b := f()
	if err := b.Init(options); err != nil {
		return nil, err
	}

	return b, nil
}

// Types returns the registered backend type names.
func Types() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}

	return names
}
