// Package store provides the durable key-value record that survives
// process restarts. Values are opaque bytes; Put replaces a key atomically.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Store is a crash-safe key-value store.
type Store interface {
	// Get returns nil, nil when key has never been written.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the value of key. A concurrent reader sees either the
	// old or the new value, never a partial write.
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Supported backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

var validKey = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// ErrInvalidKey is returned for keys that cannot be stored safely.
var ErrInvalidKey = errors.New("store: invalid key")

func checkKey(key string) error {
	if !validKey.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Open opens the backend named by backend at path. For the file backend
// path is a directory; for sqlite it is the database file.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
