package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string
	// BackupCount is passed to NewFileAdapter; 0 disables backups.
	BackupCount int
}

// Open builds the adapter described by opts.
func Open(ctx context.Context, opts Options) (Adapter, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryAdapter(), nil
	case BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("(storage) file backend needs a path")
		}
		return NewFileAdapter(opts.Path, opts.BackupCount)
	case BackendSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("(storage) sqlite backend needs a path")
		}
		return NewSQLiteAdapter(ctx, opts.Path)
	default:
		return nil, fmt.Errorf("(storage) unknown backend %q", opts.Backend)
	}
}
