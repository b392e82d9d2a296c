package storage

import (
	"context"
	"fmt"
	"time"
)

// Options selects and configures a quota store backend.
type Options struct {
	// Driver is "memory", "sqlite", "sqlite3", "postgres" or "mysql".
	Driver string

	DSN          string
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// Open creates the store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "postgres", "mysql":
		return OpenSQL(ctx, SQLConfig{
			Driver:       opts.Driver,
			DSN:          opts.DSN,
			Path:         opts.Path,
			MaxOpenConns: opts.MaxOpenConns,
			BusyTimeout:  opts.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", opts.Driver)
	}
}
