package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Record keys used by the panel.
const (
	KeySessions = "sessions"
	KeyContent  = "content"
)

// Backend is a durable key/value record store. Each record is one complete
// serialized document; Put replaces it as a whole.
type Backend interface {
	// Get returns the stored bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put atomically replaces the record stored under key.
	Put(ctx context.Context, key string, data []byte) error
	// Name identifies the driver, e.g. "file".
	Name() string

	Close()
}

// Options selects and configures a backend.
type Options struct {
	Driver        string `yaml:"driver"`
	DataDir       string `yaml:"data_dir"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// Open builds the backend named by opts.Driver. The postgres driver also
// applies pending migrations.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case "", "file":
		return NewFileBackend(opts.DataDir)
	case "memory":
		return NewMemoryBackend(), nil
	case "postgres":
		if opts.DBUrl == "" {
			return nil, errors.New("postgres storage requires db_url")
		}
		if err := RunMigrations(opts.DBUrl, opts.MigrationsDir); err != nil {
			return nil, err
		}
		return NewPostgresBackend(ctx, opts.DBUrl)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
