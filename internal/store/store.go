// Package store is the opaque key/blob persistence used by the scheduling
// core. Backends only need get/set/remove; the core always replaces whole
// values and never merges.
package store

import (
	"context"
	"fmt"

	"psiagenda/internal/config"
)

// Store persists opaque values under fixed string keys.
type Store interface {
	// Get returns the value stored under key. ok is false when nothing is
	// stored; that is not an error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Keys holds the three fixed identifiers the scheduling core uses.
type Keys struct {
	Appointments string
	LastBackup   string
	Initialized  string
}

// KeysWithPrefix derives the fixed keys from a namespace prefix.
func KeysWithPrefix(prefix string) Keys {
	if prefix == "" {
		prefix = "agenda_medica"
	}
	return Keys{
		Appointments: prefix + "_data",
		LastBackup:   prefix + "_last_backup",
		Initialized:  prefix + "_initialized",
	}
}

// Open builds the backend selected in cfg. The returned close func releases
// any connections and is never nil.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemory(), noop, nil
	case config.BackendFile, "":
		s, err := NewFile(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case config.BackendRedis:
		s, err := NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendPostgres:
		s, err := NewPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
