package dormant

import (
	"fmt"
	"time"

	"github.com/krisalay/tiercache/logging"
)

// Kind names a known DormantStore implementation. This is a compile-time
// registry rather than discovery by fully-qualified name and runtime
// reflection: every kind this library knows about is wired here, and the
// switch in New is the whole of "plugin discovery."
type Kind string

const (
	KindFile   Kind = "file"
	KindRedis  Kind = "redis"
	KindSQLite Kind = "sqlite"
)

// Options gathers the configuration knobs across every known Kind. Only the
// fields relevant to the selected Kind are read.
type Options struct {
	Kind Kind
	TTL  time.Duration
	Log  *logging.Logger

	FilePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	SQLitePath string
}

// New constructs the DormantStore named by opts.Kind. An unrecognized kind
// is a configuration error caught by config validation before this is ever
// called (see config.Validate); New itself still rejects it defensively.
func New[V any](opts Options) (Store[V], error) {
	switch opts.Kind {
	case "", KindFile:
		return NewFileStore[V](FileStoreConfig{Path: opts.FilePath, TTL: opts.TTL, Log: opts.Log})
	case KindRedis:
		return NewRedisStore[V](RedisStoreConfig{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Key:      opts.RedisKey,
			TTL:      opts.TTL,
			Log:      opts.Log,
		}), nil
	case KindSQLite:
		return NewSQLiteStore[V](SQLiteStoreConfig{Path: opts.SQLitePath, TTL: opts.TTL, Log: opts.Log})
	default:
		return nil, fmt.Errorf("dormant: unknown store kind %q", opts.Kind)
	}
}
