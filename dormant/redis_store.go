package dormant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/krisalay/tiercache/logging"
)

const (
	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

/*
RedisStore persists the whole dormant mapping as a single JSON document
under one Redis key, the same "document" shape as FileStore, just on a
different medium. It exists to demonstrate the pluggable Store contract:
a second process-external implementation selected by name rather than the
default file, without requiring runtime reflection.
*/
type RedisStore[V any] struct {
	client    *redisv9.Client
	key       string
	ttl       time.Duration
	log       *logging.Logger
	lastCount int
}

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	// Key is the single Redis key the whole mapping is stored under.
	Key string
	TTL time.Duration
	Log *logging.Logger
}

// NewRedisStore builds a RedisStore. It does not contact the server;
// IsAccessible pings it on demand.
func NewRedisStore[V any](cfg RedisStoreConfig) *RedisStore[V] {
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}
	key := cfg.Key
	if key == "" {
		key = "tiercache:dormant"
	}

	client := redisv9.NewClient(&redisv9.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})

	return &RedisStore[V]{client: client, key: key, ttl: cfg.TTL, log: log}
}

func (s *RedisStore[V]) Read(ctx context.Context) (map[string]Record[V], error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redisv9.Nil) {
		s.lastCount = 0
		return map[string]Record[V]{}, nil
	}
	if err != nil {
		s.log.Warn("dormant redis store read failed", zap.String("key", s.key), zap.Error(err))
		return map[string]Record[V]{}, ErrUnavailable
	}

	var all map[string]Record[V]
	if err := json.Unmarshal(raw, &all); err != nil {
		s.log.Warn("dormant redis store decode failed", zap.String("key", s.key), zap.Error(err))
		return map[string]Record[V]{}, ErrUnavailable
	}

	now := time.Now()
	out := make(map[string]Record[V], len(all))
	for k, r := range all {
		if s.ttl > 0 && now.Sub(r.CreatedAt) >= s.ttl {
			continue
		}
		out[k] = r
	}
	s.lastCount = len(out)
	return out, nil
}

func (s *RedisStore[V]) Write(ctx context.Context, records map[string]Record[V]) error {
	raw, err := json.Marshal(records)
	if err != nil {
		s.log.Warn("dormant redis store encode failed", zap.String("key", s.key), zap.Error(err))
		return ErrUnavailable
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		s.log.Warn("dormant redis store write failed", zap.String("key", s.key), zap.Error(err))
		return ErrUnavailable
	}
	s.lastCount = len(records)
	return nil
}

func (s *RedisStore[V]) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		s.log.Warn("dormant redis store clear failed", zap.String("key", s.key), zap.Error(err))
		return ErrUnavailable
	}
	s.lastCount = 0
	return nil
}

func (s *RedisStore[V]) Exists(ctx context.Context) bool {
	n, err := s.client.Exists(ctx, s.key).Result()
	return err == nil && n > 0
}

func (s *RedisStore[V]) IsEmpty(ctx context.Context) bool {
	m, err := s.Read(ctx)
	return err == nil && len(m) == 0
}

func (s *RedisStore[V]) IsAccessible(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	return s.client.Ping(pingCtx).Err() == nil
}

func (s *RedisStore[V]) EnsureExists(ctx context.Context) error {
	// Nothing to provision ahead of time: the key is created on first Write.
	return nil
}

func (s *RedisStore[V]) Count() int {
	return s.lastCount
}
