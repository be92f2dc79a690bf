// Package kv is a thin Redis-backed store for the persisted working-server
// list. Every failure is logged and swallowed: the cache remains the source
// of truth in memory, KV is a best-effort mirror that is also read back once
// at startup to hydrate the cache.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store wraps a redis.Client. A nil underlying client (set up failed, or no
// address configured) makes every operation a silent no-op.
type Store struct {
	client *redis.Client
	log    *logrus.Logger
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis. A failed ping does not return an error: it leaves
// the Store in no-op mode and logs a warning, matching the adapter's
// non-fatal failure contract.
func New(opts Options, log *logrus.Logger) *Store {
	if opts.Addr == "" {
		return &Store{log: log}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithFields(logrus.Fields{"addr": opts.Addr, "err": err}).Warn("redis unavailable; kv store disabled")
		return &Store{log: log}
	}

	return &Store{client: client, log: log}
}

// Set stores raw under key, with an optional TTL (ttl<=0 means no expiry).
func (s *Store) Set(ctx context.Context, key string, raw []byte, ttl time.Duration) {
	if s.client == nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.log.WithFields(logrus.Fields{"key": key, "err": err}).Warn("kv set failed")
	}
}

// Get returns the raw bytes for key, or (nil, false) if absent, disabled, or
// erroring.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if s.client == nil {
		return nil, false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.WithFields(logrus.Fields{"key": key, "err": err}).Warn("kv get failed")
		}
		return nil, false
	}
	return raw, true
}

// Close releases the underlying connection, if any.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
