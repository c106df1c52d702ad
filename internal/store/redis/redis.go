// Package redis implements the state store on a Redis server.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-agentv1/internal/store"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store is a state store backed by a single Redis client.
type Store struct {
	client *goredis.Client
}

var _ store.Store = (*Store)(nil)

// New creates a Store and pings the server to fail fast on bad config.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w: %v", store.ErrUnavailable, err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{client: client}, nil
}

// Get returns the value at key, or (nil, nil) if the key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w: %v", key, store.ErrUnavailable, err)
	}
	return data, nil
}

// Set writes value at key; ttl of 0 means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w: %v", key, store.ErrUnavailable, err)
	}
	return nil
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis DEL %s: %w: %v", key, store.ErrUnavailable, err)
	}
	return n > 0, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
