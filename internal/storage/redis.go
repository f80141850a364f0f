package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps queue state in Redis so a restarted host resumes where it
// left off. Keys are namespaced to keep a shared instance tidy.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"TABREADER_REDIS_ADDR"`
	Password string `yaml:"password" env:"TABREADER_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"TABREADER_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"TABREADER_REDIS_PREFIX"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *log.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = log.Default()
	}

	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tabreader"
	}

	logger.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisStore{client: client, prefix: prefix, logger: logger}, nil
}

// Get retrieves a value from Redis.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, nil
}

// Set stores a value in Redis with no expiry; the queue owns its own lifetime.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes a value from Redis.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}
