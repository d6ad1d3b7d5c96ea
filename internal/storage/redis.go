package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
)

const (
	defaultRedisPoolSize    = 10
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second

	// records per RPUSH / LRANGE round trip
	redisBatchSize = 1000
)

// RedisConfig holds connection settings for a Redis record store.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	DialTimeout time.Duration
}

// RedisStore keeps datasets as Redis lists, one JSON-encoded record per
// element, in the order they were imported.
type RedisStore struct {
	client redis.UniversalClient

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:        conf.Host + ":" + strconv.Itoa(conf.Port),
		Password:    conf.Password,
		DB:          conf.DB,
		PoolSize:    conf.PoolSize,
		MaxRetries:  conf.MaxRetries,
		DialTimeout: conf.DialTimeout,
	})

	s := &RedisStore{client: client}
	if err := s.pingWithRetry(context.Background(), conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// Save replaces the list at key with records. It returns the number of
// records written.
func (s *RedisStore) Save(ctx context.Context, key string, records []dataset.Record) (int, error) {
	if key == "" {
		return 0, fmt.Errorf("key is required")
	}

	staging := key + ":importing"
	if err := s.client.Del(ctx, staging).Err(); err != nil {
		return 0, fmt.Errorf("clearing staging list: %w", err)
	}

	for start := 0; start < len(records); start += redisBatchSize {
		end := min(start+redisBatchSize, len(records))
		batch := make([]interface{}, 0, end-start)
		for _, rec := range records[start:end] {
			data, err := json.Marshal(rec)
			if err != nil {
				return 0, fmt.Errorf("encoding record %d: %w", start+len(batch), err)
			}
			batch = append(batch, data)
		}
		if err := s.client.RPush(ctx, staging, batch...).Err(); err != nil {
			return 0, fmt.Errorf("pushing records: %w", err)
		}
	}

	// Swap the staged list in so readers never see a partial import.
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(records) > 0 {
			pipe.Rename(ctx, staging, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("publishing dataset: %w", err)
	}
	return len(records), nil
}

// Load reads every record stored at key. A missing key is reported as
// fs.ErrNotExist.
func (s *RedisStore) Load(ctx context.Context, key string) ([]dataset.Record, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dataset length: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("redis key %q: %w", key, fs.ErrNotExist)
	}

	records := make([]dataset.Record, 0, n)
	for start := int64(0); start < n; start += redisBatchSize {
		vals, err := s.client.LRange(ctx, key, start, start+redisBatchSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("reading records: %w", err)
		}
		for i, v := range vals {
			var rec dataset.Record
			if err := json.Unmarshal([]byte(v), &rec); err != nil {
				return nil, fmt.Errorf("decoding record %d: %w", start+int64(i), err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// Source returns a dataset.Source reading the list at key.
func (s *RedisStore) Source(key string) dataset.Source {
	return &redisSource{store: s, key: key}
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

type redisSource struct {
	store *RedisStore
	key   string
}

func (r *redisSource) Load(ctx context.Context) ([]dataset.Record, error) {
	return r.store.Load(ctx, r.key)
}

func (r *redisSource) Name() string {
	return "redis:" + r.key
}

func (s *RedisStore) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if conf.Port <= 0 {
		return nil, fmt.Errorf("port must be positive, got %d", conf.Port)
	}
	return &conf, nil
}
