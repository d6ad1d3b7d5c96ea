package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tickreplay/internal/config"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/storage"
)

type redisOptions struct {
	host        string
	port        int
	password    string
	db          int
	key         string
	poolSize    int
	maxRetries  int
	dialTimeout time.Duration
}

func (o *redisOptions) addFlags(cmd *cobra.Command) {
	d := config.Default().Source.Redis
	cmd.Flags().StringVar(&o.host, "redis-host", d.Host, "redis host (or host:port)")
	cmd.Flags().IntVar(&o.port, "redis-port", d.Port, "redis port")
	cmd.Flags().StringVar(&o.password, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.db, "redis-db", 0, "redis database index")
	cmd.Flags().StringVar(&o.key, "redis-key", d.Key, "redis list holding the dataset")
	cmd.Flags().IntVar(&o.poolSize, "redis-pool-size", d.PoolSize, "redis connection pool size")
	cmd.Flags().IntVar(&o.maxRetries, "redis-max-retries", d.MaxRetries, "redis max retries")
	cmd.Flags().DurationVar(&o.dialTimeout, "redis-dial-timeout", d.DialTimeout, "redis dial timeout")
}

// applyTo overrides cfg with every flag set explicitly on the command line.
func (o *redisOptions) applyTo(cmd *cobra.Command, cfg *config.RedisSourceConfig) {
	if cmd.Flags().Changed("redis-host") {
		cfg.Host = o.host
	}
	if cmd.Flags().Changed("redis-port") {
		cfg.Port = o.port
	}
	if cmd.Flags().Changed("redis-password") {
		cfg.Password = o.password
	}
	if cmd.Flags().Changed("redis-db") {
		cfg.DB = o.db
	}
	if cmd.Flags().Changed("redis-key") {
		cfg.Key = o.key
	}
	if cmd.Flags().Changed("redis-pool-size") {
		cfg.PoolSize = o.poolSize
	}
	if cmd.Flags().Changed("redis-max-retries") {
		cfg.MaxRetries = o.maxRetries
	}
	if cmd.Flags().Changed("redis-dial-timeout") {
		cfg.DialTimeout = o.dialTimeout
	}
}

// sourceOptions selects the record source for the server.
type sourceOptions struct {
	backend string
	file    string
	redis   redisOptions
}

func (o *sourceOptions) addFlags(cmd *cobra.Command) {
	d := config.Default().Source
	cmd.Flags().StringVar(&o.backend, "source", d.Backend, "record source (file, redis)")
	cmd.Flags().StringVar(&o.file, "trade-file", d.File.Path, "trade dataset (.parquet, .json, .jsonl, .ndjson)")
	o.redis.addFlags(cmd)
}

func (o *sourceOptions) applyTo(cmd *cobra.Command, cfg *config.SourceConfig) {
	if cmd.Flags().Changed("source") {
		cfg.Backend = o.backend
	}
	if cmd.Flags().Changed("trade-file") {
		cfg.File.Path = o.file
	}
	o.redis.applyTo(cmd, &cfg.Redis)
}

// openSource builds the configured record source. The returned close
// function releases any connection the source holds.
func openSource(cfg config.SourceConfig) (dataset.Source, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		store, err := openRedisStore(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store.Source(cfg.Redis.Key), store.Close, nil
	default:
		return dataset.NewFileSource(cfg.File.Path), func() error { return nil }, nil
	}
}

func openRedisStore(cfg config.RedisSourceConfig) (*storage.RedisStore, error) {
	host, port, err := normalizeRedisHostPort(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewRedisStore(&storage.RedisConfig{
		Host:        host,
		Port:        port,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
	}
	return store, nil
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}
