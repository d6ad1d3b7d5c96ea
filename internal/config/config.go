package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/logging"
)

// Source backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the top-level configuration shared by the server and client.
type Config struct {
	Server ServerConfig `json:"server"`
	Source SourceConfig `json:"source"`
	Replay ReplayConfig `json:"replay"`
	Client ClientConfig `json:"client"`
	Log    LogConfig    `json:"log"`
}

// ServerConfig holds the listening address and admission limits.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// SessionsPerMinute caps new sessions per remote host. Zero disables it.
	SessionsPerMinute int `json:"sessions_per_minute"`
	// SessionBurst allows short spikes above SessionsPerMinute.
	SessionBurst int `json:"session_burst"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header identifies the real client. Empty trusts no proxy.
	TrustedProxies []string `json:"trusted_proxies"`
}

// Addr joins host and port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a
// single-host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, p := range s.TrustedProxies {
		if prefix, err := netip.ParsePrefix(p); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q is not an address or CIDR", p)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// SourceConfig selects where each session loads its records from.
type SourceConfig struct {
	Backend string            `json:"backend"`
	File    FileSourceConfig  `json:"file"`
	Redis   RedisSourceConfig `json:"redis"`
}

// FileSourceConfig points at a Parquet, JSON or NDJSON dataset.
type FileSourceConfig struct {
	Path string `json:"path"`
}

// RedisSourceConfig locates a dataset previously imported into Redis.
type RedisSourceConfig struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	Password    string        `json:"password"`
	DB          int           `json:"db"`
	Key         string        `json:"key"`
	PoolSize    int           `json:"pool_size"`
	MaxRetries  int           `json:"max_retries"`
	DialTimeout time.Duration `json:"dial_timeout"`
}

// ReplayConfig tunes the pacing engine.
type ReplayConfig struct {
	QueueSize int       `json:"queue_size"`
	Speed     float64   `json:"speed"`
	After     time.Time `json:"after"`
	Before    time.Time `json:"before"`
}

// ClientConfig controls how much the consumer logs.
type ClientConfig struct {
	ShowFirstN      int `json:"show_first_n"`
	SummaryInterval int `json:"summary_interval"`
}

// LogConfig holds the log verbosity.
type LogConfig struct {
	Level string `json:"level"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8765,
		},
		Source: SourceConfig{
			Backend: BackendFile,
			File: FileSourceConfig{
				Path: "trades_sample.parquet",
			},
			Redis: RedisSourceConfig{
				Host:        "localhost",
				Port:        6379,
				Key:         "tickreplay:trades",
				PoolSize:    10,
				MaxRetries:  3,
				DialTimeout: 5 * time.Second,
			},
		},
		Replay: ReplayConfig{
			QueueSize: 100,
			Speed:     1,
		},
		Client: ClientConfig{
			ShowFirstN:      10,
			SummaryInterval: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.SessionsPerMinute < 0 {
		return fmt.Errorf("sessions_per_minute must not be negative, got %d", c.Server.SessionsPerMinute)
	}
	if c.Server.SessionBurst < 0 {
		return fmt.Errorf("session_burst must not be negative, got %d", c.Server.SessionBurst)
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.Replay.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.Replay.QueueSize)
	}
	if c.Replay.Speed <= 0 {
		return fmt.Errorf("speed must be positive, got %g", c.Replay.Speed)
	}
	if !c.Replay.After.IsZero() && !c.Replay.Before.IsZero() && !c.Replay.After.Before(c.Replay.Before) {
		return fmt.Errorf("after (%s) must be earlier than before (%s)", c.Replay.After, c.Replay.Before)
	}
	if c.Client.ShowFirstN < 0 {
		return fmt.Errorf("show_first_n must not be negative, got %d", c.Client.ShowFirstN)
	}
	if c.Client.SummaryInterval <= 0 {
		return fmt.Errorf("summary_interval must be positive, got %d", c.Client.SummaryInterval)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	switch c.Source.Backend {
	case BackendFile:
		if c.Source.File.Path == "" {
			return fmt.Errorf("source.file.path is required for the file backend")
		}
		if _, err := dataset.FormatFromPath(c.Source.File.Path); err != nil {
			return err
		}
	case BackendRedis:
		if c.Source.Redis.Host == "" {
			return fmt.Errorf("source.redis.host is required for the redis backend")
		}
		if c.Source.Redis.Port <= 0 {
			return fmt.Errorf("source.redis.port must be positive, got %d", c.Source.Redis.Port)
		}
		if c.Source.Redis.Key == "" {
			return fmt.Errorf("source.redis.key is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown source backend %q, must be one of: file, redis", c.Source.Backend)
	}
	return nil
}

// LoadFile reads a JSON config file and merges it with defaults.
// Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if raw.Server.Host != "" {
		cfg.Server.Host = raw.Server.Host
	}
	if raw.Server.Port > 0 {
		cfg.Server.Port = raw.Server.Port
	}
	if raw.Server.SessionsPerMinute > 0 {
		cfg.Server.SessionsPerMinute = raw.Server.SessionsPerMinute
	}
	if raw.Server.SessionBurst > 0 {
		cfg.Server.SessionBurst = raw.Server.SessionBurst
	}
	if len(raw.Server.TrustedProxies) > 0 {
		cfg.Server.TrustedProxies = raw.Server.TrustedProxies
	}

	if raw.Source.Backend != "" {
		cfg.Source.Backend = raw.Source.Backend
	}
	if raw.Source.File.Path != "" {
		cfg.Source.File.Path = raw.Source.File.Path
	}
	r := raw.Source.Redis
	if r.Host != "" {
		cfg.Source.Redis.Host = r.Host
	}
	if r.Port > 0 {
		cfg.Source.Redis.Port = r.Port
	}
	if r.Password != "" {
		cfg.Source.Redis.Password = r.Password
	}
	if r.DB > 0 {
		cfg.Source.Redis.DB = r.DB
	}
	if r.Key != "" {
		cfg.Source.Redis.Key = r.Key
	}
	if r.PoolSize > 0 {
		cfg.Source.Redis.PoolSize = r.PoolSize
	}
	if r.MaxRetries > 0 {
		cfg.Source.Redis.MaxRetries = r.MaxRetries
	}
	if r.DialTimeout != "" {
		d, err := time.ParseDuration(r.DialTimeout)
		if err != nil {
			return cfg, fmt.Errorf("parsing source.redis.dial_timeout: %w", err)
		}
		cfg.Source.Redis.DialTimeout = d
	}

	if raw.Replay.QueueSize > 0 {
		cfg.Replay.QueueSize = raw.Replay.QueueSize
	}
	if raw.Replay.Speed > 0 {
		cfg.Replay.Speed = raw.Replay.Speed
	}
	if raw.Replay.After != "" {
		t, err := dataset.ParseTimestamp(raw.Replay.After)
		if err != nil {
			return cfg, fmt.Errorf("parsing replay.after: %w", err)
		}
		cfg.Replay.After = t
	}
	if raw.Replay.Before != "" {
		t, err := dataset.ParseTimestamp(raw.Replay.Before)
		if err != nil {
			return cfg, fmt.Errorf("parsing replay.before: %w", err)
		}
		cfg.Replay.Before = t
	}

	if raw.Client.ShowFirstN != nil {
		cfg.Client.ShowFirstN = *raw.Client.ShowFirstN
	}
	if raw.Client.SummaryInterval > 0 {
		cfg.Client.SummaryInterval = raw.Client.SummaryInterval
	}
	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}

	return cfg, nil
}

// rawConfig is the JSON-friendly representation with string durations
// and times.
type rawConfig struct {
	Server struct {
		Host              string   `json:"host"`
		Port              int      `json:"port"`
		SessionsPerMinute int      `json:"sessions_per_minute"`
		SessionBurst      int      `json:"session_burst"`
		TrustedProxies    []string `json:"trusted_proxies"`
	} `json:"server"`
	Source struct {
		Backend string `json:"backend"`
		File    struct {
			Path string `json:"path"`
		} `json:"file"`
		Redis struct {
			Host        string `json:"host"`
			Port        int    `json:"port"`
			Password    string `json:"password"`
			DB          int    `json:"db"`
			Key         string `json:"key"`
			PoolSize    int    `json:"pool_size"`
			MaxRetries  int    `json:"max_retries"`
			DialTimeout string `json:"dial_timeout"`
		} `json:"redis"`
	} `json:"source"`
	Replay struct {
		QueueSize int     `json:"queue_size"`
		Speed     float64 `json:"speed"`
		After     string  `json:"after"`
		Before    string  `json:"before"`
	} `json:"replay"`
	Client struct {
		ShowFirstN      *int `json:"show_first_n"`
		SummaryInterval int  `json:"summary_interval"`
	} `json:"client"`
	Log struct {
		Level string `json:"level"`
	} `json:"log"`
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `{
  "server": {
    "host": "localhost",
    "port": 8765,
    "sessions_per_minute": 0,
    "trusted_proxies": []
  },
  "source": {
    "backend": "file",
    "file": {
      "path": "trades_sample.parquet"
    },
    "redis": {
      "host": "localhost",
      "port": 6379,
      "key": "tickreplay:trades",
      "dial_timeout": "5s"
    }
  },
  "replay": {
    "queue_size": 100,
    "speed": 1
  },
  "client": {
    "show_first_n": 10,
    "summary_interval": 100
  },
  "log": {
    "level": "info"
  }
}
`
	return os.WriteFile(path, []byte(example), 0o644)
}
