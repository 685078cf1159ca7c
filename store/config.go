package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver names accepted by Config.Driver.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverSupabase = "supabase"
)

const defaultMaxLogs = 10000

// RedisConfig locates the redis server.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty" mapstructure:"addr" env:"ADDR"`
	Password string `json:"password,omitempty" mapstructure:"password" env:"PASSWORD"`
	DB       int    `json:"db,omitempty" mapstructure:"db" env:"DB"`
	Prefix   string `json:"prefix,omitempty" mapstructure:"prefix" env:"PREFIX"`
}

// SupabaseConfig locates the supabase project.
type SupabaseConfig struct {
	URL    string `json:"url,omitempty" mapstructure:"url" env:"URL"`
	APIKey string `json:"api_key,omitempty" mapstructure:"api_key" env:"API_KEY"`
	// Timeout bounds each PostgREST request. Zero leaves only the caller's
	// context.
	Timeout time.Duration `json:"timeout,omitempty" mapstructure:"timeout" env:"TIMEOUT"`
}

// Config selects and configures a driver.
type Config struct {
	Driver   string         `json:"driver,omitempty" mapstructure:"driver" env:"DRIVER"`
	Path     string         `json:"path,omitempty" mapstructure:"path" env:"PATH"`
	MaxLogs  int            `json:"max_logs,omitempty" mapstructure:"max_logs" env:"MAX_LOGS"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis" envPrefix:"REDIS_"`
	Supabase SupabaseConfig `json:"supabase" mapstructure:"supabase" envPrefix:"SUPABASE_"`
	// Seed users are written through PutUser when the store opens.
	Seed []User `json:"seed,omitempty" mapstructure:"seed" env:"-"`
}

func DefaultConfig() Config {
	return Config{
		Driver:  DriverMemory,
		MaxLogs: defaultMaxLogs,
		Redis: RedisConfig{
			Addr:   "127.0.0.1:6379",
			Prefix: "relay:",
		},
		Supabase: SupabaseConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.MaxLogs > 0 {
		c.MaxLogs = source.MaxLogs
	}

	if source.Redis.Addr != "" {
		c.Redis.Addr = source.Redis.Addr
	}
	if source.Redis.Password != "" {
		c.Redis.Password = source.Redis.Password
	}
	if source.Redis.DB > 0 {
		c.Redis.DB = source.Redis.DB
	}
	if source.Redis.Prefix != "" {
		c.Redis.Prefix = source.Redis.Prefix
	}

	if source.Supabase.URL != "" {
		c.Supabase.URL = source.Supabase.URL
	}
	if source.Supabase.APIKey != "" {
		c.Supabase.APIKey = source.Supabase.APIKey
	}
	if source.Supabase.Timeout > 0 {
		c.Supabase.Timeout = source.Supabase.Timeout
	}

	if len(source.Seed) > 0 {
		c.Seed = source.Seed
	}
}

// New opens the configured driver and applies the seed users.
func New(ctx context.Context, cfg *Config) (Store, error) {
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	for _, u := range cfg.Seed {
		if err := s.PutUser(ctx, u); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to seed user %d: %w", u.ID, err)
		}
	}
	return s, nil
}

func open(ctx context.Context, cfg *Config) (Store, error) {
	maxLogs := cfg.MaxLogs
	if maxLogs <= 0 {
		maxLogs = defaultMaxLogs
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(maxLogs), nil

	case DriverFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: file driver requires path", ErrInvalidConfig)
		}
		return NewFileStore(cfg.Path, maxLogs), nil

	case DriverRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("%w: redis driver requires addr", ErrInvalidConfig)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisStore(client, cfg.Redis.Prefix, maxLogs), nil

	case DriverSupabase:
		return NewSupabaseStore(cfg.Supabase)

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidDriver, cfg.Driver)
	}
}
