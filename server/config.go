package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/tailored-agentic-units/relay/broadcast"
	"github.com/tailored-agentic-units/relay/journal"
	"github.com/tailored-agentic-units/relay/store"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_LISTEN_ADDR or
// RELAY_STORE_REDIS_ADDR.
const EnvPrefix = "RELAY_"

// RecognizerConfig locates the speech recognition service.
type RecognizerConfig struct {
	URL         string        `json:"url,omitempty" mapstructure:"url" env:"URL"`
	DialTimeout time.Duration `json:"dial_timeout,omitempty" mapstructure:"dial_timeout" env:"DIAL_TIMEOUT"`
	// Handshake, when set, is sent as a text message right after dialing.
	Handshake string `json:"handshake,omitempty" mapstructure:"handshake" env:"HANDSHAKE"`
}

func (c *RecognizerConfig) Merge(source *RecognizerConfig) {
	if source.URL != "" {
		c.URL = source.URL
	}
	if source.DialTimeout > 0 {
		c.DialTimeout = source.DialTimeout
	}
	if source.Handshake != "" {
		c.Handshake = source.Handshake
	}
}

// TransportConfig tunes every websocket connection the relay holds.
type TransportConfig struct {
	WriteTimeout time.Duration `json:"write_timeout,omitempty" mapstructure:"write_timeout" env:"WRITE_TIMEOUT"`
	ReadLimit    int64         `json:"read_limit,omitempty" mapstructure:"read_limit" env:"READ_LIMIT"`
}

func (c *TransportConfig) Merge(source *TransportConfig) {
	if source.WriteTimeout > 0 {
		c.WriteTimeout = source.WriteTimeout
	}
	if source.ReadLimit > 0 {
		c.ReadLimit = source.ReadLimit
	}
}

// Config holds initialization parameters for the relay process.
type Config struct {
	ListenAddr     string           `json:"listen_addr,omitempty" mapstructure:"listen_addr" env:"LISTEN_ADDR"`
	AllowedOrigins []string         `json:"allowed_origins,omitempty" mapstructure:"allowed_origins" env:"ALLOWED_ORIGINS"`
	Recognizer     RecognizerConfig `json:"recognizer" mapstructure:"recognizer" envPrefix:"RECOGNIZER_"`
	Transport      TransportConfig  `json:"transport" mapstructure:"transport" envPrefix:"TRANSPORT_"`
	Broadcast      broadcast.Config `json:"broadcast" mapstructure:"broadcast" envPrefix:"BROADCAST_"`
	Journal        journal.Config   `json:"journal" mapstructure:"journal" envPrefix:"JOURNAL_"`
	Store          store.Config     `json:"store" mapstructure:"store" envPrefix:"STORE_"`
	// Observer names the lifecycle event sink: "slog" or "noop".
	Observer string `json:"observer,omitempty" mapstructure:"observer" env:"OBSERVER"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8000",
		Recognizer: RecognizerConfig{
			URL:         "ws://127.0.0.1:10095",
			DialTimeout: 10 * time.Second,
		},
		Transport: TransportConfig{
			WriteTimeout: 10 * time.Second,
			ReadLimit:    1 << 20,
		},
		Broadcast: broadcast.DefaultConfig(),
		Journal:   journal.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Observer:  "slog",
	}
}

// Merge applies non-zero values from source into c, delegating to each
// section's Merge method.
func (c *Config) Merge(source *Config) {
	if source.ListenAddr != "" {
		c.ListenAddr = source.ListenAddr
	}
	if len(source.AllowedOrigins) > 0 {
		c.AllowedOrigins = source.AllowedOrigins
	}

	c.Recognizer.Merge(&source.Recognizer)
	c.Transport.Merge(&source.Transport)
	c.Broadcast.Merge(&source.Broadcast)
	c.Journal.Merge(&source.Journal)
	c.Store.Merge(&source.Store)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// LoadConfig reads a JSON, YAML or TOML config file, merges it over
// defaults, and returns the result. The format follows the file extension.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(filename)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := v.Unmarshal(&loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}

// ApplyEnv overlays RELAY_* environment variables onto cfg. Unset variables
// leave the current values in place.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}
