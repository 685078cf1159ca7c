package server_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/server"
	"github.com/tailored-agentic-units/relay/store"
)

func TestDefaultConfig(t *testing.T) {
	cfg := server.DefaultConfig()

	if cfg.ListenAddr != ":8000" {
		t.Errorf("got ListenAddr %q, want :8000", cfg.ListenAddr)
	}
	if cfg.Recognizer.URL != "ws://127.0.0.1:10095" {
		t.Errorf("got Recognizer.URL %q", cfg.Recognizer.URL)
	}
	if cfg.Recognizer.DialTimeout != 10*time.Second {
		t.Errorf("got DialTimeout %v, want 10s", cfg.Recognizer.DialTimeout)
	}
	if cfg.Transport.ReadLimit != 1<<20 {
		t.Errorf("got ReadLimit %d, want 1 MiB", cfg.Transport.ReadLimit)
	}
	if cfg.Broadcast.SendTimeout != 5*time.Second {
		t.Errorf("got SendTimeout %v, want 5s", cfg.Broadcast.SendTimeout)
	}
	if cfg.Journal.BufferSize != 256 {
		t.Errorf("got Journal.BufferSize %d, want 256", cfg.Journal.BufferSize)
	}
	if cfg.Store.Driver != store.DriverMemory {
		t.Errorf("got Store.Driver %q, want memory", cfg.Store.Driver)
	}
	if cfg.Observer != "slog" {
		t.Errorf("got Observer %q, want slog", cfg.Observer)
	}
}

func TestConfig_Merge(t *testing.T) {
	cfg := server.DefaultConfig()

	cfg.Merge(&server.Config{
		ListenAddr:     ":9000",
		AllowedOrigins: []string{"chrome-extension://abc"},
		Recognizer:     server.RecognizerConfig{URL: "ws://10.0.0.5:10095"},
		Store:          store.Config{Driver: store.DriverRedis},
	})

	if cfg.ListenAddr != ":9000" {
		t.Errorf("got ListenAddr %q, want :9000", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Errorf("got AllowedOrigins %v", cfg.AllowedOrigins)
	}
	if cfg.Recognizer.URL != "ws://10.0.0.5:10095" {
		t.Errorf("got Recognizer.URL %q", cfg.Recognizer.URL)
	}
	if cfg.Recognizer.DialTimeout != 10*time.Second {
		t.Errorf("got DialTimeout %v, want preserved default", cfg.Recognizer.DialTimeout)
	}
	if cfg.Store.Driver != store.DriverRedis {
		t.Errorf("got Store.Driver %q, want redis", cfg.Store.Driver)
	}
	if cfg.Store.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("got Redis.Addr %q, want preserved default", cfg.Store.Redis.Addr)
	}
}

func TestConfig_Merge_ZeroValuesPreserveDefaults(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Merge(&server.Config{})

	if cfg.ListenAddr != server.DefaultConfig().ListenAddr {
		t.Errorf("got ListenAddr %q, want default", cfg.ListenAddr)
	}
	if cfg.Journal != server.DefaultConfig().Journal {
		t.Errorf("got Journal %+v, want default", cfg.Journal)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "relay.json",
			content: `{
				"listen_addr": ":9100",
				"recognizer": {"url": "ws://asr:10095", "dial_timeout": "3s"},
				"journal": {"buffer_size": 32},
				"store": {"driver": "file", "path": "/var/lib/relay.toml",
					"seed": [{"id": 42, "links": [{"id": 7, "keywords": ["开始"]}]}]}
			}`,
		},
		{
			name: "yaml",
			file: "relay.yaml",
			content: `
listen_addr: ":9100"
recognizer:
  url: ws://asr:10095
  dial_timeout: 3s
journal:
  buffer_size: 32
store:
  driver: file
  path: /var/lib/relay.toml
  seed:
    - id: 42
      links:
        - id: 7
          keywords: ["开始"]
`,
		},
		{
			name: "toml",
			file: "relay.toml",
			content: `
listen_addr = ":9100"

[recognizer]
url = "ws://asr:10095"
dial_timeout = "3s"

[journal]
buffer_size = 32

[store]
driver = "file"
path = "/var/lib/relay.toml"

[[store.seed]]
id = 42

[[store.seed.links]]
id = 7
keywords = ["开始"]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := server.LoadConfig(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}

			if cfg.ListenAddr != ":9100" {
				t.Errorf("got ListenAddr %q, want :9100", cfg.ListenAddr)
			}
			if cfg.Recognizer.URL != "ws://asr:10095" {
				t.Errorf("got Recognizer.URL %q", cfg.Recognizer.URL)
			}
			if cfg.Recognizer.DialTimeout != 3*time.Second {
				t.Errorf("got DialTimeout %v, want 3s", cfg.Recognizer.DialTimeout)
			}
			if cfg.Journal.BufferSize != 32 {
				t.Errorf("got BufferSize %d, want 32", cfg.Journal.BufferSize)
			}
			if cfg.Journal.PersistTimeout != 5*time.Second {
				t.Errorf("got PersistTimeout %v, want preserved default", cfg.Journal.PersistTimeout)
			}
			if cfg.Store.Driver != store.DriverFile || cfg.Store.Path != "/var/lib/relay.toml" {
				t.Errorf("got Store %+v", cfg.Store)
			}
			if len(cfg.Store.Seed) != 1 || cfg.Store.Seed[0].ID != 42 {
				t.Fatalf("got Seed %+v", cfg.Store.Seed)
			}
			if links := cfg.Store.Seed[0].Links; len(links) != 1 || links[0].ID != 7 || links[0].Keywords[0] != "开始" {
				t.Errorf("got Links %+v", links)
			}
			if cfg.Observer != "slog" {
				t.Errorf("got Observer %q, want preserved default", cfg.Observer)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := server.LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeFile(t, "relay.json", `{"listen_addr": `)
	if _, err := server.LoadConfig(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RELAY_LISTEN_ADDR", ":7000")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("RELAY_RECOGNIZER_URL", "ws://env-asr:10095")
	t.Setenv("RELAY_RECOGNIZER_DIAL_TIMEOUT", "2s")
	t.Setenv("RELAY_JOURNAL_BUFFER_SIZE", "8")
	t.Setenv("RELAY_STORE_DRIVER", "redis")
	t.Setenv("RELAY_STORE_REDIS_ADDR", "redis:6379")
	t.Setenv("RELAY_STORE_SUPABASE_API_KEY", "secret")

	cfg := server.DefaultConfig()
	if err := server.ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.ListenAddr != ":7000" {
		t.Errorf("got ListenAddr %q", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("got AllowedOrigins %v", cfg.AllowedOrigins)
	}
	if cfg.Recognizer.URL != "ws://env-asr:10095" || cfg.Recognizer.DialTimeout != 2*time.Second {
		t.Errorf("got Recognizer %+v", cfg.Recognizer)
	}
	if cfg.Journal.BufferSize != 8 {
		t.Errorf("got BufferSize %d, want 8", cfg.Journal.BufferSize)
	}
	if cfg.Store.Driver != "redis" || cfg.Store.Redis.Addr != "redis:6379" {
		t.Errorf("got Store %+v", cfg.Store)
	}
	if cfg.Store.Supabase.APIKey != "secret" {
		t.Errorf("got Supabase.APIKey %q", cfg.Store.Supabase.APIKey)
	}
	if cfg.Store.Redis.Prefix != "relay:" {
		t.Errorf("got Redis.Prefix %q, want preserved default", cfg.Store.Redis.Prefix)
	}
	if cfg.Transport.WriteTimeout != 10*time.Second {
		t.Errorf("got WriteTimeout %v, want preserved default", cfg.Transport.WriteTimeout)
	}
}
