package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
downloads:
  concurrency: 6
  queue_depth: 128
  task_timeout_seconds: 600
  output_dir: /tmp/staging
  quality: bestvideo+bestaudio
  include_subtitles: true
  collection_limit: 10
retry:
  max_attempts: 5
  base_delay_ms: 100
  max_delay_ms: 5000
ratelimit:
  enabled: true
  default_rps: 0.5
  default_burst: 1
extractor:
  socket_timeout_seconds: 15
  proxy: socks5://127.0.0.1:1080
storage:
  backend: gcs
  bucket: media-archive
  prefix: vault
  signed_url_ttl_seconds: 600
database:
  dsn: postgres://localhost/vault
  ledger_table: custom_ledger
  max_conns: 8
  max_conn_lifetime: 15m
cache:
  backend: redis
  ttl_seconds: 120
  redis:
    addr: localhost:6379
    db: 2
pubsub:
  project_id: my-project
  topic_name: vault-events
progress:
  enabled: true
  buffer_size: 2048
  batch:
    max_events: 500
    max_wait_ms: 250
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
	if cfg.Downloads.Concurrency != 6 || cfg.Downloads.QueueDepth != 128 {
		t.Fatalf("expected downloads overrides to apply: %+v", cfg.Downloads)
	}
	if !cfg.Downloads.IncludeSubtitles || cfg.Downloads.Quality != "bestvideo+bestaudio" {
		t.Fatalf("expected downloads options to apply: %+v", cfg.Downloads)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.RetryBaseDelay() != 100*time.Millisecond {
		t.Fatalf("expected retry overrides to apply: %+v", cfg.Retry)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.DefaultRPS != 0.5 {
		t.Fatalf("expected ratelimit overrides to apply: %+v", cfg.RateLimit)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.Bucket != "media-archive" || cfg.Storage.Prefix != "vault" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Database.LedgerTable != "custom_ledger" || cfg.Database.MaxConns != 8 {
		t.Fatalf("expected database overrides to apply: %+v", cfg.Database)
	}
	if cfg.Database.MaxConnLifetime != 15*time.Minute {
		t.Fatalf("expected conn lifetime 15m, got %v", cfg.Database.MaxConnLifetime)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.Redis.Addr != "localhost:6379" || cfg.Cache.Redis.DB != 2 {
		t.Fatalf("expected cache overrides to apply: %+v", cfg.Cache)
	}
	if cfg.PubSub.ProjectID != "my-project" || cfg.PubSub.TopicName != "vault-events" {
		t.Fatalf("expected pubsub overrides to apply: %+v", cfg.PubSub)
	}
	if cfg.Progress.Batch.MaxEvents != 500 || cfg.Progress.Batch.MaxWaitMs != 250 {
		t.Fatalf("expected progress batch overrides to apply: %+v", cfg.Progress)
	}
	if got := cfg.TaskTimeout(); got != 600*time.Second {
		t.Fatalf("expected task timeout 600s, got %v", got)
	}
	if got := cfg.CacheTTL(); got != 120*time.Second {
		t.Fatalf("expected cache ttl 120s, got %v", got)
	}
	if got := cfg.SignedURLTTL(); got != 600*time.Second {
		t.Fatalf("expected signed url ttl 600s, got %v", got)
	}
	if got := cfg.SocketTimeout(); got != 15*time.Second {
		t.Fatalf("expected socket timeout 15s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected development logging by default")
	}
	if cfg.Downloads.Concurrency != 3 || cfg.Downloads.QueueDepth != 64 {
		t.Fatalf("unexpected download defaults: %+v", cfg.Downloads)
	}
	if cfg.Downloads.Quality != "best" || cfg.Downloads.CollectionLimit != 25 {
		t.Fatalf("unexpected download defaults: %+v", cfg.Downloads)
	}
	if cfg.Downloads.OutputDir != "data/media" {
		t.Fatalf("unexpected staging dir default: %q", cfg.Downloads.OutputDir)
	}
	if cfg.Storage.Backend != "memory" || cfg.Storage.Prefix != "media" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.TTLSeconds != 300 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Database.LedgerTable != "dedup_ledger" {
		t.Fatalf("unexpected ledger table default: %q", cfg.Database.LedgerTable)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.RetryMaxDelay() != 30*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if !cfg.Progress.Enabled || cfg.Progress.BufferSize != 4096 {
		t.Fatalf("unexpected progress defaults: %+v", cfg.Progress)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Downloads: DownloadsConfig{
			Concurrency:        3,
			TaskTimeoutSeconds: 1800,
		},
		Storage: StorageConfig{Backend: "memory"},
		Cache:   CacheConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Downloads.Concurrency = 0
				return c
			}(),
			want: "downloads.concurrency",
		},
		{
			name: "invalid task timeout",
			cfg: func() Config {
				c := base
				c.Downloads.TaskTimeoutSeconds = 0
				return c
			}(),
			want: "downloads.task_timeout_seconds",
		},
		{
			name: "gcs missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.bucket",
		},
		{
			name: "unknown storage backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "tape"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "redis missing addr",
			cfg: func() Config {
				c := base
				c.Cache.Backend = "redis"
				return c
			}(),
			want: "cache.redis.addr",
		},
		{
			name: "unknown cache backend",
			cfg: func() Config {
				c := base
				c.Cache.Backend = "memcached"
				return c
			}(),
			want: "cache.backend",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
