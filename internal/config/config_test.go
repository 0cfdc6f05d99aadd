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
monitor:
  base_dir: /data/experiments
  run_prefix: run_
  poll_interval_seconds: 2
  target_iterations: 25
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  enabled: true
  dsn: postgres://localhost/evomon
  table: iterations
pubsub:
  enabled: true
  project_id: proj
  topic_name: run-complete
archive:
  provider: gcs
  gcs_bucket: bucket
  prefix: archived
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Monitor.BaseDir != "/data/experiments" {
		t.Fatalf("expected base dir override, got %q", cfg.Monitor.BaseDir)
	}
	if cfg.Monitor.TargetIterations != 25 {
		t.Fatalf("expected 25 target iterations, got %d", cfg.Monitor.TargetIterations)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if !cfg.DB.Enabled || cfg.DB.Table != "iterations" {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if cfg.Archive.Provider != "gcs" || cfg.Archive.GCSBucket != "bucket" {
		t.Fatalf("expected gcs archive config: %+v", cfg.Archive)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if got := cfg.PollInterval(); got != 2*time.Second {
		t.Fatalf("expected poll interval 2s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Monitor.BaseDir != "experiments" || cfg.Monitor.RunPrefix != "run_" {
		t.Fatalf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
	if cfg.Monitor.PollIntervalSeconds != 5 || cfg.Monitor.TargetIterations != 10 {
		t.Fatalf("unexpected polling defaults: %+v", cfg.Monitor)
	}
	if cfg.Archive.Provider != "local" {
		t.Fatalf("expected local archive default, got %q", cfg.Archive.Provider)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Monitor: MonitorConfig{
			BaseDir:             "experiments",
			RunPrefix:           "run_",
			PollIntervalSeconds: 5,
			TargetIterations:    10,
		},
		Server:  ServerConfig{Port: 8080},
		Archive: ArchiveConfig{Provider: "noop"},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing base dir",
			mutate: func(c *Config) { c.Monitor.BaseDir = "" },
			want:   "monitor.base_dir",
		},
		{
			name:   "invalid poll interval",
			mutate: func(c *Config) { c.Monitor.PollIntervalSeconds = 0 },
			want:   "monitor.poll_interval_seconds",
		},
		{
			name:   "invalid target",
			mutate: func(c *Config) { c.Monitor.TargetIterations = -1 },
			want:   "monitor.target_iterations",
		},
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "server.port",
		},
		{
			name:   "auth without key",
			mutate: func(c *Config) { c.Auth.Enabled = true },
			want:   "auth.api_key",
		},
		{
			name:   "db without dsn",
			mutate: func(c *Config) { c.DB.Enabled = true },
			want:   "db.dsn",
		},
		{
			name:   "pubsub without topic",
			mutate: func(c *Config) { c.PubSub.Enabled = true; c.PubSub.ProjectID = "proj" },
			want:   "pubsub.project_id and pubsub.topic_name",
		},
		{
			name:   "gcs archive without bucket",
			mutate: func(c *Config) { c.Archive.Provider = "gcs" },
			want:   "archive.gcs_bucket",
		},
		{
			name:   "unknown archive provider",
			mutate: func(c *Config) { c.Archive.Provider = "tape" },
			want:   "unknown archive provider",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if got := err.Error(); !strings.Contains(got, tc.want) {
				t.Fatalf("expected error containing %q, got %q", tc.want, got)
			}
		})
	}
}
