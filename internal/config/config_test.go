package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"actlog/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("ACTLOG_API_TOKEN", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "actlog", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if want := filepath.Join(tempHome, ".local", "share", "actlog"); cfg.Paths.DataDir != want {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, want)
	}
	if cfg.Queue.MaxBatchSize != 100 || cfg.Queue.MaxRetries != 3 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.FlushInterval() != 5*time.Second {
		t.Fatalf("unexpected flush interval %s", cfg.FlushInterval())
	}
	if cfg.InsertTimeout() != 30*time.Second {
		t.Fatalf("unexpected insert timeout %s", cfg.InsertTimeout())
	}
	if cfg.Storage.Backend != config.BackendSQLite {
		t.Fatalf("unexpected backend %q", cfg.Storage.Backend)
	}
	if cfg.StoragePath() != filepath.Join(cfg.Paths.DataDir, "activity.db") {
		t.Fatalf("unexpected storage path %q", cfg.StoragePath())
	}
	if cfg.Redaction.Mask != "[REDACTED]" || !cfg.Redaction.MaskEmails {
		t.Fatalf("unexpected redaction defaults: %+v", cfg.Redaction)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ACTLOG_API_TOKEN", "env-token")
	dir := t.TempDir()
	path := filepath.Join(dir, "actlog.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[queue]
max_batch_size = 25
max_retries = 5
flush_interval_ms = 750

[storage]
backend = "Pebble"

[redaction]
extra_keys = [" National_ID ", "national_id", ""]

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %q to exist, got resolved=%q exists=%v", path, resolved, exists)
	}
	if cfg.Queue.MaxBatchSize != 25 || cfg.Queue.MaxRetries != 5 || cfg.FlushInterval() != 750*time.Millisecond {
		t.Fatalf("queue overrides not applied: %+v", cfg.Queue)
	}
	if cfg.Storage.Backend != config.BackendPebble {
		t.Fatalf("expected pebble backend, got %q", cfg.Storage.Backend)
	}
	if cfg.StoragePath() != filepath.Join(dir, "data", "activity.pebble") {
		t.Fatalf("unexpected storage path %q", cfg.StoragePath())
	}
	if len(cfg.Redaction.ExtraKeys) != 1 || cfg.Redaction.ExtraKeys[0] != "national_id" {
		t.Fatalf("unexpected extra keys %v", cfg.Redaction.ExtraKeys)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Fatalf("expected token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"negative batch", func(c *config.Config) { c.Queue.MaxBatchSize = -1 }, "queue.max_batch_size"},
		{"zero retries", func(c *config.Config) { c.Queue.MaxRetries = 0 }, "queue.max_retries"},
		{"negative insert timeout", func(c *config.Config) { c.Queue.InsertTimeoutSeconds = -5 }, "queue.insert_timeout_seconds"},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"bad bind", func(c *config.Config) { c.Paths.APIBind = "localhost" }, "paths.api_bind"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad exporter", func(c *config.Config) { c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
		{"bad ratio", func(c *config.Config) { c.Tracing.SampleRatio = 2 }, "tracing.sample_ratio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var generic map[string]any
	if err := toml.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil || !exists {
		t.Fatalf("Load sample: exists=%v err=%v", exists, err)
	}
	if cfg.Redaction.ExtraKeys[0] != "national_id" {
		t.Fatalf("unexpected sample extra keys %v", cfg.Redaction.ExtraKeys)
	}
}

func TestEnsureDirectoriesCreatesDataAndLogDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.Path = filepath.Join(base, "db", "activity.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, filepath.Join(base, "db")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "actlog.toml")
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *config.Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, config.WatchOptions{
			Debounce: 20 * time.Millisecond,
			OnChange: func(cfg *config.Config) { changes <- cfg },
		})
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-changes:
			if cfg.Logging.Level != "debug" {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned error: %v", err)
			}
			return
		case <-tick.C:
			// rewrite until the watcher has been registered and sees the change
			if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o644); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
