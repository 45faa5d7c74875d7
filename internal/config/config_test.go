package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  sentinel2:
    auth: s3
    downloader: s3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %s, want json", cfg.Logging.Format)
	}
	if cfg.Download.MaxRetries != 3 {
		t.Errorf("download.max_retries = %d, want 3", cfg.Download.MaxRetries)
	}
	if cfg.Download.ChunkSize != 8192 {
		t.Errorf("download.chunk_size = %d, want 8192", cfg.Download.ChunkSize)
	}
	if got := cfg.Download.GetTimeout(); got != 30*time.Second {
		t.Errorf("download timeout = %v, want 30s", got)
	}
	if cfg.Download.PoolConnections != 10 {
		t.Errorf("download.pool_connections = %d, want 10", cfg.Download.PoolConnections)
	}
	if cfg.Download.PoolMaxSize != 2 {
		t.Errorf("download.pool_max_size = %d, want 2", cfg.Download.PoolMaxSize)
	}
	if cfg.Download.Workers != 1 {
		t.Errorf("download.workers = %d, want 1", cfg.Download.Workers)
	}
	if got := cfg.Download.GetRequestInterval(); got != 0 {
		t.Errorf("request interval = %v, want 0", got)
	}
	if got := cfg.Download.GetRetryBackoff(); got != time.Second {
		t.Errorf("retry backoff = %v, want 1s", got)
	}
	if got := cfg.Download.GetRetryMaxBackoff(); got != 30*time.Second {
		t.Errorf("retry max backoff = %v, want 30s", got)
	}
	if cfg.S3.Region != "default" {
		t.Errorf("s3.region = %s, want default", cfg.S3.Region)
	}
	if cfg.S3.EndpointURL == "" {
		t.Error("s3.endpoint_url default should not be empty")
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
  events: true
download:
  max_retries: 5
  chunk_size: 1024
  timeout: 5s
  request_interval: 250ms
  retry_backoff: 100ms
  workers: 4
inventory:
  path: /tmp/satctl.db
sources:
  sentinel2:
    auth: odata
    downloader: http
    description: Sentinel-2 L2A products
    extract_archives: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Logging.Events {
		t.Error("logging.events should be true")
	}
	if cfg.Download.MaxRetries != 5 {
		t.Errorf("download.max_retries = %d, want 5", cfg.Download.MaxRetries)
	}
	if got := cfg.Download.GetTimeout(); got != 5*time.Second {
		t.Errorf("download timeout = %v, want 5s", got)
	}
	if got := cfg.Download.GetRequestInterval(); got != 250*time.Millisecond {
		t.Errorf("request interval = %v, want 250ms", got)
	}
	if got := cfg.Download.GetRetryBackoff(); got != 100*time.Millisecond {
		t.Errorf("retry backoff = %v, want 100ms", got)
	}
	if cfg.Inventory.Path != "/tmp/satctl.db" {
		t.Errorf("inventory.path = %s, want /tmp/satctl.db", cfg.Inventory.Path)
	}

	src, ok := cfg.Sources["sentinel2"]
	if !ok {
		t.Fatal("sources.sentinel2 missing")
	}
	if src.Auth != "odata" || src.Downloader != "http" {
		t.Errorf("sentinel2 source = %+v, want auth=odata downloader=http", src)
	}
	if !src.ExtractArchives {
		t.Error("sentinel2 extract_archives should be true")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "invalid log level",
			content: "logging:\n  level: verbose\n",
		},
		{
			name:    "invalid log format",
			content: "logging:\n  format: xml\n",
		},
		{
			name:    "zero max retries",
			content: "download:\n  max_retries: 0\n",
		},
		{
			name:    "zero chunk size",
			content: "download:\n  chunk_size: 0\n",
		},
		{
			name:    "unparseable timeout",
			content: "download:\n  timeout: fast\n",
		},
		{
			name:    "unparseable request interval",
			content: "download:\n  request_interval: often\n",
		},
		{
			name:    "unparseable retry backoff",
			content: "download:\n  retry_backoff: slow\n",
		},
		{
			name:    "source missing downloader",
			content: "sources:\n  sentinel2:\n    auth: odata\n",
		},
		{
			name:    "source missing auth",
			content: "sources:\n  sentinel2:\n    downloader: http\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load() should have failed validation")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}
