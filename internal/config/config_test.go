package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MaxNumberOfLogs != 10000 {
		t.Fatalf("maxNumberOfLogs default = %d", cfg.MaxNumberOfLogs)
	}
	if cfg.UploadRetries == nil || *cfg.UploadRetries != 3 {
		t.Fatalf("uploadRetries default = %v", cfg.UploadRetries)
	}
	if cfg.Store != StorePebble {
		t.Fatalf("store default = %q", cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "relay.json")
	data := []byte(`{"endpoint":"https://logs.example.com/ingest","headers":{"Authorization":"Bearer k"},"maxNumberOfLogs":50,"uploadRetries":null,"store":"SQLite"}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "https://logs.example.com/ingest" {
		t.Fatalf("endpoint = %q", cfg.Endpoint)
	}
	if diff := cmp.Diff(map[string]string{"Authorization": "Bearer k"}, cfg.Headers); diff != "" {
		t.Fatalf("headers (-want +got):\n%s", diff)
	}
	if cfg.MaxNumberOfLogs != 50 {
		t.Fatalf("maxNumberOfLogs = %d", cfg.MaxNumberOfLogs)
	}
	if cfg.UploadRetries != nil {
		t.Fatalf("null uploadRetries should mean forever, got %d", *cfg.UploadRetries)
	}
	if cfg.Store != StoreSQLite {
		t.Fatalf("store should be normalized, got %q", cfg.Store)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "relay.yaml")
	data := []byte("endpoint: http://127.0.0.1:9000/logs\nuploadRetries: -1\ntransfer:\n  concurrency: 8\n  gzip: true\n")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UploadRetries != nil {
		t.Fatalf("negative retries should fold into forever")
	}
	if cfg.Transfer.Concurrency != 8 || !cfg.Transfer.Gzip {
		t.Fatalf("transfer = %+v", cfg.Transfer)
	}
	if cfg.MaxNumberOfLogs != DefaultMaxNumberOfLogs {
		t.Fatalf("defaults should survive partial files")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("RELAY_ENDPOINT", "https://env.example.com/v1/logs")
	t.Setenv("RELAY_HEADERS", "X-Api-Key:abc,X-Tenant:t1")
	t.Setenv("RELAY_MAX_NUMBER_OF_LOGS", "25")
	t.Setenv("RELAY_UPLOAD_RETRIES", "7")
	t.Setenv("RELAY_TRANSFER_CONCURRENCY", "2")
	t.Setenv("RELAY_FORWARD_LOGS", "true")
	if err := FromEnv(&cfg); err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Endpoint != "https://env.example.com/v1/logs" {
		t.Fatalf("endpoint = %q", cfg.Endpoint)
	}
	if diff := cmp.Diff(map[string]string{"X-Api-Key": "abc", "X-Tenant": "t1"}, cfg.Headers); diff != "" {
		t.Fatalf("headers (-want +got):\n%s", diff)
	}
	if cfg.MaxNumberOfLogs != 25 {
		t.Fatalf("maxNumberOfLogs = %d", cfg.MaxNumberOfLogs)
	}
	if cfg.UploadRetries == nil || *cfg.UploadRetries != 7 {
		t.Fatalf("uploadRetries = %v", cfg.UploadRetries)
	}
	if cfg.Transfer.Concurrency != 2 {
		t.Fatalf("concurrency = %d", cfg.Transfer.Concurrency)
	}
	if !cfg.ForwardLogs {
		t.Fatalf("forwardLogs not read")
	}
	if cfg.Store != StorePebble {
		t.Fatalf("unset variables must not clobber defaults, store = %q", cfg.Store)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.MaxNumberOfLogs = 0 }},
		{"unknown store", func(c *Config) { c.Store = "redis" }},
		{"bad fsync", func(c *Config) { c.Fsync = "sometimes" }},
		{"non http endpoint", func(c *Config) { c.Endpoint = "ftp://example.com" }},
		{"endpoint without host", func(c *Config) { c.Endpoint = "http://" }},
		{"negative concurrency", func(c *Config) { c.Transfer.Concurrency = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
