package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StorePebble = "pebble"
	StoreSQLite = "sqlite"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// DataDir holds the record store, the transfer journal and staged bodies.
	DataDir string `json:"dataDir" yaml:"dataDir" env:"DATA_DIR"`
	// Store selects the record store backend: pebble or sqlite.
	Store string `json:"store" yaml:"store" env:"STORE"`
	// Fsync is the Pebble WAL policy: always, interval or never.
	Fsync string `json:"fsync" yaml:"fsync" env:"FSYNC"`

	// Endpoint is the upload target. Records queue up while it is empty.
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	// Headers are sent with every upload and take part in reconciliation.
	Headers map[string]string `json:"headers" yaml:"headers" env:"HEADERS"`

	// MaxNumberOfLogs bounds the record store.
	MaxNumberOfLogs int `json:"maxNumberOfLogs" yaml:"maxNumberOfLogs" env:"MAX_NUMBER_OF_LOGS"`
	// UploadRetries is the number of failed attempts after which a record is
	// dropped. nil (or a negative value) retries forever.
	UploadRetries *int `json:"uploadRetries" yaml:"uploadRetries" env:"UPLOAD_RETRIES"`

	Transfer Transfer `json:"transfer" yaml:"transfer" envPrefix:"TRANSFER_"`

	// Filter is an optional CEL expression; log entries for which it is false
	// never reach the queue.
	Filter string `json:"filter" yaml:"filter" env:"FILTER"`
	// ForwardLogs ships the server's own log entries through the queue.
	ForwardLogs bool `json:"forwardLogs" yaml:"forwardLogs" env:"FORWARD_LOGS"`

	HTTPAddr string `json:"httpAddr" yaml:"httpAddr" env:"HTTP_ADDR"`
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr" env:"GRPC_ADDR"`

	LogLevel  string `json:"logLevel" yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat string `json:"logFormat" yaml:"logFormat" env:"LOG_FORMAT"`
}

// Transfer tunes the background transfer subsystem and flush fan-out.
type Transfer struct {
	// Concurrency bounds parallel staging/submission during a flush.
	Concurrency int `json:"concurrency" yaml:"concurrency" env:"CONCURRENCY"`
	// RatePerSecond paces upload starts; 0 disables pacing.
	RatePerSecond float64 `json:"ratePerSecond" yaml:"ratePerSecond" env:"RATE_PER_SECOND"`
	Burst         int     `json:"burst" yaml:"burst" env:"BURST"`
	// Gzip compresses staged request bodies.
	Gzip bool `json:"gzip" yaml:"gzip" env:"GZIP"`
}

// Defaults for the tunables.
const (
	DefaultMaxNumberOfLogs = 10000
	DefaultUploadRetries   = 3
)

// Default returns built-in defaults.
func Default() Config {
	retries := DefaultUploadRetries
	return Config{
		Store:           StorePebble,
		Fsync:           "always",
		MaxNumberOfLogs: DefaultMaxNumberOfLogs,
		UploadRetries:   &retries,
		Transfer: Transfer{
			Concurrency: 4,
			Burst:       1,
		},
		HTTPAddr:  ":8080",
		GRPCAddr:  ":50051",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json config: %w", err)
		}
	}
	cfg.normalize()
	return cfg, nil
}

// Retries returns UploadRetries with negative values folded into nil.
func (c Config) Retries() *int {
	if c.UploadRetries == nil || *c.UploadRetries < 0 {
		return nil
	}
	n := *c.UploadRetries
	return &n
}

func (c *Config) normalize() {
	c.UploadRetries = c.Retries()
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.Endpoint = strings.TrimSpace(c.Endpoint)
}

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if c.MaxNumberOfLogs <= 0 {
		return errors.New("maxNumberOfLogs must be greater than zero")
	}
	switch c.Store {
	case StorePebble, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q; use pebble or sqlite", c.Store)
	}
	switch c.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("invalid fsync %q; use always|interval|never", c.Fsync)
	}
	if err := ValidateEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.Transfer.Concurrency < 0 {
		return errors.New("transfer.concurrency must not be negative")
	}
	if c.Transfer.RatePerSecond < 0 {
		return errors.New("transfer.ratePerSecond must not be negative")
	}
	return nil
}

// ValidateEndpoint accepts an empty endpoint or an absolute http(s) URL.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return nil
}
