package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declaratively describes a logger.
type Config struct {
	// Level is one of debug|info|warn|error.
	Level string `json:"level" yaml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format"`
	// Outputs lists destinations: "console" (default), "null" or "file:<path>".
	Outputs []string `json:"outputs" yaml:"outputs"`
	// Redact lists field keys whose values are replaced by [REDACTED].
	Redact []string `json:"redact" yaml:"redact"`
	// SampleInitial and SampleThereafter enable per-message sampling when
	// SampleThereafter > 0.
	SampleInitial    int `json:"sampleInitial" yaml:"sampleInitial"`
	SampleThereafter int `json:"sampleThereafter" yaml:"sampleThereafter"`
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg. Extra options are applied after the
// configured ones, e.g. to attach an output that cannot be named in Outputs.
func ApplyConfig(cfg *Config, extra ...LoggerOption) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter)}
	for _, spec := range cfg.Outputs {
		switch {
		case spec == "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case spec == "null":
			opts = append(opts, WithOutput(NullOutput{}))
		case strings.HasPrefix(spec, "file:"):
			out, err := NewFileOutput(strings.TrimPrefix(spec, "file:"))
			if err != nil {
				return nil, fmt.Errorf("open log file: %w", err)
			}
			opts = append(opts, WithOutput(out))
		default:
			return nil, fmt.Errorf("unknown log output %q", spec)
		}
	}

	if len(cfg.Outputs) == 0 && len(extra) > 0 {
		opts = append(opts, WithOutput(NewConsoleOutput()))
	}
	opts = append(opts, extra...)
	logger := NewLogger(opts...).(*BaseLogger)
	h := newBridgeHandler(logger.core).
		withRedactions(cfg.Redact).
		withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	logger.slogLogger = slog.New(h)
	return logger, nil
}
