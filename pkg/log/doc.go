// Package log provides the relay's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by log/slog via
// a bridge handler that feeds our formatter/outputs pipeline, so the output
// stays uniform across the CLI, the server and the relay core.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("relay"), log.Str("queue", "default"))
//	l.Info("flush complete", log.Int("submitted", 12))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or text formatting and multiple outputs (console, file, null). Redaction and
// sampling are applied as slog handler wrappers.
//
// # Interop
//
// RedirectStdLog routes the standard library logger (used by Pebble) into a
// Logger. Any Output can be attached with WithOutput, including outputs that
// forward entries into the upload relay itself.
package log
