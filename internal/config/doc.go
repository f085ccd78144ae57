// Package config provides loading and environment overlay for the relay's
// runtime configuration. It exposes a Default() baseline, file loading (JSON
// or YAML by extension) and a RELAY_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/relay.yaml")
//	if err != nil { /* handle */ }
//	if err := config.FromEnv(&cfg); err != nil { /* handle */ }
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
package config
