// Package runtime wires storage, staging, the background transfer subsystem
// and the relay into a single-node instance. It owns the data directory
// layout:
//
//	{dataDir}/identity   transfer identity (uuid, created once)
//	{dataDir}/db         Pebble: records (pebble store) and transfer journal
//	{dataDir}/relay.db   SQLite record store (store: sqlite)
//	{dataDir}/staging    staged request bodies
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.Relay().Append(ctx, record.Payload{Message: "hello", Level: "info"})
package runtime
