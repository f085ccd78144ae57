// Package httpserver is the admin REST API of a relay: append logs, trigger
// flush and reconciliation, read stats, and read or replace the upload
// configuration.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
