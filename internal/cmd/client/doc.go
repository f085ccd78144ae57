// Package client provides the client half of the `relay` command line.
//
// The commands talk to the admin HTTP API of a running relay server; the
// health command probes its gRPC health service instead.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads RELAY_HTTP and
// defaults to http://127.0.0.1:8080. The gRPC address is read from
// RELAY_GRPC (default 127.0.0.1:50051).
//
// Usage
//
//	relay append "payment captured" --level info --context '{"order":"o-1"}'
//	relay flush
//	relay stats
//	relay config set --endpoint https://collector.example/logs --header X-Api-Key=abc
//	relay config get
//	relay reset --confirm
//	relay health
package client
