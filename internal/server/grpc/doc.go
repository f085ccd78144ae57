// Package grpcserver exposes the standard gRPC health service
// (grpc.health.v1) reflecting runtime health, for orchestrators that probe
// over gRPC.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := grpcserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
