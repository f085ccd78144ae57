// Package relay is the queue manager. It appends log records to a durable
// store, submits them to a transfer subsystem, applies transfer outcomes,
// enforces retry and capacity limits, and reconciles stored task handles
// against the subsystem's live tasks and the current configuration.
//
// Every store mutation runs on one goroutine (the access point). Producer
// calls, transfer callbacks and the background flusher all marshal onto it,
// so no two operations ever interleave.
package relay
