// Package record defines the durable unit of work of the relay: a LogRecord
// wrapping an immutable Payload, plus the binary codec used to persist it in
// key-value stores.
package record
