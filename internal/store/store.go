// Package store defines the durable record store used by the relay. Backends
// live in subpackages: kv (Pebble) and sqlite.
package store

import (
	"context"
	"errors"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/pkg/id"
)

var (
	// ErrNotFound is returned when no record matches the given id.
	ErrNotFound = errors.New("store: record not found")
	// ErrExists is returned by Insert when the id is already taken.
	ErrExists = errors.New("store: record already exists")
)

// Store persists log records. Every method is atomic with respect to the
// others; backends do no business logic.
type Store interface {
	// Insert adds a new record. Its context reads back in the form
	// record.DecodeContext produces.
	Insert(ctx context.Context, rec record.LogRecord) error
	// Get loads one record.
	Get(ctx context.Context, recID id.ID) (record.LogRecord, error)
	// SetTask assigns a transfer task to a record. An empty taskID clears it
	// and leaves the retry count alone.
	SetTask(ctx context.Context, recID id.ID, taskID string) (record.LogRecord, error)
	// RecordFailure clears the task and increments the retry count.
	RecordFailure(ctx context.Context, recID id.ID) (record.LogRecord, error)
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, recID id.ID) error
	// DeleteAll removes every record.
	DeleteAll(ctx context.Context) error
	// Pending lists records without a task, oldest first.
	Pending(ctx context.Context) ([]record.LogRecord, error)
	// Submitted lists records with a task, oldest first.
	Submitted(ctx context.Context) ([]record.LogRecord, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Oldest returns the record with the smallest (CreatedAt, ID).
	Oldest(ctx context.Context) (record.LogRecord, error)
	Close() error
}
