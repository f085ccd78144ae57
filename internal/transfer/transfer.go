// Package transfer describes the asynchronous upload subsystem the relay
// hands staged request bodies to. The subsystem owns network I/O, may outlive
// a single process incarnation and reports results through a Handler.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/zerofinancial/relay/pkg/id"
)

// ErrUnknownTask is returned by Cancel for tasks the subsystem does not track.
var ErrUnknownTask = errors.New("transfer: unknown task")

// TaskID identifies one task within a subsystem identity.
type TaskID string

// Request is the outgoing upload a task performs.
type Request struct {
	// RecordID names the record the body was staged for.
	RecordID id.ID             `json:"recordId"`
	Target   string            `json:"target"`
	Headers  map[string]string `json:"headers,omitempty"`
	// BodyPath is the staged request body.
	BodyPath string `json:"bodyPath"`
}

// Matches reports whether r was built from the given target and headers. Nil
// and empty header sets are equal; any other difference is a mismatch.
func (r Request) Matches(target string, headers map[string]string) bool {
	if r.Target != target || len(r.Headers) != len(headers) {
		return false
	}
	return maps.Equal(r.Headers, headers)
}

// Task is a live handle in the subsystem.
type Task struct {
	ID      TaskID
	Request Request
}

// OutcomeKind classifies how a task ended.
type OutcomeKind int

const (
	Succeeded OutcomeKind = iota + 1
	Failed
	Cancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the terminal result of a task.
type Outcome struct {
	Task Task
	Kind OutcomeKind
	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int
	// Err describes transport failures.
	Err error
	// Body holds the start of the response body for failed requests.
	Body []byte
}

// Error summarizes a failed outcome.
func (o Outcome) Error() error {
	switch {
	case o.Kind != Failed:
		return nil
	case o.Err != nil:
		return o.Err
	case o.StatusCode != 0:
		return fmt.Errorf("transfer: unexpected status %d", o.StatusCode)
	default:
		return errors.New("transfer: failed")
	}
}

// Handler receives outcomes on an arbitrary goroutine.
type Handler func(Outcome)

// Subsystem is the boundary the relay depends on.
type Subsystem interface {
	// Identity names the subsystem session. Host resume signals carry it.
	Identity() string
	// Tasks lists every live task, including tasks resumed from an earlier
	// process.
	Tasks(ctx context.Context) ([]Task, error)
	// Submit starts an upload and returns its handle without waiting for it.
	Submit(ctx context.Context, req Request) (Task, error)
	// Cancel requests cancellation. The task ends with a Cancelled outcome.
	Cancel(ctx context.Context, taskID TaskID) error
	// SetHandler registers where outcomes are delivered. Outcomes produced
	// before a handler is set are held back until one is.
	SetHandler(h Handler)
}
