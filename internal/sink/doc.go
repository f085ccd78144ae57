// Package sink connects logging front ends to a LogSink: a slog.Handler for
// applications, and a log.Output that forwards the process's own log
// entries. Both can drop entries with a CEL filter expression.
package sink

import (
	"context"

	"github.com/zerofinancial/relay/internal/record"
)

// LogSink accepts log payloads for durable delivery.
type LogSink interface {
	Accept(ctx context.Context, p record.Payload) error
}
