package relay

import (
	"fmt"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/transfer"
	"github.com/zerofinancial/relay/pkg/log"
)

// Observer is told about records that reached a terminal state. Calls are
// made on the access point goroutine and must not call back into the Relay.
type Observer interface {
	// Delivered is called once the endpoint acknowledged the record.
	Delivered(p record.Payload)
	// Failed is called when a record is dropped after its last retry.
	Failed(p record.Payload, err error, o transfer.Outcome)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnDelivered func(record.Payload)
	OnFailed    func(record.Payload, error, transfer.Outcome)
}

func (f ObserverFuncs) Delivered(p record.Payload) {
	if f.OnDelivered != nil {
		f.OnDelivered(p)
	}
}

func (f ObserverFuncs) Failed(p record.Payload, err error, o transfer.Outcome) {
	if f.OnFailed != nil {
		f.OnFailed(p, err, o)
	}
}

// LogObserver writes terminal outcomes to a logger.
type LogObserver struct {
	Logger log.Logger
}

func (o LogObserver) Delivered(p record.Payload) {
	o.Logger.Debug("record delivered", log.Str("record", p.String()))
}

func (o LogObserver) Failed(p record.Payload, err error, out transfer.Outcome) {
	o.Logger.Warn("record dropped after final retry",
		log.Str("record", p.String()),
		log.Int("status", out.StatusCode),
		log.Err(err))
}

// safeCall runs fn and turns a panic into a log line.
func safeCall(logger log.Logger, what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("recovered panic", log.Str("in", what), log.Str("panic", fmt.Sprint(p)))
		}
	}()
	fn()
}
