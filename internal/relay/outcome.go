package relay

import (
	"context"
	"errors"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/internal/transfer"
	"github.com/zerofinancial/relay/pkg/log"
)

// handleOutcome is the transfer handler. It runs on whatever goroutine the
// subsystem uses and only hands the outcome to the access point.
func (r *Relay) handleOutcome(o transfer.Outcome) {
	if !r.act.async(func() { r.applyOutcome(context.Background(), o) }) {
		r.logger.Debug("outcome after close ignored", log.Str("task", string(o.Task.ID)))
	}
}

func (r *Relay) applyOutcome(ctx context.Context, o transfer.Outcome) {
	defer r.releaseResumeWaiters()
	delete(r.cancelRequested, o.Task.ID)

	logger := r.logger.With(
		log.Str("task", string(o.Task.ID)),
		log.Str("record", o.Task.Request.RecordID.String()),
		log.Str("outcome", o.Kind.String()))

	rec, err := r.store.Get(ctx, o.Task.Request.RecordID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("outcome for a record that no longer exists")
		return
	}
	if err != nil {
		logger.Error("failed to load record for outcome", log.Err(storageErr("get", err)))
		return
	}
	if rec.TaskID != string(o.Task.ID) {
		logger.Debug("stale outcome", log.Str("current_task", rec.TaskID))
		return
	}

	switch o.Kind {
	case transfer.Succeeded:
		if !r.dropLocked(ctx, rec, logger) {
			return
		}
		r.stats.Delivered++
		safeCall(r.logger, "observer delivered", func() { r.observer.Delivered(rec.Payload) })

	case transfer.Cancelled:
		// Cancellation is ours; requeue without charging a retry.
		if _, err := r.store.SetTask(ctx, rec.ID, ""); err != nil {
			logger.Error("failed to requeue cancelled record", log.Err(storageErr("clear task", err)))
			return
		}
		logger.Debug("cancelled record requeued")
		r.triggerFlush()

	case transfer.Failed:
		rec, err = r.store.RecordFailure(ctx, rec.ID)
		if err != nil {
			logger.Error("failed to record failure", log.Err(storageErr("record failure", err)))
			return
		}
		if r.exhausted(rec) {
			if !r.dropLocked(ctx, rec, logger) {
				return
			}
			r.stats.Failed++
			logger.Warn("giving up on record", log.Int("retries", rec.RetryCount), log.Int("status", o.StatusCode))
			cause := o.Error()
			safeCall(r.logger, "observer failed", func() { r.observer.Failed(rec.Payload, cause, o) })
			return
		}
		logger.Debug("retrying record", log.Int("retries", rec.RetryCount), log.Int("status", o.StatusCode))
		r.resubmitLocked(ctx, rec)

	default:
		logger.Warn("unknown outcome kind")
	}
}

func (r *Relay) exhausted(rec record.LogRecord) bool {
	return r.retries != nil && rec.RetryCount >= *r.retries
}

// dropLocked deletes rec and its staged body.
func (r *Relay) dropLocked(ctx context.Context, rec record.LogRecord, logger log.Logger) bool {
	if err := r.store.Delete(ctx, rec.ID); err != nil {
		logger.Error("failed to delete record", log.Err(storageErr("delete", err)))
		return false
	}
	if err := r.staging.Remove(rec.ID); err != nil {
		logger.Warn("failed to remove staged body", log.Err(err))
	}
	return true
}

func (r *Relay) releaseResumeWaiters() {
	waiters := r.resumeWaiters
	r.resumeWaiters = nil
	for _, fn := range waiters {
		safeCall(r.logger, "background completion", fn)
	}
}
