package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/transfer"
	"github.com/zerofinancial/relay/pkg/log"
)

// reconcileLocked brings stored task handles in line with the live task set
// and the current configuration:
//
//   - a submitted record whose task is not live goes back to pending and is
//     resubmitted;
//   - a live task built from a different configuration is cancelled, and its
//     record is requeued when the cancellation outcome arrives;
//   - a live task no record points at is left alone.
//
// Live tasks are listed inside the access point, so tasks submitted by an
// earlier flush are always visible.
func (r *Relay) reconcileLocked(ctx context.Context) error {
	live, err := r.xfer.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("relay: list transfer tasks: %w", err)
	}
	submitted, err := r.store.Submitted(ctx)
	if err != nil {
		return storageErr("list submitted", err)
	}

	liveByID := make(map[transfer.TaskID]transfer.Task, len(live))
	for _, t := range live {
		liveByID[t.ID] = t
	}
	byTask := make(map[transfer.TaskID]record.LogRecord, len(submitted))
	var orphaned int
	for _, rec := range submitted {
		tid := transfer.TaskID(rec.TaskID)
		if _, ok := liveByID[tid]; ok {
			byTask[tid] = rec
			continue
		}
		if _, err := r.store.SetTask(ctx, rec.ID, ""); err != nil {
			return storageErr("clear task", err)
		}
		delete(r.cancelRequested, tid)
		orphaned++
	}

	cfg := r.cfg
	var cancelled, ignored int
	for _, t := range live {
		if _, ok := byTask[t.ID]; !ok {
			ignored++
			continue
		}
		if t.Request.Matches(cfg.Endpoint, cfg.Headers) {
			continue
		}
		if _, ok := r.cancelRequested[t.ID]; ok {
			continue
		}
		if err := r.xfer.Cancel(ctx, t.ID); err != nil {
			if errors.Is(err, transfer.ErrUnknownTask) {
				// Finished meanwhile; its outcome is on the way.
				continue
			}
			r.logger.Warn("failed to cancel outdated task", log.Str("task", string(t.ID)), log.Err(err))
			continue
		}
		r.cancelRequested[t.ID] = struct{}{}
		cancelled++
	}

	r.logger.Info("reconciled",
		log.Int("live", len(live)),
		log.Int("orphaned", orphaned),
		log.Int("cancelled", cancelled),
		log.Int("foreign", ignored))

	if orphaned > 0 {
		return r.flushLocked(ctx)
	}
	return nil
}
