package relay

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/transfer"
	"github.com/zerofinancial/relay/pkg/log"
)

type submission struct {
	rec  record.LogRecord
	task transfer.Task
	err  error
}

// flushLocked submits every pending record. Staging and submission fan out
// across goroutines; the resulting store writes run here, one at a time.
func (r *Relay) flushLocked(ctx context.Context) error {
	cfg := r.cfg
	if cfg.Endpoint == "" {
		return nil
	}
	pending, err := r.store.Pending(ctx)
	if err != nil {
		return storageErr("list pending", err)
	}
	if len(pending) == 0 {
		return nil
	}

	results := make([]submission, len(pending))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, rec := range pending {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = r.submit(ctx, cfg, rec)
			return nil
		})
	}
	_ = g.Wait()

	var submitted, failed int
	for _, res := range results {
		if res.err != nil {
			failed++
			r.logger.Warn("submission failed; record stays pending",
				log.Str("record", res.rec.ID.String()), log.Err(res.err))
			continue
		}
		if err := r.recordSubmission(ctx, res); err != nil {
			failed++
			r.logger.Error("failed to record submission", log.Err(err))
			continue
		}
		submitted++
	}
	r.logger.Debug("flushed", log.Int("submitted", submitted), log.Int("failed", failed))
	if failed > 0 && submitted == 0 {
		return fmt.Errorf("relay: flush submitted nothing, %d failures", failed)
	}
	return nil
}

// submit stages rec's body and hands it to the transfer subsystem. It does
// not touch the store.
func (r *Relay) submit(ctx context.Context, cfg Configuration, rec record.LogRecord) submission {
	path, err := r.staging.Stage(rec)
	if err != nil {
		return submission{rec: rec, err: fmt.Errorf("stage: %w", err)}
	}
	task, err := r.xfer.Submit(ctx, transfer.Request{
		RecordID: rec.ID,
		Target:   cfg.Endpoint,
		Headers:  cloneHeaders(cfg.Headers),
		BodyPath: path,
	})
	if err != nil {
		if rmErr := r.staging.Remove(rec.ID); rmErr != nil {
			r.logger.Warn("failed to remove staged body", log.Err(rmErr))
		}
		return submission{rec: rec, err: fmt.Errorf("submit: %w", err)}
	}
	return submission{rec: rec, task: task}
}

// recordSubmission stores the task handle. If that fails the task would be
// untracked, so it is cancelled; its outcome then finds no matching handle.
func (r *Relay) recordSubmission(ctx context.Context, res submission) error {
	_, err := r.store.SetTask(ctx, res.rec.ID, string(res.task.ID))
	if err == nil {
		return nil
	}
	if cerr := r.xfer.Cancel(ctx, res.task.ID); cerr != nil && !errors.Is(cerr, transfer.ErrUnknownTask) {
		r.logger.Warn("failed to cancel untracked task", log.Str("task", string(res.task.ID)), log.Err(cerr))
	}
	return storageErr("set task", err)
}

// resubmitLocked submits a single record under the current configuration.
func (r *Relay) resubmitLocked(ctx context.Context, rec record.LogRecord) {
	if r.cfg.Endpoint == "" {
		return
	}
	res := r.submit(ctx, r.cfg, rec)
	if res.err != nil {
		r.logger.Warn("resubmission failed; record stays pending",
			log.Str("record", rec.ID.String()), log.Err(res.err))
		r.triggerFlush()
		return
	}
	if err := r.recordSubmission(ctx, res); err != nil {
		r.logger.Error("failed to record resubmission", log.Err(err))
		return
	}
	r.stats.Retried++
}
