package relay

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/retention"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/internal/transfer"
	"github.com/zerofinancial/relay/pkg/id"
	"github.com/zerofinancial/relay/pkg/log"
)

// DefaultMaxNumberOfLogs bounds the store when Options leaves it unset.
const DefaultMaxNumberOfLogs = 10000

// Retries returns a pointer for Options.UploadRetries.
func Retries(n int) *int { return &n }

// Stager writes request bodies where the transfer subsystem can read them.
type Stager interface {
	Stage(rec record.LogRecord) (string, error)
	Remove(recID id.ID) error
	Purge() error
}

// Options configures a Relay.
type Options struct {
	Store    store.Store
	Transfer transfer.Subsystem
	Staging  Stager

	Config Configuration
	// MaxNumberOfLogs bounds the store. Defaults to DefaultMaxNumberOfLogs.
	MaxNumberOfLogs int
	// UploadRetries is how many failed attempts a record survives. Nil
	// retries forever.
	UploadRetries *int
	// Concurrency bounds parallel staging and submission during a flush.
	Concurrency int

	Observer Observer
	Logger   log.Logger
	// Now and IDs are replaceable for tests.
	Now func() time.Time
	IDs *id.Generator
}

// Stats is a snapshot of the queue.
type Stats struct {
	Pending   int `json:"pending"`
	Submitted int `json:"submitted"`
	LiveTasks int `json:"liveTasks"`
	// Session counters since the Relay was created.
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Evicted   int64 `json:"evicted"`
	Retried   int64 `json:"retried"`
}

// Relay is the queue manager.
type Relay struct {
	store       store.Store
	xfer        transfer.Subsystem
	staging     Stager
	max         int
	retries     *int
	concurrency int
	observer    Observer
	logger      log.Logger
	now         func() time.Time
	ids         *id.Generator

	act     *actor
	flushCh chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	// Owned by the access point.
	cfg             Configuration
	cancelRequested map[transfer.TaskID]struct{}
	resumeWaiters   []func()
	stats           Stats
}

// New wires a Relay, reconciles it against the transfer subsystem and
// schedules a first flush. A failed startup reconciliation is logged, not
// returned: records stay queued and the next reconciliation retries.
func New(ctx context.Context, opts Options) (*Relay, error) {
	if opts.Store == nil || opts.Transfer == nil || opts.Staging == nil {
		return nil, errors.New("relay: store, transfer and staging are required")
	}
	if opts.MaxNumberOfLogs < 0 {
		return nil, fmt.Errorf("relay: maxNumberOfLogs must be positive, got %d", opts.MaxNumberOfLogs)
	}
	r := &Relay{
		store:           opts.Store,
		xfer:            opts.Transfer,
		staging:         opts.Staging,
		max:             opts.MaxNumberOfLogs,
		concurrency:     opts.Concurrency,
		observer:        opts.Observer,
		logger:          opts.Logger,
		now:             opts.Now,
		ids:             opts.IDs,
		act:             newActor(),
		flushCh:         make(chan struct{}, 1),
		stop:            make(chan struct{}),
		cfg:             opts.Config.clone(),
		cancelRequested: make(map[transfer.TaskID]struct{}),
	}
	if opts.UploadRetries != nil {
		n := *opts.UploadRetries
		if n >= 0 {
			r.retries = &n
		}
	}
	if r.max == 0 {
		r.max = DefaultMaxNumberOfLogs
	}
	if r.concurrency <= 0 {
		r.concurrency = 4
	}
	if r.logger == nil {
		r.logger = log.NewNopLogger()
	}
	r.logger = r.logger.WithComponent("relay")
	if r.observer == nil {
		r.observer = LogObserver{Logger: r.logger}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.ids == nil {
		r.ids = id.NewGenerator()
	}

	r.wg.Add(1)
	go r.flusher()

	// Outcomes held by the subsystem queue up ahead of the reconciliation.
	r.xfer.SetHandler(r.handleOutcome)
	if err := r.Reconcile(ctx); err != nil && !errors.Is(err, ErrClosed) {
		r.logger.Warn("startup reconciliation failed", log.Err(err))
	}
	r.triggerFlush()
	return r, nil
}

// Identity is the transfer subsystem identity this queue answers to.
func (r *Relay) Identity() string { return r.xfer.Identity() }

// Append durably stores a new record and schedules a flush. It never waits
// on the network. An error means nothing was stored: once the insert has
// started Append waits for it even if ctx ends.
func (r *Relay) Append(ctx context.Context, p record.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := p.Normalized()
	if err != nil {
		return err
	}
	err = r.act.do(context.Background(), func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return r.appendLocked(context.Background(), p)
	})
	if err != nil {
		return err
	}
	r.triggerFlush()
	return nil
}

// Accept implements the log sink capability.
func (r *Relay) Accept(ctx context.Context, p record.Payload) error { return r.Append(ctx, p) }

func (r *Relay) appendLocked(ctx context.Context, p record.Payload) error {
	evicted, ok, err := retention.Policy{Max: r.max}.Apply(ctx, r.store, r.staging)
	if err != nil && !ok {
		return storageErr("evict", err)
	}
	if ok {
		r.stats.Evicted++
		r.logger.Debug("evicted oldest record", log.Str("record", evicted.ID.String()))
		if err != nil {
			r.logger.Warn("evicted record left a staged body behind", log.Err(err))
		}
	}

	now := r.now()
	rec := record.New(r.ids.NextAt(now.UnixMilli()), p, now)
	if err := r.store.Insert(ctx, rec); err != nil {
		return storageErr("insert", err)
	}
	return nil
}

// Flush submits every pending record now and waits until submission (not
// delivery) is done.
func (r *Relay) Flush(ctx context.Context) error {
	return r.act.do(ctx, func() error { return r.flushLocked(context.Background()) })
}

// Reconcile resynchronizes stored task handles with the subsystem's live
// tasks and the current configuration.
func (r *Relay) Reconcile(ctx context.Context) error {
	return r.act.do(ctx, func() error { return r.reconcileLocked(context.Background()) })
}

// Configuration returns the current configuration.
func (r *Relay) Configuration(ctx context.Context) (Configuration, error) {
	var cfg Configuration
	err := r.act.do(ctx, func() error {
		cfg = r.cfg.clone()
		return nil
	})
	return cfg, err
}

// SetConfiguration replaces the configuration. A different value triggers
// reconciliation against it straight away.
func (r *Relay) SetConfiguration(ctx context.Context, cfg Configuration) error {
	changed := false
	err := r.act.do(ctx, func() error {
		if cfg.Equal(r.cfg) {
			return nil
		}
		changed = true
		r.cfg = cfg.clone()
		r.logger.Info("configuration changed",
			log.Str("endpoint", cfg.Endpoint),
			log.Int("headers", len(cfg.Headers)))
		return r.reconcileLocked(context.Background())
	})
	if changed {
		r.triggerFlush()
	}
	return err
}

// Reset drops every record and staged body. Live transfer tasks are left
// alone; their outcomes find no record and are ignored.
func (r *Relay) Reset(ctx context.Context) error {
	return r.act.do(ctx, func() error {
		bg := context.Background()
		if err := r.store.DeleteAll(bg); err != nil {
			return storageErr("reset", err)
		}
		if err := r.staging.Purge(); err != nil {
			r.logger.Warn("failed to purge staged bodies", log.Err(err))
		}
		r.logger.Info("queue reset")
		return nil
	})
}

// Stats returns queue counts.
func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.act.do(ctx, func() error {
		bg := context.Background()
		pending, err := r.store.Pending(bg)
		if err != nil {
			return storageErr("stats", err)
		}
		submitted, err := r.store.Submitted(bg)
		if err != nil {
			return storageErr("stats", err)
		}
		live, err := r.xfer.Tasks(bg)
		if err != nil {
			return fmt.Errorf("relay: list transfer tasks: %w", err)
		}
		st = r.stats
		st.Pending = len(pending)
		st.Submitted = len(submitted)
		st.LiveTasks = len(live)
		return nil
	})
	return st, err
}

// HandleBackgroundEvents stashes completion until the next transfer outcome
// has been applied, or calls it right away when nothing is in flight. It
// returns false, and never calls completion, when identifier is not this
// queue's identity.
func (r *Relay) HandleBackgroundEvents(identifier string, completion func()) bool {
	if identifier != r.xfer.Identity() || completion == nil {
		return false
	}
	return r.act.async(func() {
		live, err := r.xfer.Tasks(context.Background())
		if err == nil && len(live) == 0 {
			safeCall(r.logger, "background completion", completion)
			return
		}
		r.resumeWaiters = append(r.resumeWaiters, completion)
	})
}

// Close stops the flusher and waits for queued work to finish. The store
// and transfer subsystem are left open.
func (r *Relay) Close() error {
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()
		r.act.close()
	})
	return nil
}

func (r *Relay) triggerFlush() {
	select {
	case r.flushCh <- struct{}{}:
	default:
	}
}

// flusher runs triggered flushes. Triggers that arrive while a flush is
// queued or running coalesce into one more run.
func (r *Relay) flusher() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case <-r.flushCh:
			err := r.act.do(context.Background(), func() error { return r.flushLocked(context.Background()) })
			if err != nil && !errors.Is(err, ErrClosed) {
				r.logger.Warn("flush failed", log.Err(err))
			}
		}
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	return maps.Clone(h)
}
