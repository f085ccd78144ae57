package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	cfgpkg "github.com/zerofinancial/relay/internal/config"
	"github.com/zerofinancial/relay/internal/relay"
	"github.com/zerofinancial/relay/internal/staging"
	pebblestore "github.com/zerofinancial/relay/internal/storage/pebble"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/internal/store/kv"
	"github.com/zerofinancial/relay/internal/store/sqlite"
	"github.com/zerofinancial/relay/internal/transfer/background"
	"github.com/zerofinancial/relay/pkg/log"
)

// DefaultQueue names the record keyspace inside the shared Pebble database.
const DefaultQueue = "default"

// QuietComponents are the log components of the queue pipeline itself.
// Forwarding them into the queue would make every append log and append
// again.
var QuietComponents = []string{"relay", "transfer", "runtime", "stdlog"}

// Options for building the Runtime.
type Options struct {
	Config        cfgpkg.Config
	FsyncInterval time.Duration
	Logger        log.Logger
	Observer      relay.Observer
	// Client performs uploads; nil uses the transfer default.
	Client *http.Client
}

// Runtime owns every resource of a running relay.
type Runtime struct {
	config   cfgpkg.Config
	identity string
	logger   log.Logger

	db      *pebblestore.DB
	store   store.Store
	staging *staging.Area
	xfer    *background.Manager
	relay   *relay.Relay
}

// Open initializes storage and starts the relay. The first flush and the
// startup reconciliation run before Open returns.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	rt := &Runtime{config: cfg, logger: logger.WithComponent("runtime")}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	identity, err := ensureIdentity(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	rt.identity = identity

	fsync, err := pebblestore.ParseFsync(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	rt.db, err = pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(cfg.DataDir, "db"),
		Fsync:         fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}

	switch cfg.Store {
	case cfgpkg.StoreSQLite:
		rt.store, err = sqlite.Open(filepath.Join(cfg.DataDir, "relay.db"))
		if err != nil {
			return nil, err
		}
	default:
		rt.store = kv.New(rt.db, DefaultQueue)
	}

	rt.staging, err = staging.Open(filepath.Join(cfg.DataDir, "staging"), cfg.Transfer.Gzip)
	if err != nil {
		return nil, err
	}

	rt.xfer, err = background.Open(ctx, background.Options{
		DB:            rt.db,
		Identity:      identity,
		Client:        opts.Client,
		RatePerSecond: cfg.Transfer.RatePerSecond,
		Burst:         cfg.Transfer.Burst,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	rt.relay, err = relay.New(ctx, relay.Options{
		Store:    rt.store,
		Transfer: rt.xfer,
		Staging:  rt.staging,
		Config: relay.Configuration{
			Endpoint: cfg.Endpoint,
			Headers:  cfg.Headers,
		},
		MaxNumberOfLogs: cfg.MaxNumberOfLogs,
		UploadRetries:   cfg.Retries(),
		Concurrency:     cfg.Transfer.Concurrency,
		Observer:        opts.Observer,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	rt.logger.Info("runtime opened",
		log.Str("data_dir", cfg.DataDir),
		log.Str("store", cfg.Store),
		log.Str("identity", identity),
	)
	ok = true
	return rt, nil
}

// Close stops the relay before the transfer subsystem so no outcome is
// applied against a closed store, then releases storage. Safe to call on a
// partially opened runtime.
func (r *Runtime) Close() error {
	var errs []error
	if r.relay != nil {
		errs = append(errs, r.relay.Close())
		r.relay = nil
	}
	if r.xfer != nil {
		errs = append(errs, r.xfer.Close())
		r.xfer = nil
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
		r.store = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

// CheckHealth reports whether storage answers and the relay accepts work.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil || r.relay == nil {
		return errors.New("runtime not open")
	}
	if _, err := r.db.Get([]byte("relay/health")); err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return fmt.Errorf("pebble: %w", err)
	}
	if _, err := r.relay.Stats(ctx); err != nil {
		return err
	}
	return nil
}

// Relay returns the running relay.
func (r *Runtime) Relay() *relay.Relay { return r.relay }

// Identity is the persisted transfer identity.
func (r *Runtime) Identity() string { return r.identity }

// Config returns the effective configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Staging exposes the staging area.
func (r *Runtime) Staging() *staging.Area { return r.staging }
