package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/zerofinancial/relay/internal/config"
	"github.com/zerofinancial/relay/internal/runtime"
	grpcserver "github.com/zerofinancial/relay/internal/server/grpc"
	httpserver "github.com/zerofinancial/relay/internal/server/http"
	"github.com/zerofinancial/relay/internal/sink"
	logpkg "github.com/zerofinancial/relay/pkg/log"
)

type Options struct {
	Config        cfgpkg.Config
	FsyncInterval time.Duration
}

// LoadConfig reads path (optional) on top of the defaults, overlays RELAY_*
// environment variables and validates the result.
func LoadConfig(path string) (cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfgpkg.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, err
	}
	return cfg, nil
}

// Run starts the relay with its gRPC and HTTP servers and blocks until ctx
// is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that do
	// not handle signals still shut down cleanly.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}

	var fwd *sink.Forwarder
	var extra []logpkg.LoggerOption
	if cfg.ForwardLogs {
		filter, err := sink.NewFilter(cfg.Filter)
		if err != nil {
			return fmt.Errorf("compile filter: %w", err)
		}
		fwd = sink.NewForwarder(sink.ForwarderOptions{
			Level:  logpkg.InfoLevel,
			Filter: filter,
			Skip:   runtime.QuietComponents,
		})
		defer fwd.Close()
		extra = append(extra, logpkg.WithOutput(fwd))
	}

	logCfg := &logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}
	procLogger, err := logpkg.ApplyConfig(logCfg, extra...)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	// Pebble logs through the standard library logger.
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(sctx, runtime.Options{
		Config:        cfg,
		FsyncInterval: opts.FsyncInterval,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	if fwd != nil {
		fwd.Bind(rt.Relay())
	}

	procLogger.Info("starting relay server",
		logpkg.Str("grpc", cfg.GRPCAddr),
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("store", cfg.Store),
		logpkg.Str("identity", rt.Identity()),
		logpkg.Bool("forward_logs", cfg.ForwardLogs),
	)

	gsrv := grpcserver.New(rt, procLogger)
	hsrv := httpserver.New(rt, procLogger)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, cfg.GRPCAddr); err != nil && sctx.Err() == nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-sctx.Done():
	case runErr = <-errCh:
		procLogger.Error("server failed", logpkg.Err(runErr))
	}
	// Stop the servers before closing the runtime so no request reaches a
	// closed relay.
	gsrv.Close()
	hsrv.Close()
	wg.Wait()
	if fwd != nil {
		_ = fwd.Close()
	}
	procLogger.Info("relay server stopped")
	return runErr
}
