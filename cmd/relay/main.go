package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/zerofinancial/relay/internal/cmd/client"
	serverrun "github.com/zerofinancial/relay/internal/cmd/server"
	logpkg "github.com/zerofinancial/relay/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Durable log upload relay",
		Long:          "relay queues log records on disk and uploads them to an HTTP endpoint, surviving restarts and retrying failures.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the relay server (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := serverrun.LoadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("data-dir") {
				cfg.DataDir, _ = flags.GetString("data-dir")
			}
			if flags.Changed("grpc") {
				cfg.GRPCAddr, _ = flags.GetString("grpc")
			}
			if flags.Changed("http") {
				cfg.HTTPAddr, _ = flags.GetString("http")
			}
			if flags.Changed("endpoint") {
				cfg.Endpoint, _ = flags.GetString("endpoint")
			}
			if flags.Changed("store") {
				cfg.Store, _ = flags.GetString("store")
			}
			if flags.Changed("fsync") {
				cfg.Fsync, _ = flags.GetString("fsync")
			}
			if flags.Changed("log-level") {
				cfg.LogLevel, _ = flags.GetString("log-level")
			}
			if flags.Changed("log-format") {
				cfg.LogFormat, _ = flags.GetString("log-format")
			}
			if flags.Changed("forward-logs") {
				cfg.ForwardLogs, _ = flags.GetBool("forward-logs")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fsyncIntervalMs, _ := flags.GetInt("fsync-interval-ms")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{
				Config:        cfg,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("RELAY_CONFIG"), "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("grpc", ":50051", "gRPC listen address")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverStartCmd.Flags().String("endpoint", "", "Upload endpoint URL")
	serverStartCmd.Flags().String("store", "pebble", "Record store: pebble|sqlite")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", "info", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "text", "Log format: text|json")
	serverStartCmd.Flags().Bool("forward-logs", false, "Ship the server's own logs through the queue")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.AddCommands(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		logger := logpkg.NewLogger(logpkg.WithFormatter(&logpkg.TextFormatter{}))
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("RELAY_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
