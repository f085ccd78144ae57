package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerofinancial/relay/internal/record"
)

// newAppendCommand constructs the `append` command.
func newAppendCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append MESSAGE",
		Short: "Append a log record to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("level")
			logger, _ := cmd.Flags().GetString("logger")
			ctxJSON, _ := cmd.Flags().GetString("context")

			p := record.Payload{
				Message:   args[0],
				Level:     level,
				Logger:    logger,
				Timestamp: time.Now(),
			}
			if ctxJSON != "" {
				if err := json.Unmarshal([]byte(ctxJSON), &p.Context); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}
			var resp struct {
				Accepted int `json:"accepted"`
			}
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/logs", p, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "accepted: %d\n", resp.Accepted)
			return nil
		},
	}
	cmd.Flags().String("level", "info", "Log level")
	cmd.Flags().String("logger", "cli", "Logger name")
	cmd.Flags().String("context", "", "Context attributes as a JSON object")
	return cmd
}

// newFlushCommand constructs the `flush` command.
func newFlushCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Submit every pending record now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/flush", nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "flushed")
			return nil
		},
	}
}

// newReconcileCommand constructs the `reconcile` command.
func newReconcileCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resynchronize stored tasks with live uploads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/reconcile", nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "reconciled")
			return nil
		},
	}
}

// newResetCommand constructs the `reset` command.
func newResetCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every queued record (requires --confirm)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				return errors.New("refusing to reset without --confirm")
			}
			if err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/reset", nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "reset")
			return nil
		},
	}
	cmd.Flags().Bool("confirm", false, "Confirm dropping all records")
	return cmd
}

// newStatsCommand constructs the `stats` command.
func newStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var data map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/stats", nil, &data); err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
}
