package client

import (
	"net/http"

	"github.com/spf13/cobra"
)

type configBody struct {
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// NewConfigCommand constructs the `config` command group.
func NewConfigCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Read or replace the upload configuration"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg configBody
			if err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/config", nil, &cfg); err != nil {
				return err
			}
			return printJSON(cmd, cfg)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the configuration; in-flight uploads are reconciled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, _ := cmd.Flags().GetString("endpoint")
			rawHeaders, _ := cmd.Flags().GetStringArray("header")
			headers, err := parseHeaders(rawHeaders)
			if err != nil {
				return err
			}
			var cfg configBody
			if err := doJSON(cmd.Context(), http.MethodPut, baseURL()+"/v1/config", configBody{Endpoint: endpoint, Headers: headers}, &cfg); err != nil {
				return err
			}
			return printJSON(cmd, cfg)
		},
	}
	setCmd.Flags().String("endpoint", "", "Upload endpoint URL (empty pauses uploads)")
	setCmd.Flags().StringArray("header", nil, "Upload header key=value (repeatable)")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}
