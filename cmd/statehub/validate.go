package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/statehub/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a statehub configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  statehub validate -c config.yaml
  statehub validate --config /etc/statehub/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	readOnly := 0
	refreshed := 0
	for _, c := range cfg.Collections {
		if c.ReadOnly {
			readOnly++
		}
		if !c.NoRefresh && (c.RefreshInterval != 0 || cfg.RefreshInterval != 0) {
			refreshed++
		}
	}

	refresh := "off"
	if cfg.RefreshInterval != 0 {
		refresh = cfg.RefreshInterval.Duration().String()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:             %d\n", cfg.Port)
	fmt.Fprintf(out, "  Log level:        %s\n", cfg.LogLevel)
	fmt.Fprintf(out, "  Refresh interval: %s\n", refresh)
	fmt.Fprintf(out, "  Collections:      %d (%d read-only, %d refreshed)\n",
		len(cfg.Collections), readOnly, refreshed)

	return nil
}
