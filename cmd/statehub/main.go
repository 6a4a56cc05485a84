// Package main is the entry point for the statehub CLI.
//
// statehub can be used as a library (SDK) or run as a standalone binary that
// mirrors remote collections configured in YAML. This CLI provides the
// standalone binary approach.
//
// Usage:
//
//	statehub serve -c config.yaml      # Mirror collections over HTTP
//	statehub validate -c config.yaml   # Validate configuration
//	statehub mockserver --addr :3000   # Run the fake places/users backend
//	statehub version                   # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd only displays help; functionality lives in subcommands.
var rootCmd = &cobra.Command{
	Use:   "statehub",
	Short: "Reactive mirrors of remote JSON collections",
	Long: `statehub keeps an in-memory, observable copy of remote JSON collections.

It loads each configured collection, applies optimistic adds and removes
that roll back if the backend rejects them, and streams snapshots and
notifications to clients over Server-Sent Events and WebSocket.

Quick start:
  1. Run a backend: statehub mockserver --addr :3000
  2. Create a config file (statehub.yaml)
  3. Run: statehub serve -c statehub.yaml
  4. Watch http://localhost:8080/api/sse

Example config:
  port: 8080
  collections:
    - name: user-places
      url: http://localhost:3000/user-places
      envelope: places
      body_field: placeId`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this statehub binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "statehub %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
