// Package commands implements the stagehand CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	scenariosDir  string
	stateFile     string
	storeBackend  string
	credsFile     string
	verbose       bool
	jsonOutput    bool
	metricsAddr   string
	traceExporter string
	traceEndpoint string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Stagehand - Demo Environment Provisioning Engine",
		Long: `Stagehand provisions and tears down multi-resource demo environments:
repositories, deployable components, runtime environments, applications, and
feature flags, created from declarative scenario templates and reclaimed
automatically when they expire.

Features:
  - Parameterized scenario templates with computed variables
  - Idempotent provisioning across two remote systems
  - Retry handling for eventual-consistency races
  - Instance tracking with TTL-based expiry
  - Safe reverse-order cleanup with dry-run support`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&scenariosDir, "scenarios", "s", "scenarios", "scenario definition directory")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state", "", "instance store path (default ~/.stagehand/instances.json)")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "file", "instance store backend: file or sqlite")
	rootCmd.PersistentFlags().StringVar(&credsFile, "credentials", "", "credential file path (default ~/.stagehand/credentials.ini)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-listen", "", "serve Prometheus metrics on this address (empty = disabled)")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter: none, stdout, or otlp")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP trace collector endpoint")

	// Add subcommands
	rootCmd.AddCommand(newScenariosCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newLaunchCommand())
	rootCmd.AddCommand(newInstancesCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newCredentialsCommand())

	return rootCmd
}
