// Orchestrator - hierarchical device lifecycle orchestration
//
// This is the entry point for an orchestrator node. A node runs a tree (or
// part of a tree) of devices that claim, prepare, run and release shared
// resources on a schedule, talking to parents and children over an
// in-process hub or an MQTT broker.
//
// Subcommands:
//
//	orchestrator serve                  run a node
//	orchestrator send dish1 CLAIM       send command text to a running device
//	orchestrator check station.yaml     validate a device configuration blob
//	orchestrator version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when neither --config nor ORCHESTRATOR_CONFIG is set.
const defaultConfigPath = "configs/orchestrator.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd assembles the command tree. Each call returns fresh commands so
// tests can execute them independently.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Hierarchical device lifecycle orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", configPathFromEnv(), "path to the node configuration file")

	root.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newCheckCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "orchestrator %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)
	return root
}

// configPathFromEnv returns ORCHESTRATOR_CONFIG if set, otherwise the default.
func configPathFromEnv() string {
	if path := os.Getenv("ORCHESTRATOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
