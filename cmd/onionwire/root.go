// Package main provides the entry point for the onionwire CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for onionwire.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onionwire",
		Short: "Anonymity-preserving transport node for peer-to-peer services",
		Long: `onionwire runs a peer-to-peer node behind a Tor hidden service.

It launches a tor daemon, publishes a stable v3 onion endpoint backed by
a persistent service key, accepts framed peer connections on it, and
dials other nodes' onion endpoints with per-connection stream isolation.

Bootstrap failures are retried automatically within a bounded budget,
and shutdown tears down the network client and the accept server in a
bounded, coordinated sequence.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewDialCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewDoctorCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
