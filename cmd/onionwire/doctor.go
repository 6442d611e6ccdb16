package main

import (
	"fmt"
	"log/slog"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/diagnose"
	"github.com/spf13/cobra"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight checks for the node environment",
		Long: `Doctor checks the environment the node needs to run.

It verifies the tor binary is installed, the data directory is writable,
and the persisted service identity (if any) is loadable with its
backups. With --proxy it also probes an externally managed SOCKS proxy.

All checks run even when one fails, so the full picture is reported in
one pass. The command exits non-zero if any check fails.

Examples:
  # Check the default environment
  onionwire doctor

  # Also probe an external SOCKS proxy
  onionwire doctor --proxy 127.0.0.1:9050`,
		Args: cobra.NoArgs,
		RunE: runDoctorCmd,
	}

	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .onionwire in current or home directory)")
	cmd.Flags().String("data-dir", "",
		"Directory for tor state and the service identity (default: XDG data dir)")
	cmd.Flags().String("proxy", "",
		"External SOCKS proxy address to probe (e.g., 127.0.0.1:9050)")

	return cmd
}

// runDoctorCmd executes the doctor command.
func runDoctorCmd(cmd *cobra.Command, _ []string) error {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	if cfg.ConfigFilePath, err = cmd.Flags().GetString("config"); err != nil {
		return err
	}
	if configPath := config.FindConfigFile(cfg.ConfigFilePath); configPath != "" {
		cf, err := config.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cf.Apply(cfg)
	} else if cfg.ConfigFilePath != "" {
		return fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}
	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.DBDir = dataDir
	}
	proxyAddr, err := cmd.Flags().GetString("proxy")
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	runner := diagnose.New(
		diagnose.WithLogger(logger),
		diagnose.WithContinueOnError(true),
	)
	runner.AddChecks(
		&diagnose.TorBinaryCheck{Binary: cfg.TorBinary},
		&diagnose.DataDirCheck{Dir: cfg.DataDir},
		&diagnose.IdentityCheck{Cfg: cfg},
	)
	if proxyAddr != "" {
		runner.AddCheck(&diagnose.ProxyCheck{Addr: proxyAddr})
	}

	results, err := runner.Execute(cmd.Context())
	if err != nil {
		return fmt.Errorf("diagnosis aborted: %w", err)
	}

	failed := 0
	for _, result := range results {
		mark := "[ OK ]"
		if !result.OK {
			mark = "[FAIL]"
			failed++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %-18s %s\n", mark, result.Name, result.Detail)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nAll %d checks passed.\n", len(results))
	return nil
}
