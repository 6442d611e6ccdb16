package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/identity"
	"github.com/onionwire/onionwire/internal/model"
	"github.com/onionwire/onionwire/internal/peerstore"
	"github.com/onionwire/onionwire/internal/report"
	"github.com/spf13/cobra"
)

// runHistoryLimit caps how many past runs the status snapshot includes.
const runHistoryLimit = 20

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the node's identity, run history, and known peers",
		Long: `Status assembles an offline snapshot of the node.

It reads the persisted service identity (onion address and key backups)
and the peer store (lifecycle run history and dial records) without
starting tor. The snapshot renders as plain text by default.

Examples:
  # Human-readable status
  onionwire status

  # JSON for scripting
  onionwire status --json

  # Markdown report written to a file
  onionwire status --markdown -o status.md`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}

	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .onionwire in current or home directory)")
	cmd.Flags().String("data-dir", "",
		"Directory for tor state and the service identity (default: XDG data dir)")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the snapshot to specified file path (creates directories if needed)")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, _ []string) error {
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

	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOut, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOut && markdownOut {
		return errors.New("--json and --markdown are mutually exclusive")
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	status, err := collectStatus(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	return writeStatus(status, jsonOut, markdownOut, outputPath)
}

// collectStatus assembles the snapshot from the on-disk identity and the
// peer store. Both sources are optional: a node that never ran yields an
// empty but valid snapshot.
func collectStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*model.NodeStatus, error) {
	status := &model.NodeStatus{
		GeneratedAt: time.Now().UTC(),
		ServicePort: cfg.ServicePort,
	}

	id, err := identity.Load(cfg.IdentityDir())
	switch {
	case errors.Is(err, identity.ErrNoIdentity):
		// First run has not happened yet.
	case err != nil:
		return nil, fmt.Errorf("failed to load service identity: %w", err)
	default:
		status.HasIdentity = true
		status.OnionHost = id.OnionHost()
		backups, listErr := identity.ListBackups(cfg.IdentityDir(), identity.PrivateKeyFileName)
		if listErr != nil {
			logger.Warn("failed to list key backups", "error", listErr)
		}
		status.KeyBackups = len(backups)
	}

	store, err := peerstore.Open(cfg.DBDir, peerstore.Options{EnableWAL: true})
	if errors.Is(err, peerstore.ErrNoDatabase) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open peer store: %w", err)
	}
	defer store.Close()

	if status.LatestRun, err = store.LatestRun(ctx); err != nil {
		return nil, fmt.Errorf("failed to read latest run: %w", err)
	}
	if status.Runs, err = store.Runs(ctx, runHistoryLimit); err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	if status.Peers, err = store.ListPeers(ctx); err != nil {
		return nil, fmt.Errorf("failed to read peers: %w", err)
	}

	return status, nil
}

// writeStatus renders the snapshot in the requested format.
func writeStatus(status *model.NodeStatus, jsonOut, markdownOut bool, outputPath string) error {
	var output *os.File
	if outputPath != "" {
		dir := filepath.Dir(outputPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// The snapshot names the node's onion address and peers, so the
		// file is owner-readable only.
		f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	} else {
		output = os.Stdout
	}

	var writer report.Writer
	switch {
	case jsonOut:
		writer = report.NewJSONWriter(output, report.WithIndent())
	case markdownOut:
		writer = report.NewMarkdownWriter(output)
	default:
		writer = report.NewSimpleWriter(output)
	}

	_, err := writer.Write(status)
	return err
}
