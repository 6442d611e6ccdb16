package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/log"
	"github.com/onionwire/onionwire/internal/model"
	"github.com/onionwire/onionwire/internal/node"
	"github.com/onionwire/onionwire/internal/peerstore"
	"github.com/onionwire/onionwire/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node: bootstrap Tor and publish the hidden endpoint",
		Long: `Serve runs the full node lifecycle.

It launches a tor daemon, waits for the network to bootstrap, publishes
the hidden endpoint under the persistent service key, and accepts framed
peer connections until interrupted.

The onion address stays stable across runs because the service key is
persisted (with rolling backups) under the data directory. Bootstrap
failures are retried automatically with exponential backoff; when the
restart budget is exhausted the command exits non-zero.

Examples:
  # Run with defaults (key and tor state under the XDG data directory)
  onionwire serve

  # Advertise a different external port
  onionwire serve --service-port 9735

  # Bootstrap through bridge relays
  onionwire serve --bridge "obfs4 192.0.2.1:443 FINGERPRINT cert=... iat-mode=0"

  # Use a custom configuration file
  onionwire serve -c myconfig.yaml`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	addNodeFlags(cmd)
	cmd.Flags().IntP("service-port", "p", config.DefaultServicePort,
		"Externally advertised port of the hidden endpoint")
	cmd.Flags().Int("local-port", 0,
		"Loopback port for the accept server (0 = ephemeral)")
	cmd.Flags().StringArray("bridge", nil,
		"Bridge relay line for censored networks (repeatable, order preserved)")
	cmd.Flags().Int("max-restart-attempts", config.DefaultMaxRestartAttempts,
		"Maximum automatic bootstrap recovery attempts")
	cmd.Flags().Duration("shutdown-timeout", config.DefaultShutdownTimeout,
		"Upper bound for the coordinated shutdown sequence")

	return cmd
}

// addNodeFlags registers the flags shared by commands that start a tor
// client (serve, dial).
func addNodeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .onionwire in current or home directory)")
	cmd.Flags().String("tor-binary", config.DefaultTorBinary,
		"Tor executable to launch")
	cmd.Flags().String("data-dir", "",
		"Directory for tor state and the service identity (default: XDG data dir)")
	cmd.Flags().DurationP("bootstrap-timeout", "T", config.DefaultBootstrapTimeout,
		"Timeout for one tor bootstrap attempt")
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.ServicePort, err = cmd.Flags().GetInt("service-port"); err != nil {
		return err
	}
	if cfg.LocalPort, err = cmd.Flags().GetInt("local-port"); err != nil {
		return err
	}
	bridges, err := cmd.Flags().GetStringArray("bridge")
	if err != nil {
		return err
	}
	if len(bridges) > 0 {
		cfg.Bridges = bridges
	}
	if cmd.Flags().Changed("max-restart-attempts") {
		if cfg.MaxRestartAttempts, err = cmd.Flags().GetInt("max-restart-attempts"); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("shutdown-timeout") {
		if cfg.ShutdownTimeout, err = cmd.Flags().GetDuration("shutdown-timeout"); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	return runServe(cmd.Context(), cfg, logger)
}

// runRecorder observes the lifecycle and accumulates one RunRecord for
// the peer store. Callbacks arrive on the node's event loop; reads
// happen on the main goroutine after shutdown, hence the mutex.
type runRecorder struct {
	mu    sync.Mutex
	run   model.RunRecord
	fatal chan error
}

func newRunRecorder() *runRecorder {
	return &runRecorder{
		run:   model.RunRecord{StartedAt: time.Now().UTC()},
		fatal: make(chan error, 1),
	}
}

// OnNetworkReady records the bootstrap completion time. Only the first
// transition counts: a restart after a later failure does not reset it.
func (r *runRecorder) OnNetworkReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run.NetworkReadyAt.IsZero() {
		r.run.NetworkReadyAt = time.Now().UTC()
	}
	fmt.Println("Network client ready.")
}

// OnEndpointPublished records the publication time and address.
func (r *runRecorder) OnEndpointPublished(addr model.NodeAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run.PublishedAt.IsZero() {
		r.run.PublishedAt = time.Now().UTC()
	}
	r.run.Address = addr
	fmt.Printf("Hidden endpoint published: %s\n", addr)
	fmt.Println("Accepting peer connections. Press Ctrl+C to stop.")
}

// OnSetupFailed delivers the terminal failure to the main goroutine.
func (r *runRecorder) OnSetupFailed(err error) {
	select {
	case r.fatal <- err:
	default:
	}
}

// record finalizes the run and writes it to the store. A nil store is a
// no-op so a broken database never takes the node down with it.
func (r *runRecorder) record(ctx context.Context, store *peerstore.Store, attempts int, outcome model.RunOutcome, lastErr error) error {
	if store == nil {
		return nil
	}

	r.mu.Lock()
	run := r.run
	r.mu.Unlock()

	run.BootstrapAttempts = attempts
	run.Outcome = outcome
	if lastErr != nil {
		run.LastError = lastErr.Error()
	}

	_, err := store.SaveRun(ctx, &run)
	return err
}

// runServe builds the node, runs it until a signal or a fatal failure,
// and persists the run outcome.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := peerstore.Open(cfg.DBDir, peerstore.DefaultOptions())
	if err != nil {
		// The store is an audit trail, not a dependency of the transport.
		logger.Warn("run history disabled, store unavailable", "dir", cfg.DBDir, "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	backend := node.NewTorBackend(cfg, logger)
	srv := server.New(server.WithServerLogger(logger))
	nd := node.New(cfg, backend, srv, node.WithLogger(logger))

	recorder := newRunRecorder()
	nd.AddListener(recorder)

	fmt.Println("Starting node...")
	fmt.Printf("This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	if err := nd.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var fatalErr error
	select {
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		fmt.Println("\nShutting down...")
	case fatalErr = <-recorder.fatal:
		logger.Error("node fatally failed", "error", fatalErr)
	}

	attempts := nd.RestartAttempts()

	done := make(chan struct{})
	nd.Shutdown(func() { close(done) })
	<-done

	outcome := model.RunOutcomeStopped
	if fatalErr != nil {
		outcome = model.RunOutcomeFailed
	}
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if recErr := recorder.record(recordCtx, store, attempts, outcome, fatalErr); recErr != nil {
		logger.Warn("failed to record run", "error", recErr)
	}

	if fatalErr != nil {
		var fe *node.FatalError
		if errors.As(fatalErr, &fe) {
			return fmt.Errorf("node failed after %d attempts: %w", fe.Attempts, fe.LastErr)
		}
		return fatalErr
	}

	fmt.Println("Node stopped.")
	return nil
}

// buildConfig creates a Config from defaults, the config file, and the
// flags shared by node-starting commands.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	if cfg.ConfigFilePath, err = cmd.Flags().GetString("config"); err != nil {
		return nil, err
	}

	// Overlay the config file before flags: an explicit flag wins over
	// the file, the file wins over defaults.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	if configPath != "" {
		cf, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cf.Apply(cfg)
	} else if explicitConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	if cmd.Flags().Changed("tor-binary") {
		if cfg.TorBinary, err = cmd.Flags().GetString("tor-binary"); err != nil {
			return nil, err
		}
	}
	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.DBDir = dataDir
	}
	if cmd.Flags().Changed("bootstrap-timeout") {
		if cfg.BootstrapTimeout, err = cmd.Flags().GetDuration("bootstrap-timeout"); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates a structured logger based on verbosity setting.
// All output passes through the sanitizing handler so key material,
// cookies, and bridge lines never reach the logs.
func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return log.NewSecureLogger(os.Stderr, level)
}
