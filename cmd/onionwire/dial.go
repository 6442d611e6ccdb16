package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/model"
	"github.com/onionwire/onionwire/internal/node"
	"github.com/onionwire/onionwire/internal/peerstore"
	"github.com/onionwire/onionwire/internal/server"
	"github.com/onionwire/onionwire/internal/tor"
	"github.com/spf13/cobra"
)

// NewDialCmd creates the dial command.
func NewDialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dial <onion-address[:port]>",
		Short: "Connect to a peer's hidden endpoint and measure round-trip time",
		Long: `Dial opens an outbound connection to a peer node.

It bootstraps a client-only tor instance (no endpoint is published),
connects to the peer's onion address through the SOCKS proxy with a
fresh stream-isolation token, and exchanges one ping/pong frame to
measure the round-trip time. The result is recorded in the peer store.

Examples:
  # Dial a peer on the default service port
  onionwire dial aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion

  # Dial a non-default port
  onionwire dial aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion:9735`,
		Args: cobra.ExactArgs(1),
		RunE: runDialCmd,
	}

	addNodeFlags(cmd)
	cmd.Flags().DurationP("timeout", "t", config.DefaultDialTimeout,
		"Timeout for the connection attempt")

	return cmd
}

// runDialCmd executes the dial command.
func runDialCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("timeout") {
		if cfg.DialTimeout, err = cmd.Flags().GetDuration("timeout"); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	addr, err := parseDialTarget(args[0], cfg.ServicePort)
	if err != nil {
		return fmt.Errorf("invalid onion address %q: %w", args[0], err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	return runDial(cmd.Context(), cfg, addr, logger)
}

// parseDialTarget parses "host.onion" or "host.onion:port", filling in
// the default service port when none is given.
func parseDialTarget(target string, defaultPort int) (model.NodeAddress, error) {
	if strings.Contains(target, ":") {
		return model.ParseNodeAddress(target)
	}
	return model.NewNodeAddress(target, defaultPort)
}

// runDial bootstraps a client-only tor instance and pings the peer.
func runDial(ctx context.Context, cfg *config.Config, addr model.NodeAddress, logger *slog.Logger) error {
	fmt.Println("Starting Tor client...")
	fmt.Printf("This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	backend := node.NewTorBackend(cfg, logger)

	bootstrapCtx, cancel := context.WithTimeout(ctx, cfg.BootstrapTimeout)
	defer cancel()
	socksAddr, err := backend.Bootstrap(bootstrapCtx)
	if err != nil {
		return fmt.Errorf("tor bootstrap failed: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		if stopErr := backend.Stop(stopCtx); stopErr != nil {
			logger.Warn("failed to stop tor client", "error", stopErr)
		}
	}()

	logger.Info("tor client ready", "socksAddr", socksAddr)

	dialer := tor.NewDialer(func() string { return socksAddr },
		tor.WithDialTimeout(cfg.DialTimeout),
		tor.WithDialerLogger(logger),
	)

	fmt.Printf("Dialing %s...\n", addr)
	start := time.Now()

	conn, err := dialer.Connect(ctx, addr)
	if err != nil {
		recordDialOutcome(cfg, addr, "connect failed", true, logger)
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	connected := time.Since(start)
	fmt.Printf("Connected in %s\n", connected.Round(time.Millisecond))

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer pingCancel()
	rtt, err := server.Ping(pingCtx, conn, []byte("onionwire"))
	if err != nil {
		recordDialOutcome(cfg, addr, "ping failed", true, logger)
		return fmt.Errorf("ping to %s failed: %w", addr, err)
	}

	fmt.Printf("Ping round-trip: %s\n", rtt.Round(time.Millisecond))
	recordDialOutcome(cfg, addr, "ok", false, logger)

	return nil
}

// recordDialOutcome writes the dial result to the peer store, best
// effort. A missing or broken store only costs the audit trail.
func recordDialOutcome(cfg *config.Config, addr model.NodeAddress, outcome string, failed bool, logger *slog.Logger) {
	store, err := peerstore.Open(cfg.DBDir, peerstore.DefaultOptions())
	if err != nil {
		logger.Warn("dial not recorded, store unavailable", "dir", cfg.DBDir, "error", err)
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.RecordDial(ctx, addr, outcome, failed); err != nil {
		logger.Warn("failed to record dial", "peer", addr.String(), "error", err)
	}
}
