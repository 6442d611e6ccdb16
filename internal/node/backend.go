package node

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/identity"
	"github.com/onionwire/onionwire/internal/model"
	"github.com/onionwire/onionwire/internal/tor"
)

// Backend abstracts the anonymizing network client underneath the node
// lifecycle. The production implementation is TorBackend; tests drive the
// lifecycle with an in-process fake.
//
// Bootstrap and Publish block and run only on the background worker.
// Stop may be called concurrently with either during shutdown.
type Backend interface {
	// Bootstrap joins the network and returns the SOCKS proxy address.
	// Called once per lifecycle attempt; a failed attempt is followed by
	// Stop before the next Bootstrap.
	Bootstrap(ctx context.Context) (socksAddr string, err error)

	// Publish announces the hidden endpoint, mapping the advertised
	// service port onto the loopback listener at localPort, and blocks
	// until the endpoint is externally reachable.
	Publish(ctx context.Context, localPort int) (model.NodeAddress, error)

	// Stop tears the network client down. Safe to call when not
	// bootstrapped.
	Stop(ctx context.Context) error
}

// TorBackend implements Backend on a real tor process: daemon launch with
// rolling key backup, ADD_ONION publication with descriptor-upload
// confirmation, and SIGNAL SHUTDOWN teardown.
type TorBackend struct {
	cfg    *config.Config
	logger *slog.Logger

	// mu guards daemon and id: Stop can race Bootstrap during shutdown.
	mu     sync.Mutex
	daemon *tor.Daemon
	id     *identity.Identity
}

// NewTorBackend creates the production backend for the given configuration.
func NewTorBackend(cfg *config.Config, logger *slog.Logger) *TorBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &TorBackend{cfg: cfg, logger: logger}
}

// Bootstrap rolls the key backup, loads or creates the service identity,
// and launches the tor daemon, blocking until it is bootstrapped.
func (b *TorBackend) Bootstrap(ctx context.Context) (string, error) {
	identityDir := b.cfg.IdentityDir()

	// The key file is the node's identity; roll a backup before every
	// start so a corrupted key never loses the last known-good copies.
	if err := identity.RollingBackup(identityDir, identity.PrivateKeyFileName, b.cfg.KeyBackupRetention); err != nil {
		return "", fmt.Errorf("failed to back up service key: %w", err)
	}

	id, created, err := identity.LoadOrCreate(identityDir)
	if err != nil {
		return "", err
	}
	if created {
		b.logger.Info("generated new service identity", "onionHost", id.OnionHost())
	} else {
		b.logger.Info("loaded service identity", "onionHost", id.OnionHost())
	}

	daemon := tor.NewDaemon(b.cfg.TorBinary, b.cfg.TorDataDir(),
		tor.WithBridges(b.cfg.Bridges),
		tor.WithBootstrapTimeout(b.cfg.BootstrapTimeout),
		tor.WithDaemonLogger(b.logger),
	)

	b.mu.Lock()
	b.daemon = daemon
	b.id = id
	b.mu.Unlock()

	if err := daemon.Start(ctx); err != nil {
		return "", err
	}
	return daemon.SocksAddr(), nil
}

// Publish announces the hidden endpoint under the persisted service key
// and blocks until the network's directory system has its descriptor.
func (b *TorBackend) Publish(ctx context.Context, localPort int) (model.NodeAddress, error) {
	b.mu.Lock()
	daemon := b.daemon
	id := b.id
	b.mu.Unlock()

	if daemon == nil || daemon.Control() == nil {
		return model.NodeAddress{}, tor.ErrDaemonNotRunning
	}

	control := daemon.Control()
	svc, err := control.AddOnion(ctx, id.KeyBlob(), b.cfg.ServicePort, localPort)
	if err != nil {
		return model.NodeAddress{}, err
	}

	// The daemon derives the hostname from the key we supplied; a
	// mismatch means the key material on disk does not back the hostname
	// we believe is ours.
	if got := svc.ServiceID + ".onion"; got != id.OnionHost() {
		return model.NodeAddress{}, fmt.Errorf("published hostname %q does not match identity %q", got, id.OnionHost())
	}

	publishCtx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()
	if err := control.WaitDescriptorUploaded(publishCtx, svc.ServiceID); err != nil {
		return model.NodeAddress{}, fmt.Errorf("endpoint descriptor was not announced: %w", err)
	}

	return model.NewNodeAddress(strings.ToLower(id.OnionHost()), b.cfg.ServicePort)
}

// Stop tears down the tor daemon. Safe on a never-bootstrapped backend.
func (b *TorBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	daemon := b.daemon
	b.daemon = nil
	b.mu.Unlock()

	if daemon == nil {
		return nil
	}
	return daemon.Stop(ctx)
}
