package diagnose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/identity"
	"github.com/onionwire/onionwire/internal/tor"
)

// TorBinaryCheck verifies the tor executable exists and reports its
// version.
type TorBinaryCheck struct {
	// Binary is the configured tor executable.
	Binary string
}

// Name returns the check's name.
func (c *TorBinaryCheck) Name() string {
	return "tor binary"
}

// Do resolves the binary and asks it for its version string.
func (c *TorBinaryCheck) Do(ctx context.Context) (Result, error) {
	path, err := exec.LookPath(c.Binary)
	if err != nil {
		return Result{
			Name:   c.Name(),
			OK:     false,
			Detail: fmt.Sprintf("%q not found in PATH - install tor or set tor_binary in the config file", c.Binary),
		}, nil
	}

	out, err := exec.CommandContext(ctx, path, "--version").Output() //nolint:gosec // Binary comes from validated config
	if err != nil {
		return Result{
			Name:   c.Name(),
			OK:     false,
			Detail: fmt.Sprintf("%s exists but failed to report its version: %v", path, err),
		}, nil
	}

	version := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	return Result{
		Name:   c.Name(),
		OK:     true,
		Detail: fmt.Sprintf("%s (%s)", path, version),
	}, nil
}

// DataDirCheck verifies the data directory exists (or can be created) and
// is writable.
type DataDirCheck struct {
	// Dir is the configured data directory.
	Dir string
}

// Name returns the check's name.
func (c *DataDirCheck) Name() string {
	return "data directory"
}

// Do creates the directory if missing and probes writability.
func (c *DataDirCheck) Do(_ context.Context) (Result, error) {
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return Result{
			Name:   c.Name(),
			OK:     false,
			Detail: fmt.Sprintf("cannot create %s: %v", c.Dir, err),
		}, nil
	}

	probe := filepath.Join(c.Dir, ".diagnose-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0600); err != nil {
		return Result{
			Name:   c.Name(),
			OK:     false,
			Detail: fmt.Sprintf("%s is not writable: %v", c.Dir, err),
		}, nil
	}
	_ = os.Remove(probe) //nolint:errcheck // Probe file cleanup

	return Result{
		Name:   c.Name(),
		OK:     true,
		Detail: c.Dir,
	}, nil
}

// IdentityCheck reports the state of the service key material: whether an
// identity exists, whether it is loadable, and how many backups exist.
type IdentityCheck struct {
	// Cfg provides the identity directory and retention settings.
	Cfg *config.Config
}

// Name returns the check's name.
func (c *IdentityCheck) Name() string {
	return "service identity"
}

// Do loads the identity without creating one.
func (c *IdentityCheck) Do(_ context.Context) (Result, error) {
	dir := c.Cfg.IdentityDir()

	id, err := identity.Load(dir)
	if errors.Is(err, identity.ErrNoIdentity) {
		return Result{
			Name:   c.Name(),
			OK:     true,
			Detail: "no identity yet - the first serve run will generate one",
		}, nil
	}
	if err != nil {
		return Result{
			Name:   c.Name(),
			OK:     false,
			Detail: fmt.Sprintf("identity exists but cannot be loaded: %v - restore a copy from %s", err, filepath.Join(dir, identity.BackupDirName)),
		}, nil
	}

	backups, listErr := identity.ListBackups(dir, identity.PrivateKeyFileName)
	if listErr != nil {
		return Result{
			Name:   c.Name(),
			OK:     false,
			Detail: fmt.Sprintf("identity ok but backups unreadable: %v", listErr),
		}, nil
	}

	return Result{
		Name:   c.Name(),
		OK:     true,
		Detail: fmt.Sprintf("%s (%d rolling backups)", id.OnionHost(), len(backups)),
	}, nil
}

// ProxyCheck verifies an externally managed SOCKS proxy answers a SOCKS5
// handshake. Only added when the operator configured an external proxy
// address to test.
type ProxyCheck struct {
	// Addr is the SOCKS proxy address to probe.
	Addr string
}

// Name returns the check's name.
func (c *ProxyCheck) Name() string {
	return "socks proxy"
}

// Do performs the SOCKS5 handshake probe.
func (c *ProxyCheck) Do(ctx context.Context) (Result, error) {
	status := tor.CheckProxy(ctx, c.Addr)
	return Result{
		Name:   c.Name(),
		OK:     status == tor.ProxyStatusOK,
		Detail: fmt.Sprintf("%s: %s", c.Addr, status),
	}, nil
}
