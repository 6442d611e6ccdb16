package tor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Daemon lifecycle constants.
const (
	// portFilePollInterval is how often we poll for the control-port file
	// tor writes after binding its listeners.
	portFilePollInterval = 100 * time.Millisecond

	// bootstrapPollInterval is how often we query bootstrap progress.
	bootstrapPollInterval = 500 * time.Millisecond

	// controlPortFileName is the file tor writes its control listener
	// address into (ControlPortWriteToFile).
	controlPortFileName = "control-port"

	// torrcFileName is the generated configuration file name.
	torrcFileName = "torrc"
)

// Daemon launches and supervises a tor process. It owns the generated
// torrc, the process handle, and the authenticated control connection.
//
// Start blocks until the daemon is fully bootstrapped, so it must only run
// on a background worker, never on a latency-sensitive goroutine. The
// restart policy lives in the node package; the Daemon itself makes exactly
// one attempt per Start call.
type Daemon struct {
	// binary is the tor executable, resolved via PATH when bare.
	binary string

	// dataDir is handed to tor as its DataDirectory. It persists guard
	// and directory state across restarts, which makes re-bootstrapping
	// much faster than starting cold.
	dataDir string

	// bridges holds optional bridge relay lines, written into the torrc
	// unmodified. Non-empty implies UseBridges 1.
	bridges []string

	// bootstrapTimeout bounds the whole Start sequence.
	bootstrapTimeout time.Duration

	// logger is used for lifecycle logging.
	logger *slog.Logger

	// mu guards cmd, control, socksAddr, and stopped: Stop runs on the
	// shutdown path while Start may still be in flight on the worker.
	mu sync.Mutex

	// cmd is the running tor process, nil when not started.
	cmd *exec.Cmd

	// control is the authenticated control connection, nil when not started.
	control *Control

	// socksAddr is the SOCKS listener address, set after a successful Start.
	socksAddr string

	// stopped is latched by Stop. A stopped daemon never launches: an
	// in-flight Start reaps its own process instead of completing, and a
	// later Start fails outright.
	stopped bool
}

// DaemonOption configures a Daemon instance.
type DaemonOption func(*Daemon)

// WithBridges sets the bridge relay lines used during bootstrap.
// The lines are passed through to tor unmodified, in order.
func WithBridges(bridges []string) DaemonOption {
	return func(d *Daemon) {
		d.bridges = bridges
	}
}

// WithBootstrapTimeout sets the maximum time Start waits for the daemon
// to finish bootstrapping.
func WithBootstrapTimeout(timeout time.Duration) DaemonOption {
	return func(d *Daemon) {
		d.bootstrapTimeout = timeout
	}
}

// WithDaemonLogger sets a custom logger for daemon lifecycle logging.
func WithDaemonLogger(logger *slog.Logger) DaemonOption {
	return func(d *Daemon) {
		d.logger = logger
	}
}

// NewDaemon creates a daemon launcher for the given tor binary and data
// directory. Call Start to actually launch the process.
func NewDaemon(binary, dataDir string, opts ...DaemonOption) *Daemon {
	d := &Daemon{
		binary:           binary,
		dataDir:          dataDir,
		bootstrapTimeout: 3 * time.Minute,
	}

	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d
}

// Start launches the tor process and blocks until it has joined the
// network: listeners bound, control port authenticated, bootstrap progress
// at 100%, and the SOCKS port verified to answer a SOCKS5 handshake.
//
// On any failure the partially started process is killed before returning,
// so a failed Start never leaks a tor process.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("tor daemon already stopped")
	}
	if d.cmd != nil {
		d.mu.Unlock()
		return fmt.Errorf("tor daemon already started")
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.bootstrapTimeout)
	defer cancel()

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create tor data directory: %w", err)
	}

	torrcPath := filepath.Join(d.dataDir, torrcFileName)
	if err := os.WriteFile(torrcPath, []byte(d.torrc()), 0600); err != nil {
		return fmt.Errorf("failed to write torrc: %w", err)
	}

	// A stale port file from a previous run would make us connect to a
	// dead listener; remove it before launch.
	portFile := filepath.Join(d.dataDir, controlPortFileName)
	_ = os.Remove(portFile) //nolint:errcheck // Absence is the desired state

	cmd := exec.Command(d.binary, "-f", torrcPath) //nolint:gosec // Binary comes from validated config
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch tor: %w", err)
	}

	d.mu.Lock()
	if d.stopped {
		// Stop won the race before the process handle was published; the
		// process must not outlive it.
		d.mu.Unlock()
		_ = cmd.Process.Kill()  //nolint:errcheck // Best effort cleanup
		_, _ = cmd.Process.Wait() //nolint:errcheck // Reap the zombie
		return fmt.Errorf("tor daemon stopped during startup")
	}
	d.cmd = cmd
	d.mu.Unlock()
	d.logger.Info("tor process launched", "pid", cmd.Process.Pid, "dataDir", d.dataDir, "bridgeCount", len(d.bridges))

	if err := d.finishStart(ctx, portFile); err != nil {
		d.kill()
		return err
	}
	return nil
}

// finishStart completes the startup sequence after the process is running.
func (d *Daemon) finishStart(ctx context.Context, portFile string) error {
	controlAddr, err := d.waitControlPortFile(ctx, portFile)
	if err != nil {
		return err
	}

	control, err := DialControl(ctx, controlAddr, WithControlLogger(d.logger))
	if err != nil {
		return err
	}
	if err := control.Authenticate(ctx); err != nil {
		_ = control.Close() //nolint:errcheck // Best effort cleanup
		return err
	}

	if err := d.waitBootstrapped(ctx, control); err != nil {
		_ = control.Close() //nolint:errcheck // Best effort cleanup
		return err
	}

	socksAddr, err := control.SocksListener(ctx)
	if err != nil {
		_ = control.Close() //nolint:errcheck // Best effort cleanup
		return err
	}

	// The listener answering a real SOCKS5 handshake is the final proof
	// the daemon is usable, not just claiming readiness.
	if status := CheckProxy(ctx, socksAddr); status != ProxyStatusOK {
		_ = control.Close() //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("socks listener verification failed: %s", status)
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		_ = control.Close() //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("tor daemon stopped during startup")
	}
	d.control = control
	d.socksAddr = socksAddr
	d.mu.Unlock()
	d.logger.Info("tor daemon bootstrapped", "socksAddr", socksAddr, "controlAddr", controlAddr)
	return nil
}

// torrc renders the generated tor configuration.
//
// Ports are "auto" so parallel nodes on one machine never collide; the
// control listener address is recovered from the port file, the SOCKS
// address via GETINFO.
func (d *Daemon) torrc() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DataDirectory %s\n", d.dataDir)
	sb.WriteString("SocksPort auto\n")
	sb.WriteString("ControlPort auto\n")
	fmt.Fprintf(&sb, "ControlPortWriteToFile %s\n", filepath.Join(d.dataDir, controlPortFileName))
	sb.WriteString("CookieAuthentication 1\n")

	if len(d.bridges) > 0 {
		sb.WriteString("UseBridges 1\n")
		for _, bridge := range d.bridges {
			fmt.Fprintf(&sb, "Bridge %s\n", bridge)
		}
	}

	return sb.String()
}

// waitControlPortFile polls for the control-port file and parses the
// listener address out of it. The file content looks like
// "PORT=127.0.0.1:37423".
func (d *Daemon) waitControlPortFile(ctx context.Context, path string) (string, error) {
	ticker := time.NewTicker(portFilePollInterval)
	defer ticker.Stop()

	for {
		data, err := os.ReadFile(path) //nolint:gosec // Path is inside our own data dir
		if err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if addr, ok := strings.CutPrefix(strings.TrimSpace(line), "PORT="); ok {
					return addr, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("timed out waiting for control port file: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// waitBootstrapped polls bootstrap progress until it reaches 100%.
func (d *Daemon) waitBootstrapped(ctx context.Context, control *Control) error {
	ticker := time.NewTicker(bootstrapPollInterval)
	defer ticker.Stop()

	lastProgress := -1
	for {
		progress, err := control.BootstrapPhase(ctx)
		if err != nil {
			return err
		}
		if progress != lastProgress {
			d.logger.Debug("bootstrap progress", "percent", progress)
			lastProgress = progress
		}
		if progress >= 100 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for bootstrap (last progress %d%%): %w", lastProgress, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop asks the daemon to terminate and waits for the process to exit.
// It prefers a clean SIGNAL SHUTDOWN via the control port and escalates to
// killing the process when the context expires first.
//
// Safe to call on a never-started or already-stopped daemon.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	cmd := d.cmd
	control := d.control
	d.cmd = nil
	d.control = nil
	d.socksAddr = ""
	d.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if control != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, controlDefaultTimeout)
		if err := control.Signal(shutdownCtx, "SHUTDOWN"); err != nil {
			d.logger.Warn("control shutdown signal failed, will kill process", "error", err)
		}
		cancel()
		_ = control.Close() //nolint:errcheck // Connection is going away either way
	}

	// Reap the process; escalate to SIGKILL if it outlives the context.
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		d.logger.Warn("tor process did not exit in time, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill() //nolint:errcheck // Process may already be gone
		waitErr = <-done
	}

	d.logger.Info("tor daemon stopped")

	// An exit triggered by SIGNAL SHUTDOWN or Kill is expected; only
	// surface errors from the wait itself.
	if _, ok := waitErr.(*exec.ExitError); ok {
		return nil
	}
	return waitErr
}

// kill force-terminates a partially started process during failed startup.
// A concurrent Stop may already have taken the handles; then there is
// nothing left to reap.
func (d *Daemon) kill() {
	d.mu.Lock()
	cmd := d.cmd
	control := d.control
	d.cmd = nil
	d.control = nil
	d.socksAddr = ""
	d.mu.Unlock()

	if cmd != nil {
		_ = cmd.Process.Kill()  //nolint:errcheck // Best effort cleanup
		_, _ = cmd.Process.Wait() //nolint:errcheck // Reap the zombie
	}
	if control != nil {
		_ = control.Close() //nolint:errcheck // Best effort cleanup
	}
}

// SocksAddr returns the SOCKS listener address of the running daemon,
// or an empty string if the daemon is not bootstrapped.
func (d *Daemon) SocksAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socksAddr
}

// Control returns the authenticated control connection, or nil if the
// daemon is not running.
func (d *Daemon) Control() *Control {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.control
}

// IsRunning returns true if the daemon process is currently running.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cmd != nil
}
