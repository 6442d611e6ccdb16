package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// These values are chosen based on typical Tor network characteristics
// and the behavior of long-running hidden-service nodes.
const (
	// DefaultTorBinary is the tor executable resolved via PATH.
	// Operators with multiple tor installations can point this at a
	// specific binary via the config file or --tor-binary flag.
	DefaultTorBinary = "tor"

	// DefaultServicePort is the externally advertised port of the hidden
	// endpoint. Peers dial <onion-host>:<service-port>; the local listener
	// behind it binds an ephemeral loopback port.
	DefaultServicePort = 9999

	// DefaultMaxRestartAttempts bounds automatic bootstrap recovery.
	// After this many consecutive bootstrap or publication failures the
	// node enters a terminal failed state and requires operator action.
	DefaultMaxRestartAttempts = 5

	// DefaultRestartBackoff is the initial delay before a bootstrap retry.
	// The delay doubles per consecutive failure (capped by
	// DefaultMaxRestartBackoff) so a flapping tor process cannot busy-loop
	// the node.
	DefaultRestartBackoff = 2 * time.Second

	// DefaultMaxRestartBackoff caps the exponential retry delay.
	DefaultMaxRestartBackoff = 30 * time.Second

	// DefaultShutdownTimeout bounds the whole shutdown sequence.
	// If the tor process or the accept server has not confirmed teardown
	// within this window, shutdown finalizes anyway and abandons them.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultWorkerGrace is how long shutdown waits for an in-flight
	// background task (bootstrap, publication) before abandoning it.
	DefaultWorkerGrace = 500 * time.Millisecond

	// DefaultBootstrapTimeout is the maximum time to wait for the tor
	// daemon to bootstrap. 3 minutes is typically sufficient, but slow or
	// censored networks may need more.
	DefaultBootstrapTimeout = 3 * time.Minute

	// DefaultPublishTimeout is the maximum time to wait for the hidden
	// endpoint's descriptor to be uploaded to the network's directory
	// system. Propagation usually takes tens of seconds.
	DefaultPublishTimeout = 2 * time.Minute

	// DefaultDialTimeout is the timeout for one outbound connection
	// attempt. Tor circuits to hidden services are slow to establish;
	// a short timeout would produce many false failures.
	DefaultDialTimeout = 120 * time.Second

	// DefaultKeyBackupRetention is how many rolling backups of the service
	// key file are kept. The key is the node's identity: a corrupted
	// current key must never lose the last known-good copies.
	DefaultKeyBackupRetention = 20

	// DefaultIdentityDirName is the directory under the data dir holding
	// the service key and its backups.
	DefaultIdentityDirName = "hiddenservice"

	// AppName is the application name used for XDG directory paths.
	AppName = "onionwire"
)

// Config holds all configuration options for onionwire.
// This struct is populated from defaults, the config file, and CLI flags,
// then passed through the application via dependency injection.
type Config struct {
	// TorBinary is the tor executable to launch. Resolved via PATH when
	// it contains no path separator.
	TorBinary string

	// DataDir is the bootstrap directory: it holds the tor daemon's
	// persistent state (DataDirectory) and the service identity key.
	// Defaults to the XDG data directory.
	DataDir string

	// IdentityDirName is the directory under DataDir holding the service
	// key file and its rolling backups.
	IdentityDirName string

	// KeyBackupRetention is the number of rolling key backups to keep.
	KeyBackupRetention int

	// ServicePort is the externally advertised port of the hidden endpoint.
	ServicePort int

	// LocalPort is the loopback port the accept server binds. Zero means
	// pick a free ephemeral port, which is the normal mode of operation.
	LocalPort int

	// Bridges is an optional ordered list of bridge relay lines passed
	// through unmodified to the tor process. Empty means direct bootstrap.
	Bridges []string

	// MaxRestartAttempts bounds automatic bootstrap recovery.
	MaxRestartAttempts int

	// RestartBackoff is the initial delay between bootstrap retries.
	RestartBackoff time.Duration

	// MaxRestartBackoff caps the exponential retry delay.
	MaxRestartBackoff time.Duration

	// ShutdownTimeout bounds the whole shutdown sequence.
	ShutdownTimeout time.Duration

	// WorkerGrace is the grace period for in-flight background tasks
	// during shutdown.
	WorkerGrace time.Duration

	// BootstrapTimeout is the maximum time for one tor bootstrap attempt.
	BootstrapTimeout time.Duration

	// PublishTimeout is the maximum time to wait for endpoint publication.
	PublishTimeout time.Duration

	// DialTimeout is the timeout for one outbound connection attempt.
	DialTimeout time.Duration

	// DBDir is the directory for the SQLite peer/run store.
	// Defaults to the XDG data directory.
	DBDir string

	// ConfigFilePath is the path to the configuration file. If empty, the
	// tool searches for .onionwire in the current directory and then in
	// the user's home directory.
	ConfigFilePath string

	// Verbose enables detailed log output using slog.LevelDebug.
	Verbose bool
}

// NewConfig creates a new Config with default values.
// All fields are set to safe, sensible defaults that work for most use
// cases. Users can override specific values after creation.
func NewConfig() *Config {
	return &Config{
		TorBinary:          DefaultTorBinary,
		DataDir:            XDGDataDir(),
		IdentityDirName:    DefaultIdentityDirName,
		KeyBackupRetention: DefaultKeyBackupRetention,
		ServicePort:        DefaultServicePort,
		MaxRestartAttempts: DefaultMaxRestartAttempts,
		RestartBackoff:     DefaultRestartBackoff,
		MaxRestartBackoff:  DefaultMaxRestartBackoff,
		ShutdownTimeout:    DefaultShutdownTimeout,
		WorkerGrace:        DefaultWorkerGrace,
		BootstrapTimeout:   DefaultBootstrapTimeout,
		PublishTimeout:     DefaultPublishTimeout,
		DialTimeout:        DefaultDialTimeout,
		DBDir:              XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for onionwire.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.local/share/onionwire
// On macOS: ~/Library/Application Support/onionwire
// On Windows: %LOCALAPPDATA%\onionwire
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for onionwire.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// IdentityDir returns the directory holding the service key material.
func (c *Config) IdentityDir() string {
	return filepath.Join(c.DataDir, c.IdentityDirName)
}

// TorDataDir returns the directory handed to the tor process as its
// DataDirectory. Kept separate from the identity dir so wiping cached tor
// state never touches the service key.
func (c *Config) TorDataDir() string {
	return filepath.Join(c.DataDir, "tor")
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// We chose to return the first error found rather than collecting all
// errors because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	if c.TorBinary == "" {
		return ErrNoTorBinary
	}

	if c.DataDir == "" {
		return ErrNoDataDir
	}

	if c.ServicePort < 1 || c.ServicePort > 65535 {
		return ErrInvalidServicePort
	}

	// LocalPort zero means "pick a free port"; negative is always wrong.
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return ErrInvalidLocalPort
	}

	if c.MaxRestartAttempts < 1 {
		return ErrInvalidRestartBudget
	}

	if c.RestartBackoff < 0 || c.MaxRestartBackoff < 0 {
		return ErrInvalidBackoff
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.WorkerGrace < 0 {
		return ErrInvalidWorkerGrace
	}

	if c.BootstrapTimeout <= 0 || c.PublishTimeout <= 0 || c.DialTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.KeyBackupRetention < 1 {
		return ErrInvalidBackupRetention
	}

	for _, bridge := range c.Bridges {
		if len(bridge) == 0 {
			return ErrEmptyBridgeLine
		}
	}

	return nil
}
