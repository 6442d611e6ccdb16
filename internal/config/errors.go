package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoTorBinary is returned when no tor executable is configured.
	ErrNoTorBinary = errors.New("no tor binary configured")

	// ErrNoDataDir is returned when the data directory is empty.
	// The data directory holds the tor state and the service identity;
	// there is no meaningful way to run without one.
	ErrNoDataDir = errors.New("no data directory configured")

	// ErrInvalidServicePort is returned when the advertised service port
	// is outside [1, 65535].
	ErrInvalidServicePort = errors.New("invalid service port: must be in [1, 65535]")

	// ErrInvalidLocalPort is returned when the local listener port is
	// negative or above 65535. Zero is valid and means "pick a free port".
	ErrInvalidLocalPort = errors.New("invalid local port: must be 0 (ephemeral) or in [1, 65535]")

	// ErrInvalidRestartBudget is returned when the restart budget is not
	// positive. A budget of zero would make every transient bootstrap
	// failure fatal.
	ErrInvalidRestartBudget = errors.New("invalid restart budget: must be at least 1")

	// ErrInvalidBackoff is returned when a retry backoff is negative.
	ErrInvalidBackoff = errors.New("invalid restart backoff: must be non-negative")

	// ErrInvalidShutdownTimeout is returned when the shutdown timeout is
	// not positive. Shutdown relies on the timeout to guarantee it never
	// hangs; disabling it is not supported.
	ErrInvalidShutdownTimeout = errors.New("invalid shutdown timeout: must be positive")

	// ErrInvalidWorkerGrace is returned when the worker grace period is
	// negative. Zero is valid and means "abandon in-flight tasks at once".
	ErrInvalidWorkerGrace = errors.New("invalid worker grace period: must be non-negative")

	// ErrInvalidTimeout is returned when a bootstrap, publish, or dial
	// timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidBackupRetention is returned when the key backup retention
	// count is not positive.
	ErrInvalidBackupRetention = errors.New("invalid key backup retention: must be at least 1")

	// ErrEmptyBridgeLine is returned when the bridge list contains an
	// empty entry. Bridge lines are passed through to tor unmodified, and
	// an empty line would corrupt the generated torrc.
	ErrEmptyBridgeLine = errors.New("bridge list contains an empty line")
)
