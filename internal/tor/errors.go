package tor

import "errors"

// Tor transport errors.
//
// Design decision: We define specific error types rather than wrapping all
// errors generically. This allows callers to handle different failure modes
// appropriately (e.g., retry on ErrTransportUnavailable, but fail fast on
// ErrInvalidAddress).
var (
	// ErrTransportUnavailable is returned by outbound connection attempts
	// while no SOCKS proxy is available - the daemon is not bootstrapped
	// yet or a restart is in progress. Retriable: callers should back off
	// and try again rather than treat this as fatal.
	ErrTransportUnavailable = errors.New("transport not ready: no socks proxy available")

	// ErrInvalidAddress is returned when a dial target is not a
	// checksum-valid v3 onion address. This is a caller error and is not
	// retriable.
	ErrInvalidAddress = errors.New("invalid v3 onion address")

	// ErrDaemonNotRunning is returned by operations that require a
	// started daemon.
	ErrDaemonNotRunning = errors.New("tor daemon is not running")

	// ErrControlClosed is returned by control-port operations after the
	// connection has been closed.
	ErrControlClosed = errors.New("control connection closed")

	// ErrCookieAuthUnsupported is returned when the daemon does not offer
	// cookie authentication. The generated torrc always requests it, so
	// this indicates a foreign or misconfigured tor instance.
	ErrCookieAuthUnsupported = errors.New("control port does not support cookie authentication")
)

// ProxyStatus represents the result of verifying the SOCKS proxy.
// The enum allows for easy status reporting and programmatic handling of
// different proxy states.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the proxy is a working Tor SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates the address answered but did not
	// speak SOCKS5. Something else is listening on the expected port.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates no TCP connection could be
	// established. Tor may not be running or the address may be wrong.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the connection attempt timed out.
	// This may be a temporary network issue or an overloaded daemon.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not SOCKS5)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Err returns the appropriate error for this status, or nil if OK.
func (s ProxyStatus) Err() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return errors.New("proxy is not a SOCKS5 proxy")
	case ProxyStatusCannotConnect:
		return errors.New("cannot connect to socks proxy")
	case ProxyStatusTimeout:
		return errors.New("timeout connecting to socks proxy")
	default:
		return errors.New("unknown proxy status")
	}
}
