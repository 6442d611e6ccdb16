package tor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/proxy"

	"github.com/onionwire/onionwire/internal/model"
)

// Dialer opens outbound connections to peers' hidden endpoints through the
// daemon's SOCKS proxy.
//
// Every connection uses a fresh stream-isolation token as its SOCKS
// credentials: Tor's IsolateSOCKSAuth (on by default) then routes
// connections with different credentials over independent circuits, so
// unrelated connections cannot be correlated by a malicious relay. This is
// a privacy requirement, not an optimization - tokens are never reused.
//
// The SOCKS address is read through a snapshot function on every call
// rather than cached, because the proxy can disappear mid-restart; the node
// goroutine is the single writer of that address.
type Dialer struct {
	// socksAddr returns the current SOCKS proxy address, or an empty
	// string while the transport is unavailable.
	socksAddr func() string

	// timeout bounds one connection attempt when the caller's context
	// carries no deadline.
	timeout time.Duration

	// logger is used for dial logging.
	logger *slog.Logger
}

// DialerOption configures a Dialer instance.
type DialerOption func(*Dialer)

// WithDialTimeout sets the default timeout for one connection attempt.
func WithDialTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		d.timeout = timeout
	}
}

// WithDialerLogger sets a custom logger for dial logging.
func WithDialerLogger(logger *slog.Logger) DialerOption {
	return func(d *Dialer) {
		d.logger = logger
	}
}

// NewDialer creates a Dialer reading the SOCKS proxy address through the
// given snapshot function. The function is consulted once per Connect call
// and must be safe for concurrent use.
func NewDialer(socksAddr func() string, opts ...DialerOption) *Dialer {
	d := &Dialer{
		socksAddr: socksAddr,
		timeout:   2 * time.Minute,
	}

	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d
}

// Connect opens a new connection to the peer's hidden endpoint.
//
// It returns ErrInvalidAddress if the target is not a checksum-valid v3
// onion address, and ErrTransportUnavailable if no SOCKS proxy is currently
// available - the latter is retriable and expected during bootstrap and
// restarts.
//
// Connection establishment can take tens of seconds (circuit building plus
// a rendezvous handshake); the attempt runs off the calling goroutine and
// honors ctx cancellation.
func (d *Dialer) Connect(ctx context.Context, addr model.NodeAddress) (net.Conn, error) {
	if addr.IsZero() || !IsValidV3Address(addr.Host()) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr.Host())
	}

	// Snapshot the proxy address once; it must not be cached beyond this
	// attempt because a restart can invalidate it at any time.
	socks := d.socksAddr()
	if socks == "" {
		return nil, ErrTransportUnavailable
	}

	// Fresh isolation token per connection. The token doubles as SOCKS
	// username and password; tor only inspects it for isolation grouping.
	token := uuid.NewString()
	auth := &proxy.Auth{User: token, Password: token}

	socksDialer, err := proxy.SOCKS5("tcp", socks, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.logger.Debug("dialing peer", "addr", addr.String(), "isolation", token)

	// proxy.Dialer has no context support; dial in a goroutine so we can
	// respect cancellation. If the context fires first, the goroutine
	// closes the late connection when it eventually completes.
	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := socksDialer.Dial("tcp", addr.String())
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr.String(), result.err)
		}
		return result.conn, nil
	case <-ctx.Done():
		go func() {
			if result := <-resultCh; result.conn != nil {
				_ = result.conn.Close() //nolint:errcheck // Abandoned connection
			}
		}()
		return nil, ctx.Err()
	}
}
