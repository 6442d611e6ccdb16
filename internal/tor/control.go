package tor

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Control protocol constants.
const (
	// controlDefaultTimeout bounds a single control command when the
	// caller's context carries no deadline.
	controlDefaultTimeout = 10 * time.Second

	// eventPollInterval is how often WaitDescriptorUploaded wakes up to
	// check for context cancellation while blocked on the event stream.
	eventPollInterval = 1 * time.Second

	// ed25519KeyPrefix is the key type prefix used by ADD_ONION.
	ed25519KeyPrefix = "ED25519-V3"
)

// OnionService is the result of a successful ADD_ONION command.
type OnionService struct {
	// ServiceID is the onion hostname without the ".onion" suffix.
	ServiceID string

	// KeyBlob is the base64 service key material returned by tor.
	// Only set when tor generated a fresh key (NEW:ED25519-V3); empty
	// when the caller supplied its own key.
	KeyBlob string
}

// Control is a client for the Tor control port. It implements the handful
// of commands the node lifecycle needs: cookie authentication, GETINFO,
// ADD_ONION, HS_DESC event waiting, and SIGNAL.
//
// A Control is safe for use by multiple goroutines, but commands are
// serialized: the control protocol interleaves replies on one stream, so
// one command runs at a time.
type Control struct {
	// conn is the raw control-port connection.
	conn net.Conn

	// reader buffers protocol lines off conn.
	reader *bufio.Reader

	// mu serializes commands on the connection.
	mu sync.Mutex

	// logger is used for protocol-level debug logging.
	logger *slog.Logger

	// closed is set once Close has been called.
	closed bool
}

// ControlOption configures a Control instance.
type ControlOption func(*Control)

// WithControlLogger sets a custom logger for control protocol logging.
func WithControlLogger(logger *slog.Logger) ControlOption {
	return func(c *Control) {
		c.logger = logger
	}
}

// DialControl connects to the control port at the given "host:port" address.
// Call Authenticate before issuing any other command.
func DialControl(ctx context.Context, addr string, opts ...ControlOption) (*Control, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control port %s: %w", addr, err)
	}

	c := &Control{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c, nil
}

// Close closes the control connection. Safe to call more than once.
func (c *Control) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Authenticate performs cookie authentication against the control port.
// It issues PROTOCOLINFO to locate the cookie file, reads the cookie, and
// sends AUTHENTICATE with its hex encoding.
//
// The generated torrc always enables CookieAuthentication, so a daemon
// that does not offer COOKIE auth is a foreign instance we refuse to use.
func (c *Control) Authenticate(ctx context.Context) error {
	lines, err := c.command(ctx, "PROTOCOLINFO 1")
	if err != nil {
		return fmt.Errorf("PROTOCOLINFO failed: %w", err)
	}

	cookiePath := ""
	cookieSupported := false
	for _, line := range lines {
		if !strings.HasPrefix(line, "AUTH ") {
			continue
		}
		if strings.Contains(line, "COOKIE") {
			cookieSupported = true
		}
		// AUTH METHODS=COOKIE,SAFECOOKIE COOKIEFILE="/path/to/cookie"
		if idx := strings.Index(line, `COOKIEFILE="`); idx != -1 {
			rest := line[idx+len(`COOKIEFILE="`):]
			if end := strings.Index(rest, `"`); end != -1 {
				cookiePath = rest[:end]
			}
		}
	}
	if !cookieSupported || cookiePath == "" {
		return ErrCookieAuthUnsupported
	}

	cookie, err := os.ReadFile(cookiePath) //nolint:gosec // Path comes from the daemon we launched
	if err != nil {
		return fmt.Errorf("failed to read auth cookie: %w", err)
	}

	if _, err := c.command(ctx, "AUTHENTICATE "+hex.EncodeToString(cookie)); err != nil {
		return fmt.Errorf("AUTHENTICATE failed: %w", err)
	}

	c.logger.Debug("control port authenticated")
	return nil
}

// GetInfo issues GETINFO for a single key and returns its value with
// surrounding quotes stripped.
func (c *Control) GetInfo(ctx context.Context, key string) (string, error) {
	lines, err := c.command(ctx, "GETINFO "+key)
	if err != nil {
		return "", err
	}

	prefix := key + "="
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return strings.Trim(strings.TrimPrefix(line, prefix), `"`), nil
		}
	}
	return "", fmt.Errorf("GETINFO %s: value missing from reply", key)
}

// BootstrapPhase returns the daemon's bootstrap progress in percent.
// It parses the PROGRESS field of status/bootstrap-phase; 100 means the
// daemon is ready to route traffic.
func (c *Control) BootstrapPhase(ctx context.Context) (int, error) {
	value, err := c.GetInfo(ctx, "status/bootstrap-phase")
	if err != nil {
		return 0, err
	}

	// NOTICE BOOTSTRAP PROGRESS=85 TAG=ap_handshake SUMMARY="..."
	for _, field := range strings.Fields(value) {
		if strings.HasPrefix(field, "PROGRESS=") {
			progress, err := strconv.Atoi(strings.TrimPrefix(field, "PROGRESS="))
			if err != nil {
				return 0, fmt.Errorf("malformed bootstrap progress %q: %w", field, err)
			}
			return progress, nil
		}
	}
	return 0, fmt.Errorf("bootstrap phase missing PROGRESS field: %q", value)
}

// SocksListener returns the daemon's SOCKS listener address ("host:port").
// With "SocksPort auto" in the torrc, this is the only way to learn which
// port the daemon picked.
func (c *Control) SocksListener(ctx context.Context) (string, error) {
	value, err := c.GetInfo(ctx, "net/listeners/socks")
	if err != nil {
		return "", err
	}
	// The value may list several listeners; the first is the primary.
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return "", fmt.Errorf("no socks listener reported")
	}
	return strings.Trim(fields[0], `"`), nil
}

// AddOnion creates a hidden service forwarding the advertised servicePort
// to 127.0.0.1:localPort.
//
// If keyBlob is empty, tor generates a fresh ed25519 key and returns it in
// OnionService.KeyBlob so the caller can persist it; otherwise keyBlob must
// be the base64 blob of a previously persisted key, which keeps the onion
// hostname stable across restarts.
//
// The service is bound to this control connection: it disappears when the
// connection closes, which ties the endpoint's life to the daemon's.
func (c *Control) AddOnion(ctx context.Context, keyBlob string, servicePort, localPort int) (*OnionService, error) {
	keySpec := "NEW:" + ed25519KeyPrefix
	if keyBlob != "" {
		keySpec = ed25519KeyPrefix + ":" + keyBlob
	}

	cmd := fmt.Sprintf("ADD_ONION %s Port=%d,127.0.0.1:%d", keySpec, servicePort, localPort)
	lines, err := c.command(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("ADD_ONION failed: %w", err)
	}

	svc := &OnionService{}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "ServiceID="):
			svc.ServiceID = strings.TrimPrefix(line, "ServiceID=")
		case strings.HasPrefix(line, "PrivateKey="+ed25519KeyPrefix+":"):
			svc.KeyBlob = strings.TrimPrefix(line, "PrivateKey="+ed25519KeyPrefix+":")
		}
	}
	if svc.ServiceID == "" {
		return nil, fmt.Errorf("ADD_ONION reply missing ServiceID")
	}

	return svc, nil
}

// WaitDescriptorUploaded subscribes to HS_DESC events and blocks until the
// first successful descriptor upload for the given service is reported, the
// context is done, or the connection fails.
//
// One upload is enough to consider the endpoint published: remaining
// directory replicas converge on their own, and peers retry lookups.
func (c *Control) WaitDescriptorUploaded(ctx context.Context, serviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControlClosed
	}

	if err := c.sendLocked(ctx, "SETEVENTS HS_DESC"); err != nil {
		return err
	}
	if _, err := c.readReplyLocked(ctx, nil); err != nil {
		return fmt.Errorf("SETEVENTS failed: %w", err)
	}

	// Read the event stream in short slices so cancellation is noticed
	// even while no events arrive.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(eventPollInterval)); err != nil {
			return err
		}
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("control connection failed while waiting for upload: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		c.logger.Debug("control event", "line", line)

		// 650 HS_DESC UPLOADED <ServiceID> UNKNOWN <HsDir> ...
		fields := strings.Fields(line)
		if len(fields) >= 4 && fields[0] == "650" && fields[1] == "HS_DESC" &&
			fields[2] == "UPLOADED" && fields[3] == serviceID {
			// Stop the event stream; failures here don't matter.
			if err := c.sendLocked(ctx, "SETEVENTS"); err == nil {
				_, _ = c.readReplyLocked(ctx, nil) //nolint:errcheck // Best effort unsubscribe
			}
			return nil
		}
	}
}

// Signal sends a SIGNAL command (e.g., "SHUTDOWN") to the daemon.
func (c *Control) Signal(ctx context.Context, name string) error {
	if _, err := c.command(ctx, "SIGNAL "+name); err != nil {
		return fmt.Errorf("SIGNAL %s failed: %w", name, err)
	}
	return nil
}

// command sends one command and returns the payload of the 2xx reply,
// with status codes and separators stripped.
func (c *Control) command(ctx context.Context, cmd string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrControlClosed
	}

	if err := c.sendLocked(ctx, cmd); err != nil {
		return nil, err
	}
	return c.readReplyLocked(ctx, nil)
}

// sendLocked writes one command line. Caller must hold mu.
func (c *Control) sendLocked(ctx context.Context, cmd string) error {
	if err := c.conn.SetWriteDeadline(deadlineFrom(ctx)); err != nil {
		return err
	}
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("control write failed: %w", err)
	}
	return nil
}

// readReplyLocked reads one full reply. Lines are returned without their
// "250-" style prefixes. Asynchronous 650 events that interleave with the
// reply are handed to onEvent (or dropped if nil). Caller must hold mu.
func (c *Control) readReplyLocked(ctx context.Context, onEvent func(string)) ([]string, error) {
	if err := c.conn.SetReadDeadline(deadlineFrom(ctx)); err != nil {
		return nil, err
	}

	var lines []string
	for {
		raw, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("control read failed: %w", err)
		}
		line := strings.TrimRight(raw, "\r\n")
		if len(line) < 4 {
			return nil, fmt.Errorf("malformed control reply: %q", line)
		}

		code, sep, payload := line[:3], line[3], line[4:]

		if code == "650" {
			if onEvent != nil {
				onEvent(line)
			}
			continue
		}

		switch sep {
		case '-':
			lines = append(lines, payload)
		case '+':
			// Multi-line data block, terminated by a lone ".".
			lines = append(lines, payload)
			for {
				dataRaw, err := c.reader.ReadString('\n')
				if err != nil {
					return nil, fmt.Errorf("control read failed: %w", err)
				}
				data := strings.TrimRight(dataRaw, "\r\n")
				if data == "." {
					break
				}
				lines = append(lines, data)
			}
		case ' ':
			if !strings.HasPrefix(code, "2") {
				return nil, fmt.Errorf("control error %s: %s", code, payload)
			}
			if payload != "OK" {
				lines = append(lines, payload)
			}
			return lines, nil
		default:
			return nil, fmt.Errorf("malformed control reply: %q", line)
		}
	}
}

// deadlineFrom derives an absolute deadline from the context, falling back
// to the default command timeout when the context carries none.
func deadlineFrom(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(controlDefaultTimeout)
}
