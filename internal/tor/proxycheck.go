package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// checkProxyTimeout is the timeout for verifying the SOCKS proxy.
// We use a short timeout here because this is just a local connectivity
// check, not an actual request through the network.
const checkProxyTimeout = 2 * time.Second

// SOCKS5 protocol constants.
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthNoAccept = 0xFF
	socks5CmdConnect   = 0x01
	socks5AddrDomain   = 0x03
)

// checkTestOnion is a synthetic .onion address used for SOCKS5 verification.
// This is intentionally a non-existent address - we only need to verify the
// proxy responds to SOCKS5 CONNECT requests, not that the connection
// succeeds. Using a fake address avoids any interaction with real services.
const checkTestOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"

// CheckProxy verifies that a SOCKS5 proxy is running at the given address.
//
// The check performs a real SOCKS5 protocol handshake to verify:
// 1. The listener speaks SOCKS5
// 2. It accepts connections without authentication
// 3. It handles .onion domain connection requests
//
// Security note: This is more robust than checking banner strings, as a
// fake proxy cannot easily mimic proper SOCKS5 protocol behavior.
func CheckProxy(ctx context.Context, proxyAddr string) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	// Step 1: SOCKS5 version negotiation.
	// Client sends: version + num auth methods + auth methods.
	// We offer no authentication (0x00) only.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	// Server responds: version + selected auth method.
	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}

	if authResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	if authResp[1] == socks5AuthNoAccept || authResp[1] != socks5AuthNone {
		// Tor's SOCKS port accepts unauthenticated clients; anything else
		// is some other service.
		return ProxyStatusWrongType
	}

	// Step 2: Verify the proxy processes connection requests.
	// We send a CONNECT to a synthetic .onion address; the proxy should
	// respond (even with a failure code for the non-existent host). This
	// proves it actually proxies, not just accepts handshakes.
	testPort := uint16(80)
	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrDomain,
		byte(len(checkTestOnion)),
	}
	connectReq = append(connectReq, []byte(checkTestOnion)...)
	connectReq = append(connectReq, byte(testPort>>8), byte(testPort&0xFF))

	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	// Read response header: version + reply + reserved + addr type.
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}

	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}

	// Any reply (success or a failure code like "host unreachable" for the
	// synthetic address) means the proxy processed the SOCKS5 request.
	return ProxyStatusOK
}
