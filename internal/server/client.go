package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"
)

// Ping sends a ping frame over conn and waits for the matching pong,
// returning the round-trip time. The context deadline bounds the exchange;
// without one the connection's own deadlines apply.
func Ping(ctx context.Context, conn net.Conn, payload []byte) (time.Duration, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return 0, fmt.Errorf("failed to set deadline: %w", err)
		}
		defer conn.SetDeadline(time.Time{}) //nolint:errcheck // Best effort reset
	}

	start := time.Now()
	if err := WriteFrame(conn, Frame{Type: FramePing, Payload: payload}); err != nil {
		return 0, err
	}

	reply, err := ReadFrame(conn)
	if err != nil {
		return 0, fmt.Errorf("failed to read pong: %w", err)
	}
	rtt := time.Since(start)

	if reply.Type != FramePong {
		return 0, fmt.Errorf("expected pong, got frame type %#x", byte(reply.Type))
	}
	if !bytes.Equal(reply.Payload, payload) {
		return 0, fmt.Errorf("pong payload does not match ping")
	}
	return rtt, nil
}
