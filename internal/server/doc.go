// Package server implements the accept loop behind the hidden endpoint:
// a minimal length-prefixed frame protocol with a ping/pong control frame.
// The node hands it the local socket once the endpoint is published; the
// server owns accepting, framing, and teardown from then on.
package server
