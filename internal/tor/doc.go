// Package tor drives the Tor daemon that anonymizes all of onionwire's
// traffic.
//
// It provides four pieces:
//   - Daemon: launches and supervises a tor process with a generated torrc,
//     waits for it to bootstrap, and tears it down on request
//   - Control: a minimal control-port client (cookie authentication,
//     GETINFO, ADD_ONION, HS_DESC events, SIGNAL)
//   - Dialer: outbound SOCKS5 connections to peers' onion addresses with
//     per-connection stream isolation
//   - onion address helpers: v3 checksum validation and address derivation
//     from ed25519 public keys
//
// Design decision: The daemon launcher and control client speak the raw
// control protocol rather than going through a wrapper library because the
// node needs launch features (bridge lines, a persistent DataDirectory,
// cookie-authenticated ADD_ONION, observable bootstrap progress) that no
// maintained wrapper exposes together. The protocol is line-oriented and
// small; hand-rolling it keeps the failure surface inspectable.
//
// The package is policy-free: restart budgets, backoff, and lifecycle
// sequencing live in the node package. Everything here is designed for
// dependency injection - create a Daemon or Dialer and pass it to the
// components that need it rather than using global state.
package tor
