// Package log provides secure logging utilities for onionwire.
//
// The transport layer handles material that must never reach a log file:
// the node's ed25519 service key (which IS the hidden-service identity),
// control-port authentication cookies, and bridge relay lines whose
// fingerprints reveal the operator's bootstrap path. SecureHandler wraps
// any slog.Handler and redacts such values before records are emitted.
//
// Design decision: We use a handler wrapper rather than a custom logger
// because it integrates seamlessly with standard slog APIs and works with
// any underlying handler (text, JSON, etc.).
package log
