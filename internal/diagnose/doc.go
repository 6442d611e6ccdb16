// Package diagnose runs preflight checks for the doctor command: tor
// binary presence, data directory writability, identity state, and
// optional SOCKS proxy reachability.
package diagnose
