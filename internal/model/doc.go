// Package model defines the core data structures used throughout onionwire.
//
// This package contains the following main types:
//   - NodeAddress: An immutable onion-service address (host + port) of a peer
//   - RunRecord: The persisted outcome of one node lifecycle run
//   - NodeStatus: A point-in-time snapshot rendered by the status writers
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. Multiple packages (node, tor, peerstore, report) need to use
// these types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for status output and
// database storage.
package model
