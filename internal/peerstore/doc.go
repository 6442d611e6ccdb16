// Package peerstore provides SQLite-based storage for known peers and
// node lifecycle run history.
package peerstore
