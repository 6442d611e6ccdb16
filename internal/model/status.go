package model

import "time"

// Peer is a remote node this node has dialed or learned about.
// Rows are maintained by the peer store; dial counters let operators spot
// peers whose hidden endpoints have gone stale.
type Peer struct {
	// Address is the peer's onion address.
	Address NodeAddress `json:"address"`

	// FirstSeen is when the peer was first recorded.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is when the peer was last dialed or updated.
	LastSeen time.Time `json:"last_seen"`

	// DialCount is the total number of outbound connection attempts.
	DialCount int `json:"dial_count"`

	// DialFailures is the number of attempts that did not produce a stream.
	DialFailures int `json:"dial_failures"`

	// LastOutcome is "ok" or the error string of the most recent dial.
	LastOutcome string `json:"last_outcome,omitempty"`
}

// NodeStatus is a point-in-time snapshot of the node assembled for the
// status command. It is a pure data carrier; the report package renders it
// as text, JSON, or Markdown.
type NodeStatus struct {
	// GeneratedAt is when this snapshot was assembled.
	GeneratedAt time.Time `json:"generated_at"`

	// OnionHost is the node's own hidden-service hostname, derived from the
	// persisted identity key. Empty when no identity exists yet.
	OnionHost string `json:"onion_host,omitempty"`

	// ServicePort is the externally advertised service port.
	ServicePort int `json:"service_port"`

	// HasIdentity reports whether a service key exists on disk.
	HasIdentity bool `json:"has_identity"`

	// KeyBackups is the number of rolling key backups currently retained.
	KeyBackups int `json:"key_backups"`

	// LatestRun is the most recent lifecycle run, nil if none recorded.
	LatestRun *RunRecord `json:"latest_run,omitempty"`

	// Runs is the recent run history, newest first.
	Runs []RunRecord `json:"runs,omitempty"`

	// Peers is the known peer list, most recently seen first.
	Peers []Peer `json:"peers,omitempty"`
}
