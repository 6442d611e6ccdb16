package model

import "time"

// RunOutcome describes how a lifecycle run ended (or where it currently is).
type RunOutcome string

// Run outcomes persisted to the peer store.
const (
	// RunOutcomeServing means the node reached the fully-reachable state.
	RunOutcomeServing RunOutcome = "serving"
	// RunOutcomeFailed means the restart budget was exhausted.
	RunOutcomeFailed RunOutcome = "failed"
	// RunOutcomeStopped means the run ended with an explicit shutdown.
	RunOutcomeStopped RunOutcome = "stopped"
)

// RunRecord is the persisted outcome of one node lifecycle run: from the
// first bootstrap attempt until the node is serving, fatally failed, or
// shut down. One row is written per run so operators can audit how often
// bootstrap needed retries and whether the onion identity stayed stable.
type RunRecord struct {
	// ID is the unique identifier of the run in the database.
	ID int64 `json:"id"`

	// StartedAt is when the run's first bootstrap attempt was scheduled.
	StartedAt time.Time `json:"started_at"`

	// NetworkReadyAt is when the anonymizing network finished bootstrapping.
	// Zero if the run never got that far.
	NetworkReadyAt time.Time `json:"network_ready_at,omitempty"`

	// PublishedAt is when the hidden endpoint became externally reachable.
	// Zero if the run never got that far.
	PublishedAt time.Time `json:"published_at,omitempty"`

	// Address is the externally dialable onion address for this run.
	// Zero until the endpoint is published.
	Address NodeAddress `json:"address,omitempty"`

	// BootstrapAttempts counts failed bootstrap/publication attempts.
	// Zero means the first attempt succeeded.
	BootstrapAttempts int `json:"bootstrap_attempts"`

	// Outcome is the terminal state of the run.
	Outcome RunOutcome `json:"outcome"`

	// LastError is the last bootstrap or publication error observed,
	// empty for clean runs.
	LastError string `json:"last_error,omitempty"`
}
