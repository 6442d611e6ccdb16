package node

// State is a stage in the node lifecycle.
//
// The happy path is Idle → Bootstrapping → NetworkReady → Publishing →
// Serving. Recoverable failures detour through Restarting back to
// Bootstrapping; exhausting the restart budget lands in FatallyFailed.
// A shutdown request is accepted from every state, including
// FatallyFailed, and moves through ShuttingDown to ShutDown.
type State int

const (
	// StateIdle is the initial state before Start is called.
	StateIdle State = iota

	// StateBootstrapping means a network-client bootstrap attempt is in
	// flight on the background worker.
	StateBootstrapping

	// StateNetworkReady means the network client is bootstrapped and the
	// proxy handle is available, but no hidden endpoint exists yet.
	StateNetworkReady

	// StatePublishing means the hidden endpoint has been requested and the
	// node is waiting for the network to announce it.
	StatePublishing

	// StateServing means the endpoint is published and reachable; the
	// accept server owns the local socket.
	StateServing

	// StateRestarting means a recoverable failure occurred and the node is
	// tearing down before the next bootstrap attempt.
	StateRestarting

	// StateFatallyFailed is terminal: the restart budget is exhausted and
	// only a shutdown request is still accepted.
	StateFatallyFailed

	// StateShuttingDown means a shutdown is pending and the coordinator is
	// waiting for its completion signals.
	StateShuttingDown

	// StateShutDown is terminal: the finalize step has run.
	StateShutDown
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateNetworkReady:
		return "network ready"
	case StatePublishing:
		return "publishing"
	case StateServing:
		return "serving"
	case StateRestarting:
		return "restarting"
	case StateFatallyFailed:
		return "fatally failed"
	case StateShuttingDown:
		return "shutting down"
	case StateShutDown:
		return "shut down"
	default:
		return "unknown"
	}
}
