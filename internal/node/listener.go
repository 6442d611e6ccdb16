package node

import "github.com/onionwire/onionwire/internal/model"

// LifecycleListener observes node stage transitions. All callbacks run on
// the node's event-loop goroutine, in listener registration order, so
// implementations must not block: a slow listener stalls the whole
// lifecycle.
type LifecycleListener interface {
	// OnNetworkReady fires when the network client is bootstrapped and the
	// proxy handle becomes available. It always fires strictly before
	// OnEndpointPublished within one lifecycle run.
	OnNetworkReady()

	// OnEndpointPublished fires when the hidden endpoint is announced and
	// externally reachable at addr.
	OnEndpointPublished(addr model.NodeAddress)

	// OnSetupFailed fires exactly once, when the restart budget is
	// exhausted. The error is a *FatalError.
	OnSetupFailed(err error)
}

// listenerFuncs adapts plain functions to LifecycleListener. Nil fields
// are skipped.
type listenerFuncs struct {
	networkReady      func()
	endpointPublished func(model.NodeAddress)
	setupFailed       func(error)
}

// ListenerFuncs builds a LifecycleListener from individual callbacks,
// any of which may be nil.
func ListenerFuncs(networkReady func(), endpointPublished func(model.NodeAddress), setupFailed func(error)) LifecycleListener {
	return &listenerFuncs{
		networkReady:      networkReady,
		endpointPublished: endpointPublished,
		setupFailed:       setupFailed,
	}
}

func (l *listenerFuncs) OnNetworkReady() {
	if l.networkReady != nil {
		l.networkReady()
	}
}

func (l *listenerFuncs) OnEndpointPublished(addr model.NodeAddress) {
	if l.endpointPublished != nil {
		l.endpointPublished(addr)
	}
}

func (l *listenerFuncs) OnSetupFailed(err error) {
	if l.setupFailed != nil {
		l.setupFailed(err)
	}
}
