package node

import (
	"context"
	"time"

	"github.com/onionwire/onionwire/internal/model"
)

// shutdownSignal identifies one of the coordinator's completion signals.
type shutdownSignal int

const (
	signalNetworkStopped shutdownSignal = iota
	signalServerStopped
	signalTimeout
)

// shutdownRun is the per-invocation state of the shutdown coordinator:
// three independently-settable flags combined by
// (networkStopped AND serverStopped) OR timeoutFired, a timer backing the
// timeout flag, and the completion callbacks to run at finalize. Created
// fresh by the first Shutdown call; a second call attaches to it instead
// of starting another run.
type shutdownRun struct {
	networkStopped bool
	serverStopped  bool
	timeoutFired   bool

	timer     *time.Timer
	callbacks []func()
	finalized bool
}

// Shutdown requests a coordinated teardown and returns immediately. The
// optional onComplete callback runs on the event-loop goroutine after the
// finalize step.
//
// Shutdown is idempotent: invoking it while one is pending attaches the
// callback to the pending run instead of starting a second one, and
// exactly one finalize executes per node. It is accepted from every
// lifecycle state, including FatallyFailed, and is safe to call from any
// goroutine - lifecycle listener callbacks included.
func (n *Node) Shutdown(onComplete func()) {
	// Posted from a fresh goroutine so a listener running on the event
	// loop can request shutdown without deadlocking on a full queue.
	go func() {
		if !n.post(func() { n.startShutdown(onComplete) }) {
			// The loop already closed: a previous shutdown finished.
			if onComplete != nil {
				onComplete()
			}
		}
	}()
}

// startShutdown creates the shutdown run and launches its three concurrent
// operations. Event-loop only.
func (n *Node) startShutdown(onComplete func()) {
	if n.sd != nil {
		if n.sd.finalized {
			if onComplete != nil {
				go onComplete()
			}
			return
		}
		if onComplete != nil {
			n.sd.callbacks = append(n.sd.callbacks, onComplete)
		}
		return
	}

	n.sd = &shutdownRun{}
	if onComplete != nil {
		n.sd.callbacks = append(n.sd.callbacks, onComplete)
	}

	previous := n.state
	n.state = StateShuttingDown
	n.generation++
	if n.attemptCancel != nil {
		n.attemptCancel()
	}
	n.logger.Info("shutdown requested", "from", previous.String(), "timeout", n.cfg.ShutdownTimeout)

	timeout := n.cfg.ShutdownTimeout

	// (c) The unconditional timeout: shutdown must never hang, even if
	// both component teardowns do.
	n.sd.timer = time.AfterFunc(timeout, func() {
		n.post(func() { n.onShutdownSignal(signalTimeout) })
	})

	// (a) Stop the network client and signal when its process has exited.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.backend.Stop(ctx); err != nil {
			n.logger.Warn("network client stop failed", "error", err)
		}
		n.post(func() { n.onShutdownSignal(signalNetworkStopped) })
	}()

	// (b) Stop the accept server and release the local socket.
	listener := n.localListener
	n.localListener = nil
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if n.server != nil {
			if err := n.server.Stop(ctx); err != nil {
				n.logger.Warn("accept server stop failed", "error", err)
			}
		}
		if listener != nil {
			_ = listener.Close() //nolint:errcheck // Socket is being discarded
		}
		n.post(func() { n.onShutdownSignal(signalServerStopped) })
	}()
}

// onShutdownSignal records one completion signal and evaluates the
// combinator. Event-loop only.
func (n *Node) onShutdownSignal(sig shutdownSignal) {
	if n.sd == nil || n.sd.finalized {
		return
	}

	switch sig {
	case signalNetworkStopped:
		n.sd.networkStopped = true
	case signalServerStopped:
		n.sd.serverStopped = true
	case signalTimeout:
		n.sd.timeoutFired = true
	}

	if (n.sd.networkStopped && n.sd.serverStopped) || n.sd.timeoutFired {
		n.finalize()
	}
}

// finalize runs the idempotent final step: stop the pending timer, release
// the background worker with a bounded grace period, flip to the terminal
// state, invoke the attached callbacks in order, and close the event loop
// so the node holds no goroutines afterwards. Event-loop only.
func (n *Node) finalize() {
	n.sd.finalized = true
	if n.sd.timer != nil {
		n.sd.timer.Stop()
	}

	if !n.sd.networkStopped || !n.sd.serverStopped {
		// Timed out: abandoning an in-progress teardown is logged, not
		// fatal - the process is exiting anyway.
		n.logger.Warn("shutdown timed out, abandoning component teardown",
			"networkStopped", n.sd.networkStopped,
			"serverStopped", n.sd.serverStopped,
		)
	}

	n.worker.Release(n.cfg.WorkerGrace)
	n.setProxy("")
	n.setPublished(model.NodeAddress{})
	n.state = StateShutDown
	n.logger.Info("shutdown complete")

	for _, cb := range n.sd.callbacks {
		cb()
	}
	n.sd.callbacks = nil

	n.closeLoop()
}
