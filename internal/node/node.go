package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/model"
	"github.com/onionwire/onionwire/internal/tor"
)

// eventQueueSize buffers lifecycle events so background goroutines posting
// completions rarely block on the event loop.
const eventQueueSize = 16

// AcceptServer is the external collaborator that owns the local socket
// once the hidden endpoint is published. The node hands it the listener
// exactly once per lifecycle run.
type AcceptServer interface {
	// Serve accepts and frames inbound connections until the listener is
	// closed. It blocks, so the node runs it on its own goroutine.
	Serve(listener net.Listener) error

	// Stop releases the server's resources, waiting for in-flight
	// connections up to the context deadline.
	Stop(ctx context.Context) error
}

// Node sequences the transport lifecycle: bootstrap the network client on
// the background worker, publish the hidden endpoint, hand the socket to
// the accept server, restart on recoverable failures within the budget,
// and coordinate shutdown.
//
// All state transitions and listener notifications run on one event-loop
// goroutine. Public methods post into that loop; blocking operations run
// on the Worker and post their completions back. Lifecycle listener
// callbacks therefore must not call blocking Node methods such as State -
// Shutdown is the one call that is safe from anywhere, including
// listeners.
type Node struct {
	cfg     *config.Config
	backend Backend
	server  AcceptServer
	logger  *slog.Logger
	worker  *Worker
	dialer  *tor.Dialer

	events chan func()

	// postMu guards loopClosed and finalAttempts: the event loop closes at
	// finalize, and posts arriving after that must not hit a closed channel.
	postMu        sync.Mutex
	loopClosed    bool
	finalAttempts int

	// proxyMu guards the proxy handle and published address: written only
	// by the event loop, read by connector calls on any goroutine.
	proxyMu   sync.RWMutex
	socksAddr string
	published model.NodeAddress

	// Everything below is owned by the event-loop goroutine.
	state         State
	generation    int
	attempts      int
	lastErr       error
	listeners     []LifecycleListener
	localListener net.Listener
	attemptCancel context.CancelFunc
	sd            *shutdownRun
}

// Option configures a Node instance.
type Option func(*Node)

// WithLogger sets a custom logger for lifecycle logging.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		n.logger = logger
	}
}

// New creates a Node and starts its event loop. The backend performs the
// actual network operations; the server takes ownership of the local
// socket once the endpoint is published.
func New(cfg *config.Config, backend Backend, server AcceptServer, opts ...Option) *Node {
	n := &Node{
		cfg:     cfg,
		backend: backend,
		server:  server,
		events:  make(chan func(), eventQueueSize),
		state:   StateIdle,
	}

	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}

	n.worker = NewWorker(n.logger)
	n.dialer = tor.NewDialer(n.SocksAddr,
		tor.WithDialTimeout(cfg.DialTimeout),
		tor.WithDialerLogger(n.logger),
	)

	go n.run()
	return n
}

// run is the event loop. It exits when finalize closes the channel,
// after draining the events still buffered; those find the terminal
// state and are dropped by their own guards.
func (n *Node) run() {
	for fn := range n.events {
		fn()
	}
}

// post delivers fn to the event loop. It reports false once the loop has
// closed at finalize; callers answer from terminal-state snapshots then.
func (n *Node) post(fn func()) bool {
	n.postMu.Lock()
	defer n.postMu.Unlock()
	if n.loopClosed {
		return false
	}
	n.events <- fn
	return true
}

// closeLoop snapshots the terminal counters and closes the event channel
// so the loop goroutine can exit. Event-loop only, once, from finalize.
func (n *Node) closeLoop() {
	n.postMu.Lock()
	n.finalAttempts = n.attempts
	n.loopClosed = true
	close(n.events)
	n.postMu.Unlock()
}

// AddListener registers a lifecycle listener. Listeners are notified in
// registration order on the event-loop goroutine. Listeners added after
// shutdown completes are never notified.
func (n *Node) AddListener(l LifecycleListener) {
	n.post(func() {
		n.listeners = append(n.listeners, l)
	})
}

// Start begins the lifecycle: the first bootstrap attempt is queued on the
// background worker and Start returns immediately. It returns
// ErrAlreadyStarted when the node has left the idle state.
func (n *Node) Start() error {
	errCh := make(chan error, 1)
	posted := n.post(func() {
		if n.sd != nil {
			errCh <- ErrShuttingDown
			return
		}
		if n.state != StateIdle {
			errCh <- ErrAlreadyStarted
			return
		}
		n.state = StateBootstrapping
		n.beginBootstrap()
		errCh <- nil
	})
	if !posted {
		return ErrShuttingDown
	}
	return <-errCh
}

// State reports the current lifecycle state. Must not be called from a
// lifecycle listener callback.
func (n *Node) State() State {
	reply := make(chan State, 1)
	if !n.post(func() { reply <- n.state }) {
		return StateShutDown
	}
	return <-reply
}

// RestartAttempts reports the consecutive-failure counter.
func (n *Node) RestartAttempts() int {
	reply := make(chan int, 1)
	if !n.post(func() { reply <- n.attempts }) {
		n.postMu.Lock()
		defer n.postMu.Unlock()
		return n.finalAttempts
	}
	return <-reply
}

// SocksAddr returns the current proxy address, or an empty string while
// the network client is not bootstrapped. Safe from any goroutine; the
// value must not be cached beyond one connection attempt.
func (n *Node) SocksAddr() string {
	n.proxyMu.RLock()
	defer n.proxyMu.RUnlock()
	return n.socksAddr
}

// Address returns the published hidden-endpoint address, or the zero
// value while unpublished.
func (n *Node) Address() model.NodeAddress {
	n.proxyMu.RLock()
	defer n.proxyMu.RUnlock()
	return n.published
}

// Connect opens an outbound connection to a peer's hidden endpoint with a
// fresh routing-isolation token. It returns tor.ErrTransportUnavailable
// while the proxy is down (retriable) and tor.ErrInvalidAddress for
// malformed targets.
func (n *Node) Connect(ctx context.Context, addr model.NodeAddress) (net.Conn, error) {
	return n.dialer.Connect(ctx, addr)
}

// setProxy updates the shared proxy handle. Event-loop only.
func (n *Node) setProxy(socksAddr string) {
	n.proxyMu.Lock()
	n.socksAddr = socksAddr
	n.proxyMu.Unlock()
}

// setPublished updates the shared published address. Event-loop only.
func (n *Node) setPublished(addr model.NodeAddress) {
	n.proxyMu.Lock()
	n.published = addr
	n.proxyMu.Unlock()
}

// beginBootstrap queues one bootstrap attempt on the worker. Event-loop
// only.
func (n *Node) beginBootstrap() {
	gen := n.generation
	ctx, cancel := context.WithCancel(context.Background())
	n.attemptCancel = cancel

	err := n.worker.Submit(func() {
		socksAddr, err := n.backend.Bootstrap(ctx)
		n.post(func() { n.onBootstrapDone(gen, socksAddr, err) })
	})
	if err != nil {
		// Worker released: a shutdown won the race.
		cancel()
	}
}

// onBootstrapDone handles a bootstrap completion. Event-loop only.
func (n *Node) onBootstrapDone(gen int, socksAddr string, err error) {
	if n.stale(gen) {
		n.logger.Debug("dropping stale bootstrap completion", "generation", gen)
		return
	}

	if err != nil {
		n.handleFailure(fmt.Errorf("bootstrap failed: %w", err))
		return
	}

	n.setProxy(socksAddr)
	n.state = StateNetworkReady
	n.logger.Info("network client ready", "socksAddr", socksAddr, "attempt", n.attempts+1)
	for _, l := range n.listeners {
		l.OnNetworkReady()
	}

	// The loopback listener must exist before publication: the endpoint
	// mapping targets its port.
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", n.cfg.LocalPort))
	if err != nil {
		n.handleFailure(fmt.Errorf("failed to bind local listener: %w", err))
		return
	}
	n.localListener = listener
	localPort := listener.Addr().(*net.TCPAddr).Port

	n.state = StatePublishing
	n.beginPublish(gen, localPort)
}

// beginPublish queues the publication on the worker. Event-loop only.
func (n *Node) beginPublish(gen int, localPort int) {
	ctx, cancel := context.WithCancel(context.Background())
	prevCancel := n.attemptCancel
	n.attemptCancel = func() {
		cancel()
		if prevCancel != nil {
			prevCancel()
		}
	}

	err := n.worker.Submit(func() {
		addr, err := n.backend.Publish(ctx, localPort)
		n.post(func() { n.onPublishDone(gen, addr, err) })
	})
	if err != nil {
		cancel()
	}
}

// onPublishDone handles a publication completion. Event-loop only.
//
// A restart or shutdown initiated for a later generation must silence
// this callback: no stale publication may fire after the node moved on.
func (n *Node) onPublishDone(gen int, addr model.NodeAddress, err error) {
	if n.stale(gen) {
		n.logger.Debug("dropping stale publication completion", "generation", gen)
		return
	}

	if err != nil {
		n.closeLocalListener()
		n.handleFailure(fmt.Errorf("endpoint publication failed: %w", err))
		return
	}

	n.setPublished(addr)
	n.state = StateServing
	n.logger.Info("hidden endpoint published", "addr", addr.String())

	// Hand the socket to the accept server exactly once; it owns the
	// accept loop from here.
	listener := n.localListener
	go func() {
		if serveErr := n.server.Serve(listener); serveErr != nil {
			n.logger.Debug("accept server stopped", "error", serveErr)
		}
	}()

	for _, l := range n.listeners {
		l.OnEndpointPublished(addr)
	}
}

// stale reports whether a completion belongs to a superseded attempt or
// arrived after shutdown began. Event-loop only.
func (n *Node) stale(gen int) bool {
	return gen != n.generation || n.sd != nil || n.state == StateFatallyFailed || n.state == StateShutDown
}

// handleFailure drives the restart policy for a recoverable bootstrap or
// publication failure. Event-loop only.
func (n *Node) handleFailure(err error) {
	n.attempts++
	n.lastErr = err
	n.setProxy("")
	n.setPublished(model.NodeAddress{})

	if n.attempts <= n.cfg.MaxRestartAttempts {
		n.state = StateRestarting
		n.generation++
		gen := n.generation
		backoff := n.backoffFor(n.attempts)
		n.logger.Warn("recoverable transport failure, retrying",
			"attempt", n.attempts,
			"maxAttempts", n.cfg.MaxRestartAttempts,
			"backoff", backoff,
			"error", err,
		)

		submitErr := n.worker.Submit(func() {
			// Tear down leftovers of the failed attempt before retrying;
			// the backoff keeps a flapping process from busy-looping.
			stopCtx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
			if stopErr := n.backend.Stop(stopCtx); stopErr != nil {
				n.logger.Warn("teardown before retry failed", "error", stopErr)
			}
			cancel()
			time.Sleep(backoff)
			n.post(func() { n.onRetryReady(gen) })
		})
		if submitErr != nil {
			n.logger.Debug("retry dropped, worker released")
		}
		return
	}

	// Budget exhausted: terminal. Tear down partially started resources
	// best-effort, then surface exactly one operator-facing failure.
	n.state = StateFatallyFailed
	fatal := &FatalError{Attempts: n.attempts, LastErr: err}
	n.logger.Error("restart budget exhausted, node fatally failed",
		"attempts", fatal.Attempts,
		"error", fatal.LastErr,
	)

	if submitErr := n.worker.Submit(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
		defer cancel()
		if stopErr := n.backend.Stop(stopCtx); stopErr != nil {
			n.logger.Warn("teardown after fatal failure failed", "error", stopErr)
		}
	}); submitErr != nil {
		n.logger.Debug("fatal-failure teardown dropped, worker released")
	}

	for _, l := range n.listeners {
		l.OnSetupFailed(fatal)
	}
}

// onRetryReady starts the next bootstrap attempt after the backoff.
// Event-loop only.
func (n *Node) onRetryReady(gen int) {
	if n.stale(gen) {
		return
	}
	n.state = StateBootstrapping
	n.beginBootstrap()
}

// backoffFor returns the delay before retry number attempt, doubling per
// consecutive failure up to the configured cap.
func (n *Node) backoffFor(attempt int) time.Duration {
	backoff := n.cfg.RestartBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= n.cfg.MaxRestartBackoff {
			return n.cfg.MaxRestartBackoff
		}
	}
	if backoff > n.cfg.MaxRestartBackoff {
		return n.cfg.MaxRestartBackoff
	}
	return backoff
}

// closeLocalListener closes the loopback listener if the accept server
// does not own it yet. Event-loop only.
func (n *Node) closeLocalListener() {
	if n.localListener != nil {
		_ = n.localListener.Close() //nolint:errcheck // Listener is being discarded
		n.localListener = nil
	}
}
