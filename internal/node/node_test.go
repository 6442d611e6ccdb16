package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/onionwire/onionwire/internal/config"
	"github.com/onionwire/onionwire/internal/model"
	"github.com/onionwire/onionwire/internal/tor"
)

// testOnionHost is a checksum-valid v3 hostname (all-zero public key).
const testOnionHost = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion"

// testConfig returns a configuration tuned for fast lifecycle tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	cfg.RestartBackoff = 1 * time.Millisecond
	cfg.MaxRestartBackoff = 5 * time.Millisecond
	cfg.ShutdownTimeout = 500 * time.Millisecond
	cfg.WorkerGrace = 50 * time.Millisecond
	return cfg
}

// fakeBackend scripts bootstrap and publication outcomes per attempt.
type fakeBackend struct {
	mu             sync.Mutex
	bootstrapErrs  []error // consumed per attempt; nil entry = success
	publishErrs    []error
	bootstrapCalls int
	publishCalls   int
	stopCalls      int

	// blockBootstrap, when non-nil, makes Bootstrap hang until the
	// channel closes or the context is cancelled.
	blockBootstrap chan struct{}

	// blockStop, when non-nil, makes Stop hang until the channel closes
	// or the context is cancelled.
	blockStop chan struct{}
}

func (b *fakeBackend) Bootstrap(ctx context.Context) (string, error) {
	b.mu.Lock()
	b.bootstrapCalls++
	var err error
	if len(b.bootstrapErrs) > 0 {
		err = b.bootstrapErrs[0]
		b.bootstrapErrs = b.bootstrapErrs[1:]
	}
	block := b.blockBootstrap
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "127.0.0.1:9050", nil
}

func (b *fakeBackend) Publish(ctx context.Context, localPort int) (model.NodeAddress, error) {
	b.mu.Lock()
	b.publishCalls++
	var err error
	if len(b.publishErrs) > 0 {
		err = b.publishErrs[0]
		b.publishErrs = b.publishErrs[1:]
	}
	b.mu.Unlock()

	if err != nil {
		return model.NodeAddress{}, err
	}
	return model.MustNodeAddress(testOnionHost, 9999), nil
}

func (b *fakeBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopCalls++
	block := b.blockStop
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *fakeBackend) calls() (bootstrap, publish, stop int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bootstrapCalls, b.publishCalls, b.stopCalls
}

// fakeAcceptServer accepts and discards connections until stopped.
type fakeAcceptServer struct {
	mu         sync.Mutex
	serveCalls int
	stopCalls  int

	// blockStop, when non-nil, makes Stop hang until the channel closes
	// or the context is cancelled.
	blockStop chan struct{}
}

func (s *fakeAcceptServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.serveCalls++
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		_ = conn.Close()
	}
}

func (s *fakeAcceptServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopCalls++
	block := s.blockStop
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *fakeAcceptServer) calls() (serve, stop int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveCalls, s.stopCalls
}

// recordingListener records lifecycle events in arrival order.
type recordingListener struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (l *recordingListener) OnNetworkReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "ready")
}

func (l *recordingListener) OnEndpointPublished(addr model.NodeAddress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "published:"+addr.String())
}

func (l *recordingListener) OnSetupFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "failed")
	l.errs = append(l.errs, err)
}

func (l *recordingListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) failures() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// waitForState polls until the node reaches the wanted state or the
// deadline expires.
func waitForState(t *testing.T, n *Node, want State, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("node did not reach state %q within %v (currently %q)", want, timeout, n.State())
}

// TestNodeHappyPath tests the Idle through Serving sequence.
func TestNodeHappyPath(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	server := &fakeAcceptServer{}
	listener := &recordingListener{}

	n := New(testConfig(t), backend, server)
	n.AddListener(listener)

	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateServing, 5*time.Second)

	events := listener.snapshot()
	want := []string{"ready", "published:" + testOnionHost + ":9999"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, expected %v", events, want)
	}

	if n.RestartAttempts() != 0 {
		t.Errorf("RestartAttempts() = %d, expected 0", n.RestartAttempts())
	}
	if n.SocksAddr() == "" {
		t.Error("SocksAddr() is empty while serving")
	}
	if n.Address().IsZero() {
		t.Error("Address() is zero while serving")
	}

	serve, _ := server.calls()
	if serve != 1 {
		t.Errorf("accept server received the socket %d times, expected once", serve)
	}

	n.Shutdown(nil)
	waitForState(t, n, StateShutDown, 5*time.Second)
}

// TestNodeStartTwice tests that a second Start is rejected.
func TestNodeStartTwice(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{blockBootstrap: make(chan struct{})}
	n := New(testConfig(t), backend, &fakeAcceptServer{})

	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, expected ErrAlreadyStarted", err)
	}

	n.Shutdown(nil)
	waitForState(t, n, StateShutDown, 5*time.Second)
}

// TestNodeRecoversAfterFailure tests the restart policy with one failure
// followed by success.
func TestNodeRecoversAfterFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		bootstrapErrs: []error{errors.New("simulated bootstrap failure")},
	}
	listener := &recordingListener{}

	n := New(testConfig(t), backend, &fakeAcceptServer{})
	n.AddListener(listener)

	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateServing, 5*time.Second)

	if n.RestartAttempts() != 1 {
		t.Errorf("RestartAttempts() = %d, expected 1", n.RestartAttempts())
	}

	events := listener.snapshot()
	ready, published := 0, 0
	for _, e := range events {
		switch {
		case e == "ready":
			ready++
		case e != "failed":
			published++
		}
	}
	if ready != 1 || published != 1 {
		t.Errorf("events = %v, expected exactly one ready and one published", events)
	}

	bootstrap, _, stop := backend.calls()
	if bootstrap != 2 {
		t.Errorf("bootstrap attempts = %d, expected 2", bootstrap)
	}
	if stop < 1 {
		t.Error("expected teardown between attempts")
	}

	n.Shutdown(nil)
	waitForState(t, n, StateShutDown, 5*time.Second)
}

// TestNodePublicationFailureDrivesRestart tests that a failed publication
// is treated like a bootstrap failure.
func TestNodePublicationFailureDrivesRestart(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		publishErrs: []error{errors.New("simulated publication failure")},
	}
	listener := &recordingListener{}

	n := New(testConfig(t), backend, &fakeAcceptServer{})
	n.AddListener(listener)

	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateServing, 5*time.Second)

	if n.RestartAttempts() != 1 {
		t.Errorf("RestartAttempts() = %d, expected 1", n.RestartAttempts())
	}

	_, publish, _ := backend.calls()
	if publish != 2 {
		t.Errorf("publish attempts = %d, expected 2", publish)
	}

	n.Shutdown(nil)
	waitForState(t, n, StateShutDown, 5*time.Second)
}

// TestNodeFatalAfterBudgetExhausted tests the terminal failure path:
// six consecutive failures against a budget of five.
func TestNodeFatalAfterBudgetExhausted(t *testing.T) {
	t.Parallel()

	failures := make([]error, 6)
	for i := range failures {
		failures[i] = fmt.Errorf("simulated failure %d", i+1)
	}
	backend := &fakeBackend{bootstrapErrs: failures}
	listener := &recordingListener{}

	cfg := testConfig(t)
	cfg.MaxRestartAttempts = 5

	n := New(cfg, backend, &fakeAcceptServer{})
	n.AddListener(listener)

	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateFatallyFailed, 5*time.Second)

	errs := listener.failures()
	if len(errs) != 1 {
		t.Fatalf("OnSetupFailed fired %d times, expected exactly once", len(errs))
	}

	var fatal *FatalError
	if !errors.As(errs[0], &fatal) {
		t.Fatalf("failure error is %T, expected *FatalError", errs[0])
	}
	if fatal.Attempts != 6 {
		t.Errorf("FatalError.Attempts = %d, expected 6", fatal.Attempts)
	}
	if fatal.LastErr == nil || fatal.LastErr.Error() != "bootstrap failed: simulated failure 6" {
		t.Errorf("FatalError.LastErr = %v, expected the final underlying error", fatal.LastErr)
	}

	for _, e := range listener.snapshot() {
		if e == "ready" {
			t.Error("OnNetworkReady fired despite all bootstraps failing")
		}
	}

	// Shutdown is still accepted from the terminal state.
	done := make(chan struct{})
	n.Shutdown(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown from FatallyFailed did not complete")
	}
}

// TestNodeReadyPrecedesPublished tests the notification ordering guarantee
// across a run that includes a restart.
func TestNodeReadyPrecedesPublished(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		bootstrapErrs: []error{errors.New("flap"), nil},
	}
	listener := &recordingListener{}

	n := New(testConfig(t), backend, &fakeAcceptServer{})
	n.AddListener(listener)

	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateServing, 5*time.Second)

	events := listener.snapshot()
	readyAt, publishedAt := -1, -1
	for i, e := range events {
		if e == "ready" && readyAt < 0 {
			readyAt = i
		}
		if e != "ready" && e != "failed" && publishedAt < 0 {
			publishedAt = i
		}
	}
	if readyAt < 0 || publishedAt < 0 || readyAt >= publishedAt {
		t.Errorf("events = %v, expected ready strictly before published", events)
	}

	n.Shutdown(nil)
	waitForState(t, n, StateShutDown, 5*time.Second)
}

// TestNodeShutdownIdempotent tests that concurrent shutdown requests share
// one finalize.
func TestNodeShutdownIdempotent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	server := &fakeAcceptServer{}

	n := New(testConfig(t), backend, server)
	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateServing, 5*time.Second)

	const callers = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	completions := 0

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan struct{})
			n.Shutdown(func() { close(done) })
			<-done
			mu.Lock()
			completions++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if completions != callers {
		t.Errorf("completions = %d, expected %d", completions, callers)
	}

	// One finalize means each component was stopped exactly once.
	_, _, stop := backend.calls()
	if stop != 1 {
		t.Errorf("backend stopped %d times, expected once", stop)
	}
	_, serverStops := server.calls()
	if serverStops != 1 {
		t.Errorf("accept server stopped %d times, expected once", serverStops)
	}
	if got := n.State(); got != StateShutDown {
		t.Errorf("state = %q, expected %q", got, StateShutDown)
	}
}

// TestNodeShutdownTimeout tests that hung component teardowns cannot stall
// shutdown past the timeout.
func TestNodeShutdownTimeout(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{blockStop: make(chan struct{})}
	server := &fakeAcceptServer{blockStop: make(chan struct{})}

	cfg := testConfig(t)
	cfg.ShutdownTimeout = 300 * time.Millisecond
	cfg.WorkerGrace = 20 * time.Millisecond

	n := New(cfg, backend, server)
	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateServing, 5*time.Second)

	start := time.Now()
	done := make(chan struct{})
	n.Shutdown(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown never completed")
	}

	// The margin covers the worker grace period plus scheduling slack.
	if elapsed := time.Since(start); elapsed > cfg.ShutdownTimeout+cfg.WorkerGrace+200*time.Millisecond {
		t.Errorf("shutdown took %v, expected about %v", elapsed, cfg.ShutdownTimeout)
	}
	if got := n.State(); got != StateShutDown {
		t.Errorf("state = %q, expected %q", got, StateShutDown)
	}
}

// TestNodeShutdownBeforeBootstrap tests shutdown while the first bootstrap
// is still in flight.
func TestNodeShutdownBeforeBootstrap(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{blockBootstrap: make(chan struct{})}

	cfg := testConfig(t)
	cfg.ShutdownTimeout = 300 * time.Millisecond

	n := New(cfg, backend, &fakeAcceptServer{})
	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	n.Shutdown(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown never completed")
	}
	if got := n.State(); got != StateShutDown {
		t.Errorf("state = %q, expected %q", got, StateShutDown)
	}
}

// TestNodeShutdownAfterShutdown tests that a late Shutdown still gets its
// callback.
func TestNodeShutdownAfterShutdown(t *testing.T) {
	t.Parallel()

	n := New(testConfig(t), &fakeBackend{}, &fakeAcceptServer{})
	if err := n.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, n, StateServing, 5*time.Second)

	first := make(chan struct{})
	n.Shutdown(func() { close(first) })
	<-first

	second := make(chan struct{})
	n.Shutdown(func() { close(second) })
	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("post-shutdown callback never ran")
	}
}

// TestNodeShutDownReleasesEventLoop tests that a completed shutdown leaves
// no node goroutines behind while the accessors still answer.
func TestNodeShutDownReleasesEventLoop(t *testing.T) {
	// Not parallel: goroutine counting needs a stable runtime around it.

	baseline := runtime.NumGoroutine()

	for i := 0; i < 4; i++ {
		n := New(testConfig(t), &fakeBackend{}, &fakeAcceptServer{})
		if err := n.Start(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitForState(t, n, StateServing, 5*time.Second)

		done := make(chan struct{})
		n.Shutdown(func() { close(done) })
		<-done

		if got := n.State(); got != StateShutDown {
			t.Errorf("State() = %v after shutdown, expected %v", got, StateShutDown)
		}
		if err := n.Start(); !errors.Is(err, ErrShuttingDown) {
			t.Errorf("Start() after shutdown = %v, expected ErrShuttingDown", err)
		}
		if got := n.RestartAttempts(); got != 0 {
			t.Errorf("RestartAttempts() = %d after clean shutdown, expected 0", got)
		}
	}

	deadline := time.After(3 * time.Second)
	for {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("goroutine count after shutdown = %d, baseline was %d",
				runtime.NumGoroutine(), baseline)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// TestNodeConnectWhileUnavailable tests the retriable transport-not-ready
// path of the connector.
func TestNodeConnectWhileUnavailable(t *testing.T) {
	t.Parallel()

	n := New(testConfig(t), &fakeBackend{}, &fakeAcceptServer{})

	addr := model.MustNodeAddress(testOnionHost, 9999)
	_, err := n.Connect(context.Background(), addr)
	if !errors.Is(err, tor.ErrTransportUnavailable) {
		t.Errorf("Connect = %v, expected tor.ErrTransportUnavailable", err)
	}
}

// TestBackoffFor tests the retry delay schedule.
func TestBackoffFor(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.RestartBackoff = 2 * time.Second
	cfg.MaxRestartBackoff = 30 * time.Second
	n := &Node{cfg: cfg}

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
	}
	for _, tc := range testCases {
		if got := n.backoffFor(tc.attempt); got != tc.expected {
			t.Errorf("backoffFor(%d) = %v, expected %v", tc.attempt, got, tc.expected)
		}
	}
}
