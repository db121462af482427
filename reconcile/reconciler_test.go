package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/jamyx/audio"
	"github.com/opd-ai/jamyx/audio/memgraph"
	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/graph"
	"github.com/opd-ai/jamyx/state"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler records timers and fires them on demand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every pending timer.
func (s *fakeScheduler) fire() int {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	n := 0
	for _, t := range timers {
		if t.stopped {
			continue
		}
		t.fn()
		n++
	}
	return n
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

type fixture struct {
	srv   *memgraph.Server
	store *state.Store
	sched *fakeScheduler
	r     *Reconciler
}

func newFixture(t *testing.T, desired map[string][]string) *fixture {
	t.Helper()

	cfg := config.New()
	cfg.Connections = graph.FromMap(desired)
	store := state.NewStore(cfg)

	srv := memgraph.New("jamyx", memgraph.WithBufferSize(4))
	for _, name := range []string{"a:out", "b:out"} {
		_, err := srv.AddPort(name, audio.IsOutput)
		require.NoError(t, err)
	}
	for _, name := range []string{"x:in", "y:in", "z:in"} {
		_, err := srv.AddPort(name, audio.IsInput)
		require.NoError(t, err)
	}

	sched := &fakeScheduler{}
	r := New(srv, store, Options{Scheduler: sched})
	require.NoError(t, srv.SetEventHandler(r))
	require.NoError(t, srv.Activate())

	return &fixture{srv: srv, store: store, sched: sched, r: r}
}

func edgeSet(edges []graph.Edge) map[graph.Edge]bool {
	set := make(map[graph.Edge]bool, len(edges))
	for _, e := range edges {
		set[e] = true
	}
	return set
}

func TestConflictRetriedExactlyOnce(t *testing.T) {
	f := newFixture(t, map[string][]string{"a:out": {"x:in"}})
	f.srv.RejectConnect("a:out", "x:in", 1)

	try := TryConnection{Connect: true, Output: "a:out", Input: "x:in"}
	f.r.process(try)

	queued := f.r.queue.snapshot()
	require.Len(t, queued, 1)
	assert.Equal(t, RetryAfter{Delay: DefaultRetryDelay, Signal: try}, queued[0])

	f.r.drain()
	timers := f.sched.pending()
	require.Len(t, timers, 1)
	assert.Equal(t, 100*time.Millisecond, timers[0].delay)
	assert.False(t, f.srv.IsConnected("a:out", "x:in"))

	require.Equal(t, 1, f.sched.fire())
	f.r.drain()

	assert.True(t, f.srv.IsConnected("a:out", "x:in"))
	assert.Empty(t, f.sched.pending())
	assert.Zero(t, f.r.Pending())
}

func TestDisconnectOfNonexistentEdgeNotRetried(t *testing.T) {
	f := newFixture(t, nil)

	f.r.process(TryConnection{Connect: false, Output: "a:out", Input: "x:in"})

	assert.Empty(t, f.r.queue.snapshot())
	assert.Empty(t, f.sched.pending())
}

func TestAlreadyConnectedNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.srv.Connect("a:out", "x:in"))
	f.r.drain()

	f.r.process(TryConnection{Connect: true, Output: "a:out", Input: "x:in"})

	assert.Empty(t, f.r.queue.snapshot())
	assert.Empty(t, f.sched.pending())
}

func TestTryConnectionRequiresBothPorts(t *testing.T) {
	f := newFixture(t, nil)

	f.r.process(TryConnection{Connect: true, Output: "missing:out", Input: "x:in"})
	f.r.process(TryConnection{Connect: true, Output: "x:in", Input: "a:out"})

	assert.Empty(t, f.srv.Edges())
	assert.Empty(t, f.r.queue.snapshot())
}

func TestCheckConnectionRestoresDesiredEdge(t *testing.T) {
	f := newFixture(t, map[string][]string{"a:out": {"x:in"}})
	require.NoError(t, f.srv.Connect("a:out", "x:in"))
	f.r.drain()

	// Someone removes a desired edge and adds an undesired one.
	require.NoError(t, f.srv.Disconnect("a:out", "x:in"))
	require.NoError(t, f.srv.Connect("b:out", "y:in"))
	f.r.drain()

	assert.True(t, f.srv.IsConnected("a:out", "x:in"))
	assert.False(t, f.srv.IsConnected("b:out", "y:in"))
}

func TestCheckConnectionAgreementIsNoop(t *testing.T) {
	f := newFixture(t, map[string][]string{"a:out": {"x:in"}})

	f.r.process(CheckConnection{Output: "b:out", Input: "y:in", Connected: false})

	assert.Empty(t, f.r.queue.snapshot())
}

func TestDisconnectAllSuspendsChecks(t *testing.T) {
	f := newFixture(t, map[string][]string{"a:out": {"x:in"}})
	require.NoError(t, f.srv.Connect("a:out", "x:in"))
	require.NoError(t, f.srv.Connect("b:out", "y:in"))
	f.r.drain()

	f.r.process(DisconnectAll{})

	assert.False(t, f.r.checkEnabled)
	assert.Empty(t, f.srv.Edges())

	queued := f.r.queue.snapshot()
	require.Len(t, queued, 3)
	assert.IsType(t, CheckConnection{}, queued[0])
	assert.IsType(t, CheckConnection{}, queued[1])
	assert.Equal(t, SetConnectionCheck{Enabled: true}, queued[2])

	f.r.drain()
	assert.True(t, f.r.checkEnabled)
	// The suspended checks did not reconnect the desired edge.
	assert.Empty(t, f.srv.Edges())
}

func TestDisconnectAllThenReconnectConverges(t *testing.T) {
	desired := map[string][]string{
		"a:out": {"x:in", "y:in"},
		"b:out": {"z:in"},
	}
	f := newFixture(t, desired)
	require.NoError(t, f.srv.Connect("b:out", "x:in"))
	require.NoError(t, f.srv.Connect("a:out", "z:in"))
	f.r.drain()

	f.r.Start()
	f.r.drain()

	want := f.store.Load().Config.Connections
	assert.Equal(t, edgeSet(want.Edges()), edgeSet(f.srv.Edges()))
	assert.True(t, f.r.checkEnabled)
}

func TestGraphRecoveredResynchronizes(t *testing.T) {
	f := newFixture(t, map[string][]string{"a:out": {"x:in"}})
	f.r.Start()
	f.r.drain()
	require.True(t, f.srv.IsConnected("a:out", "x:in"))

	f.srv.Restart()
	assert.Empty(t, f.srv.Edges())
	f.r.drain()

	assert.True(t, f.srv.IsConnected("a:out", "x:in"))
}

func TestReconnectPortUsesReverseIndexForInputs(t *testing.T) {
	f := newFixture(t, map[string][]string{
		"a:out": {"x:in"},
		"b:out": {"x:in", "y:in"},
	})
	require.NoError(t, f.srv.Connect("a:out", "z:in"))
	f.r.drain()

	f.r.process(ReconnectPort{Port: "x:in"})
	queued := f.r.queue.snapshot()
	assert.Contains(t, queued, TryConnection{Connect: true, Output: "a:out", Input: "x:in"})
	assert.Contains(t, queued, TryConnection{Connect: true, Output: "b:out", Input: "x:in"})
	assert.NotContains(t, queued, TryConnection{Connect: true, Output: "b:out", Input: "y:in"})

	f.r.drain()
	assert.True(t, f.srv.IsConnected("a:out", "x:in"))
	assert.True(t, f.srv.IsConnected("b:out", "x:in"))
}

func TestReconnectPortForOutputs(t *testing.T) {
	f := newFixture(t, map[string][]string{"a:out": {"x:in", "y:in"}})
	require.NoError(t, f.srv.Connect("a:out", "z:in"))

	f.r.process(ReconnectPort{Port: "a:out"})
	// The stray edge is gone before the desired ones are requested.
	assert.False(t, f.srv.IsConnected("a:out", "z:in"))
	f.r.drain()

	assert.ElementsMatch(t, []string{"x:in", "y:in"}, f.srv.Connections("a:out"))
}

func TestPortRegistrationTriggersReconnect(t *testing.T) {
	f := newFixture(t, map[string][]string{"c:out": {"x:in"}})

	_, err := f.srv.AddPort("c:out", audio.IsOutput)
	require.NoError(t, err)
	f.r.drain()

	assert.True(t, f.srv.IsConnected("c:out", "x:in"))
}

func TestReconnectPortMissingIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.r.process(ReconnectPort{Port: "ghost:in"})
	assert.Empty(t, f.r.queue.snapshot())
}

func TestDesiredGraphFollowsStore(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.Update(func(cfg *config.Config) error {
		cfg.Connections.Connect(true, "b:out", "z:in")
		return nil
	})
	require.NoError(t, err)

	f.r.Start()
	f.r.drain()

	assert.Equal(t, []graph.Edge{{Output: "b:out", Input: "z:in"}}, f.srv.Edges())
}

func TestRunProcessesAndStops(t *testing.T) {
	f := newFixture(t, map[string][]string{"a:out": {"x:in"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.r.Run(ctx) }()

	f.r.Start()
	assert.Eventually(t, func() bool {
		return f.srv.IsConnected("a:out", "x:in")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	n := f.r.Pending()
	f.r.Submit(DisconnectAll{})
	assert.Equal(t, n, f.r.Pending())
}

func TestRunStopsPendingTimers(t *testing.T) {
	f := newFixture(t, nil)
	f.r.process(RetryAfter{Delay: time.Second, Signal: DisconnectAll{}})
	timers := f.sched.pending()
	require.Len(t, timers, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = f.r.Run(ctx)

	assert.True(t, timers[0].stopped)
}

type unknownSignal struct{}

func (unknownSignal) Kind() string { return "unknown" }

func TestProcessSurvivesBadSignals(t *testing.T) {
	f := newFixture(t, nil)
	assert.NotPanics(t, func() {
		f.r.process(unknownSignal{})
		// A retry without a signal panics inside the handler.
		f.r.process(RetryAfter{Delay: time.Millisecond})
	})
	f.r.process(TryConnection{Connect: true, Output: "a:out", Input: "x:in"})
	assert.True(t, f.srv.IsConnected("a:out", "x:in"))
}

func TestRealSchedulerFires(t *testing.T) {
	done := make(chan struct{})
	RealScheduler{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
