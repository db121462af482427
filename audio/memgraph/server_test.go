package memgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/jamyx/audio"
)

type recorder struct {
	mu        sync.Mutex
	connected []string
	ports     []string
	recovered int
}

func (r *recorder) ClientRegistered(string, bool) {}

func (r *recorder) PortRegistered(name string, registered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if registered {
		r.ports = append(r.ports, "+"+name)
	} else {
		r.ports = append(r.ports, "-"+name)
	}
}

func (r *recorder) PortsConnected(output, input string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sign := "-"
	if connected {
		sign = "+"
	}
	r.connected = append(r.connected, sign+output+">"+input)
}

func (r *recorder) GraphRecovered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered++
}

type countingProcess struct {
	calls  int
	frames int
}

func (c *countingProcess) Process(nframes int) {
	c.calls++
	c.frames = nframes
}

func newActive(t *testing.T) (*Server, *recorder) {
	t.Helper()
	srv := New("jamyx", WithBufferSize(8))
	rec := &recorder{}
	require.NoError(t, srv.SetEventHandler(rec))
	require.NoError(t, srv.Activate())
	return srv, rec
}

func TestRegisterPortPrefixesClientName(t *testing.T) {
	srv, rec := newActive(t)

	p, err := srv.RegisterPort("A M", audio.IsInput)
	require.NoError(t, err)
	assert.Equal(t, "jamyx:A M", p.Name())
	assert.Len(t, p.Buffer(8), 8)
	assert.Len(t, p.Buffer(100), 8)
	assert.Equal(t, []string{"+jamyx:A M"}, rec.ports)

	_, err = srv.RegisterPort("A M", audio.IsInput)
	assert.ErrorIs(t, err, audio.ErrPortExists)

	_, err = srv.AddPort("bad", audio.IsInput|audio.IsOutput)
	assert.Error(t, err)
}

func TestPortsFiltersByPatternAndFlags(t *testing.T) {
	srv, _ := newActive(t)
	_, _ = srv.AddPort("system:capture_1", audio.IsOutput|audio.IsPhysical)
	_, _ = srv.AddPort("system:playback_1", audio.IsInput|audio.IsPhysical)
	_, _ = srv.RegisterPort("A M", audio.IsInput)

	assert.Equal(t, []string{"jamyx:A M", "system:playback_1"}, srv.Ports("", audio.IsInput))
	assert.Equal(t, []string{"system:capture_1"}, srv.Ports("^system:", audio.IsOutput))
	assert.Empty(t, srv.Ports("^system:capture_1$", audio.IsInput))
	assert.Nil(t, srv.Ports("(", 0))

	flags, ok := srv.PortFlags("system:capture_1")
	assert.True(t, ok)
	assert.True(t, flags.Has(audio.IsPhysical))
	_, ok = srv.PortFlags("missing")
	assert.False(t, ok)
}

func TestConnectErrorClassification(t *testing.T) {
	srv, rec := newActive(t)
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:in", audio.IsInput)

	require.NoError(t, srv.Connect("a:out", "b:in"))
	assert.ErrorIs(t, srv.Connect("a:out", "b:in"), audio.ErrAlreadyConnected)
	assert.ErrorIs(t, srv.Connect("b:in", "a:out"), audio.ErrConnectionConflict)
	assert.ErrorIs(t, srv.Connect("a:out", "missing"), audio.ErrPortNotFound)

	require.NoError(t, srv.Disconnect("a:out", "b:in"))
	assert.ErrorIs(t, srv.Disconnect("a:out", "b:in"), audio.ErrNoSuchConnection)

	assert.Equal(t, []string{"+a:out>b:in", "-a:out>b:in"}, rec.connected)
}

func TestRejectConnectFailsThenSucceeds(t *testing.T) {
	srv, _ := newActive(t)
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:in", audio.IsInput)
	srv.RejectConnect("a:out", "b:in", 1)

	assert.ErrorIs(t, srv.Connect("a:out", "b:in"), audio.ErrConnectionConflict)
	assert.NoError(t, srv.Connect("a:out", "b:in"))
	assert.True(t, srv.IsConnected("a:out", "b:in"))
}

func TestDisconnectPortDropsBothDirections(t *testing.T) {
	srv, rec := newActive(t)
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:in", audio.IsInput)
	_, _ = srv.AddPort("c:in", audio.IsInput)
	require.NoError(t, srv.Connect("a:out", "b:in"))
	require.NoError(t, srv.Connect("a:out", "c:in"))
	rec.connected = nil

	require.NoError(t, srv.DisconnectPort("a:out"))
	assert.Empty(t, srv.Edges())
	assert.ElementsMatch(t, []string{"-a:out>b:in", "-a:out>c:in"}, rec.connected)
	assert.ErrorIs(t, srv.DisconnectPort("missing"), audio.ErrPortNotFound)
}

func TestConnectionsByDirection(t *testing.T) {
	srv, _ := newActive(t)
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:in", audio.IsInput)
	require.NoError(t, srv.Connect("a:out", "b:in"))

	assert.Equal(t, []string{"b:in"}, srv.Connections("a:out"))
	assert.Equal(t, []string{"a:out"}, srv.Connections("b:in"))
	assert.Nil(t, srv.Connections("missing"))
}

func TestCycleRoutesConnectedOutputs(t *testing.T) {
	srv, _ := newActive(t)
	proc := &countingProcess{}
	require.ErrorIs(t, srv.SetProcessHandler(proc), audio.ErrClientActive)

	srv = New("jamyx", WithBufferSize(4))
	require.NoError(t, srv.SetProcessHandler(proc))
	require.NoError(t, srv.Activate())
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:out", audio.IsOutput)
	_, _ = srv.AddPort("c:in", audio.IsInput)
	require.NoError(t, srv.WriteBuffer("a:out", []float32{1, 1, 1, 1}))
	require.NoError(t, srv.WriteBuffer("b:out", []float32{0.5, 0.5, 0.5, 0.5}))
	require.NoError(t, srv.Connect("a:out", "c:in"))
	require.NoError(t, srv.Connect("b:out", "c:in"))

	srv.Cycle(4)

	got, err := srv.ReadBuffer("c:in", 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 1.5, 1.5, 1.5}, got)
	assert.Equal(t, 1, proc.calls)
	assert.Equal(t, 4, proc.frames)

	require.NoError(t, srv.Disconnect("a:out", "c:in"))
	srv.Cycle(4)
	got, _ = srv.ReadBuffer("c:in", 4)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, got)
}

func TestCycleInactiveIsNoop(t *testing.T) {
	srv := New("jamyx", WithBufferSize(4))
	proc := &countingProcess{}
	require.NoError(t, srv.SetProcessHandler(proc))
	srv.Cycle(4)
	assert.Zero(t, proc.calls)
}

func TestCycleClampsFrameCount(t *testing.T) {
	proc := &countingProcess{}
	srv := New("jamyx", WithBufferSize(4))
	require.NoError(t, srv.SetProcessHandler(proc))
	require.NoError(t, srv.Activate())
	_, _ = srv.AddPort("c:in", audio.IsInput)

	assert.NotPanics(t, func() { srv.Cycle(-1) })
	assert.Equal(t, 1, proc.calls)
	assert.Equal(t, 0, proc.frames)

	srv.Cycle(16)
	assert.Equal(t, 4, proc.frames)
}

func TestRestartClearsConnectionsAndNotifies(t *testing.T) {
	srv, rec := newActive(t)
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:in", audio.IsInput)
	require.NoError(t, srv.Connect("a:out", "b:in"))

	srv.Restart()
	assert.Empty(t, srv.Edges())
	assert.Equal(t, 1, rec.recovered)
}

func TestRemovePortReportsDisconnects(t *testing.T) {
	srv, rec := newActive(t)
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:in", audio.IsInput)
	require.NoError(t, srv.Connect("a:out", "b:in"))

	require.NoError(t, srv.RemovePort("b:in"))
	assert.Contains(t, rec.connected, "-a:out>b:in")
	assert.Contains(t, rec.ports, "-b:in")
	_, ok := srv.PortFlags("b:in")
	assert.False(t, ok)
}

func TestClosedServerRejectsCalls(t *testing.T) {
	srv, _ := newActive(t)
	_, _ = srv.AddPort("a:out", audio.IsOutput)
	_, _ = srv.AddPort("b:in", audio.IsInput)
	require.NoError(t, srv.Close())

	assert.ErrorIs(t, srv.Connect("a:out", "b:in"), audio.ErrClientClosed)
	_, err := srv.RegisterPort("x", audio.IsInput)
	assert.ErrorIs(t, err, audio.ErrClientClosed)
	assert.ErrorIs(t, srv.Activate(), audio.ErrClientClosed)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := New("jamyx", WithBufferSize(48), WithSampleRate(48000))
	require.NoError(t, srv.Activate())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := srv.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
