package jamyx

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/jamyx/audio"
	"github.com/opd-ai/jamyx/audio/memgraph"
	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/server"
)

const testConfig = `{
	"connections": {"system:capture_1": ["jamyx:Mic M"]},
	"mixer": {
		"inputs": {"Mic": {"mono": true}, "Synth": {}},
		"outputs": {"Main": {}},
		"connections": {"Main": ["Mic"]}
	}
}`

func newTestJamyx(t *testing.T) (*Jamyx, *memgraph.Server) {
	t.Helper()

	cfg, err := config.Parse([]byte(testConfig), config.FormatJSON)
	require.NoError(t, err)

	srv := memgraph.New("jamyx")
	_, err = srv.AddPort("system:capture_1", audio.IsOutput)
	require.NoError(t, err)

	opts := NewOptions()
	opts.ListenAddress = "127.0.0.1:0"
	opts.HTTPAddress = "127.0.0.1:0"

	j, err := New(cfg, srv, opts)
	require.NoError(t, err)
	return j, srv
}

func roundTrip(t *testing.T, addr net.Addr, cmd string) server.Response {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = io.WriteString(conn, cmd+"\n")
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp server.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestNewRejectsMissingArguments(t *testing.T) {
	_, err := New(nil, memgraph.New("jamyx"), nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = New(config.New(), nil, nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.New()
	cfg.Mixer.Inputs["Monitor"] = config.DefaultPortConfig()

	_, err := New(cfg, memgraph.New("jamyx"), nil)
	assert.Error(t, err)
}

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, DefaultListenAddress, opts.ListenAddress)
	assert.Equal(t, DefaultHTTPAddress, opts.HTTPAddress)
	assert.Equal(t, 100*time.Millisecond, opts.RetryDelay)
}

func TestStartReconcilesDesiredConnections(t *testing.T) {
	j, srv := newTestJamyx(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, j.Start(ctx))
	defer j.Kill()

	assert.Eventually(t, func() bool {
		return srv.IsConnected("system:capture_1", "jamyx:Mic M")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.WriteBuffer("system:capture_1", []float32{1, 1}))
	srv.Cycle(2)
	out, err := srv.ReadBuffer("jamyx:Main L", 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, out)
}

func TestStartTwiceFails(t *testing.T) {
	j, _ := newTestJamyx(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, j.Start(ctx))
	defer j.Kill()
	assert.ErrorIs(t, j.Start(ctx), ErrAlreadyStarted)
}

func TestControlProtocolOverTCP(t *testing.T) {
	j, srv := newTestJamyx(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, j.Start(ctx))
	defer j.Kill()

	resp := roundTrip(t, j.Addr(), `{"target":"myx","cmd":"set","opts":["volume","out","Main","50"]}`)
	assert.Equal(t, server.RetOK, resp.Ret)
	assert.Equal(t, 50.0, j.Store().Load().Config.Mixer.Outputs["Main"].Vol)

	resp = roundTrip(t, j.Addr(), `{"target":"con","cmd":"connect","opts":["system:capture_1","jamyx:Synth L"]}`)
	assert.Equal(t, server.RetOK, resp.Ret)
	assert.Eventually(t, func() bool {
		return srv.IsConnected("system:capture_1", "jamyx:Synth L")
	}, 2*time.Second, 10*time.Millisecond)

	resp = roundTrip(t, j.Addr(), `{"target":"nobody","cmd":"get","opts":[]}`)
	assert.Equal(t, server.RetBadCommand, resp.Ret)
}

func TestMetricsEndpoint(t *testing.T) {
	j, _ := newTestJamyx(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, j.Start(ctx))
	defer j.Kill()

	roundTrip(t, j.Addr(), `{"target":"mixer","cmd":"get","opts":["channels"]}`)

	res, err := http.Get("http://" + j.HTTPAddr().String() + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "jamyx_commands_total")
	assert.Contains(t, string(body), "jamyx_mixer_plan_version")
}

func TestRunStopsOnCancel(t *testing.T) {
	j, srv := newTestJamyx(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	assert.Eventually(t, func() bool { return j.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err := srv.AddPort("system:capture_2", audio.IsOutput)
	assert.ErrorIs(t, err, audio.ErrClientClosed)
}
