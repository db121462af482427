package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/jamyx/state"
)

func startTCP(t *testing.T) (*TCPServer, *state.Hooks) {
	t.Helper()
	store := newTestStore(t)
	hooks := state.NewHooks()

	d := NewDispatcher(nil)
	d.Register("mixer", NewMixerHandler(store, hooks, nil), "myx", "broadcast", "all")
	d.Register("connection-kit", NewConnectionKitHandler(store, &recordingSubmitter{}), "con")
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	srv, err := ListenTCP("127.0.0.1:0", d, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		d.Wait()
	})
	return srv, hooks
}

func dial(t *testing.T, srv *TCPServer) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func send(t *testing.T, conn net.Conn, cmd Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)
}

func readAll(t *testing.T, conn net.Conn) []Response {
	t.Helper()
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return decodeLines(t, data)
}

func TestTCPRequestResponse(t *testing.T) {
	srv, _ := startTCP(t)

	conn := dial(t, srv)
	send(t, conn, Command{Target: "myx", Cmd: "get", Opts: []string{"in", "Mic"}})

	resps := readAll(t, conn)
	require.Len(t, resps, 1)
	assert.Equal(t, RetOK, resps[0].Ret)
	assert.Equal(t, "Mic", objMap(t, resps[0])["name"])
}

func TestTCPMalformedCommandClosesConnection(t *testing.T) {
	srv, _ := startTCP(t)

	conn := dial(t, srv)
	_, err := conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	resps := readAll(t, conn)
	require.Len(t, resps, 1)
	assert.Equal(t, RetBadCommand, resps[0].Ret)
}

func TestTCPMonitorHeldUntilFired(t *testing.T) {
	srv, hooks := startTCP(t)

	watcher := dial(t, srv)
	send(t, watcher, Command{Target: "mixer", Cmd: "monitor", Opts: []string{"volume", "in", "Mic"}})
	require.Eventually(t, func() bool {
		return hooks.Pending(state.InputVolumeChanged, "Mic") == 1
	}, 2*time.Second, 5*time.Millisecond)

	setter := dial(t, srv)
	send(t, setter, Command{Target: "mixer", Cmd: "set", Opts: []string{"volume", "in", "Mic", "42"}})
	require.Len(t, readAll(t, setter), 1)

	line, err := bufio.NewReader(watcher).ReadBytes('\n')
	require.NoError(t, err)
	pushed := decodeLines(t, line)
	require.Len(t, pushed, 1)
	assert.Equal(t, 42.0, objMap(t, pushed[0])["volume"])

	// The subscription was one-shot and the stream is closed.
	_, err = watcher.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, hooks.Pending(state.InputVolumeChanged, "Mic"))
}

func TestTCPCloseReleasesHeldStreams(t *testing.T) {
	srv, hooks := startTCP(t)

	watcher := dial(t, srv)
	send(t, watcher, Command{Target: "mixer", Cmd: "monitor", Opts: []string{"volume", "out", "Main"}})
	require.Eventually(t, func() bool { return hooks.Total() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Close())
	_, err := watcher.Read(make([]byte, 1))
	assert.Error(t, err)
}
