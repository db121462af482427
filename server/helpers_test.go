package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/state"
)

const testConfig = `{
	"connections": {"system:capture_1": ["jamyx:Mic M"]},
	"mixer": {
		"inputs": {"Mic": {"mono": true}, "Synth": {}},
		"outputs": {"Main": {}, "Phones": {"vol": 80}},
		"connections": {"Main": ["Mic"]}
	}
}`

// memStream records writes in memory.
type memStream struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newMemStream() *memStream {
	return &memStream{closed: make(chan struct{})}
}

func (s *memStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *memStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *memStream) RemoteAddr() string { return "mem" }

func (s *memStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *memStream) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
	}
}

func (s *memStream) responses(t *testing.T) []Response {
	t.Helper()
	s.mu.Lock()
	data := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()
	return decodeLines(t, data)
}

func decodeLines(t *testing.T, data []byte) []Response {
	t.Helper()
	var out []Response
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	return out
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig), config.FormatJSON)
	require.NoError(t, err)
	return state.NewStore(cfg)
}

func request(s Stream, cmd string, opts ...string) *Request {
	return &Request{ID: "test", Stream: s, Command: Command{Target: "mixer", Cmd: cmd, Opts: opts}}
}

func objMap(t *testing.T, r Response) map[string]any {
	t.Helper()
	m, ok := r.Obj.(map[string]any)
	require.True(t, ok, "obj is %T", r.Obj)
	return m
}
