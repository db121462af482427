package memgraph

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/audio"
	"github.com/opd-ai/jamyx/graph"
)

const (
	// DefaultBufferSize is the default number of frames per block.
	DefaultBufferSize = 256
	// DefaultSampleRate is the default sample rate in Hz.
	DefaultSampleRate = 48000
)

type port struct {
	name  string
	flags audio.PortFlags
	buf   []float32
}

func (p *port) Name() string           { return p.name }
func (p *port) Flags() audio.PortFlags { return p.flags }

func (p *port) Buffer(nframes int) []float32 {
	if nframes > len(p.buf) || nframes < 0 {
		nframes = len(p.buf)
	}
	return p.buf[:nframes]
}

type connKey struct{ output, input string }

// Option configures a Server.
type Option func(*Server)

// WithBufferSize sets the maximum frames per block.
func WithBufferSize(frames int) Option {
	return func(s *Server) {
		if frames > 0 {
			s.bufferSize = frames
		}
	}
}

// WithSampleRate sets the sample rate.
func WithSampleRate(rate int) Option {
	return func(s *Server) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// Server is an in-memory audio graph with a single local client.
type Server struct {
	mu         sync.Mutex
	name       string
	bufferSize int
	sampleRate int
	ports      map[string]*port
	conns      graph.Graph
	process    audio.ProcessHandler
	events     audio.EventHandler
	active     bool
	closed     bool
	rejections map[connKey]int
}

// New creates a server whose local client is called name.
func New(name string, opts ...Option) *Server {
	s := &Server{
		name:       name,
		bufferSize: DefaultBufferSize,
		sampleRate: DefaultSampleRate,
		ports:      make(map[string]*port),
		rejections: make(map[connKey]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the local client name.
func (s *Server) Name() string { return s.name }

// BufferSize returns the maximum frames per block.
func (s *Server) BufferSize() int { return s.bufferSize }

// SampleRate returns the sample rate in Hz.
func (s *Server) SampleRate() int { return s.sampleRate }

// RegisterPort registers "<name>:<shortName>" for the local client.
func (s *Server) RegisterPort(shortName string, flags audio.PortFlags) (audio.Port, error) {
	return s.AddPort(s.name+":"+shortName, flags)
}

// AddPort registers a port under its full name, as if another client owned it.
func (s *Server) AddPort(name string, flags audio.PortFlags) (audio.Port, error) {
	if flags.Has(audio.IsInput) == flags.Has(audio.IsOutput) {
		return nil, fmt.Errorf("port %q: exactly one of input or output must be set", name)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, audio.ErrClientClosed
	}
	if _, exists := s.ports[name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", audio.ErrPortExists, name)
	}
	p := &port{name: name, flags: flags, buf: make([]float32, s.bufferSize)}
	s.ports[name] = p
	h := s.handler()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Server.AddPort",
		"port":     name,
		"flags":    flags.String(),
	}).Debug("Port registered")

	if h != nil {
		h.PortRegistered(name, true)
	}
	return p, nil
}

// RemovePort unregisters a port, dropping its connections.
func (s *Server) RemovePort(name string) error {
	s.mu.Lock()
	if _, ok := s.ports[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", audio.ErrPortNotFound, name)
	}
	dropped := s.dropConnectionsLocked(name)
	delete(s.ports, name)
	h := s.handler()
	s.mu.Unlock()

	if h != nil {
		for _, c := range dropped {
			h.PortsConnected(c.output, c.input, false)
		}
		h.PortRegistered(name, false)
	}
	return nil
}

// handler returns the event handler if callbacks are running. Callers hold mu.
func (s *Server) handler() audio.EventHandler {
	if !s.active {
		return nil
	}
	return s.events
}

// Ports returns sorted port names matching pattern and flags.
func (s *Server) Ports(pattern string, flags audio.PortFlags) []string {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.ports))
	for name, p := range s.ports {
		if !p.flags.Has(flags) {
			continue
		}
		if re != nil && !re.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PortFlags looks up a port.
func (s *Server) PortFlags(name string) (audio.PortFlags, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ports[name]
	if !ok {
		return 0, false
	}
	return p.flags, true
}

// Connections returns the ports connected to name.
func (s *Server) Connections(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.ports[name]
	if !ok {
		return nil
	}
	if p.flags.Has(audio.IsOutput) {
		return s.conns.Inputs(name)
	}
	return s.conns.Outputs(name)
}

// IsConnected reports whether output feeds input.
func (s *Server) IsConnected(output, input string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns.IsConnected(output, input)
}

// Edges returns every live connection.
func (s *Server) Edges() []graph.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns.Edges()
}

// RejectConnect makes the next n Connect calls for the pair fail with
// audio.ErrConnectionConflict.
func (s *Server) RejectConnect(output, input string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[connKey{output, input}] = n
}

// Connect connects output to input.
func (s *Server) Connect(output, input string) error {
	s.mu.Lock()
	if err := s.checkPairLocked(output, input); err != nil {
		s.mu.Unlock()
		return err
	}
	key := connKey{output, input}
	if n := s.rejections[key]; n > 0 {
		s.rejections[key] = n - 1
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", audio.ErrConnectionConflict, output, input)
	}
	if s.conns.IsConnected(output, input) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", audio.ErrAlreadyConnected, output, input)
	}
	s.conns.Connect(true, output, input)
	h := s.handler()
	s.mu.Unlock()

	if h != nil {
		h.PortsConnected(output, input, true)
	}
	return nil
}

// Disconnect removes the connection output → input.
func (s *Server) Disconnect(output, input string) error {
	s.mu.Lock()
	if err := s.checkPairLocked(output, input); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.conns.IsConnected(output, input) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", audio.ErrNoSuchConnection, output, input)
	}
	s.conns.Connect(false, output, input)
	h := s.handler()
	s.mu.Unlock()

	if h != nil {
		h.PortsConnected(output, input, false)
	}
	return nil
}

func (s *Server) checkPairLocked(output, input string) error {
	if s.closed {
		return audio.ErrClientClosed
	}
	o, ok := s.ports[output]
	if !ok {
		return fmt.Errorf("%w: %s", audio.ErrPortNotFound, output)
	}
	i, ok := s.ports[input]
	if !ok {
		return fmt.Errorf("%w: %s", audio.ErrPortNotFound, input)
	}
	if !o.flags.Has(audio.IsOutput) || !i.flags.Has(audio.IsInput) {
		return fmt.Errorf("%w: %s is not an output or %s is not an input", audio.ErrConnectionConflict, output, input)
	}
	return nil
}

// DisconnectPort removes every connection of name.
func (s *Server) DisconnectPort(name string) error {
	s.mu.Lock()
	if _, ok := s.ports[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", audio.ErrPortNotFound, name)
	}
	dropped := s.dropConnectionsLocked(name)
	h := s.handler()
	s.mu.Unlock()

	if h != nil {
		for _, c := range dropped {
			h.PortsConnected(c.output, c.input, false)
		}
	}
	return nil
}

func (s *Server) dropConnectionsLocked(name string) []connKey {
	var dropped []connKey
	for _, in := range s.conns.Inputs(name) {
		dropped = append(dropped, connKey{name, in})
	}
	for _, out := range s.conns.Outputs(name) {
		dropped = append(dropped, connKey{out, name})
	}
	for _, c := range dropped {
		s.conns.Connect(false, c.output, c.input)
	}
	return dropped
}

// SetProcessHandler installs the per-block callback.
func (s *Server) SetProcessHandler(h audio.ProcessHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return audio.ErrClientActive
	}
	s.process = h
	return nil
}

// SetEventHandler installs the event handler.
func (s *Server) SetEventHandler(h audio.EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return audio.ErrClientActive
	}
	s.events = h
	return nil
}

// Activate starts delivering events and process callbacks.
func (s *Server) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrClientClosed
	}
	if s.active {
		return audio.ErrClientActive
	}
	s.active = true

	logrus.WithFields(logrus.Fields{
		"function":    "Server.Activate",
		"client":      s.name,
		"buffer_size": s.bufferSize,
		"sample_rate": s.sampleRate,
	}).Info("Audio client activated")
	return nil
}

// Close deactivates the client.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.closed = true
	return nil
}

// Cycle runs one block: every input port receives the sum of the output
// ports connected to it, then the process handler runs.
func (s *Server) Cycle(nframes int) {
	if nframes > s.bufferSize {
		nframes = s.bufferSize
	}
	if nframes < 0 {
		nframes = 0
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	for _, p := range s.ports {
		if p.flags.Has(audio.IsInput) {
			clear(p.buf[:nframes])
		}
	}
	s.conns.EachEdge(func(output, input string) {
		src, dst := s.ports[output], s.ports[input]
		if src == nil || dst == nil {
			return
		}
		for i := 0; i < nframes; i++ {
			dst.buf[i] += src.buf[i]
		}
	})
	h := s.process
	s.mu.Unlock()

	if h != nil {
		h.Process(nframes)
	}
}

// Run drives Cycle at the block rate until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) * float64(s.bufferSize) / float64(s.sampleRate))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Cycle(s.bufferSize)
		}
	}
}

// Restart drops every connection and reports a graph recovery, as a client
// reattaching to a restarted server would see it.
func (s *Server) Restart() {
	s.mu.Lock()
	s.conns = graph.Graph{}
	for _, p := range s.ports {
		clear(p.buf)
	}
	h := s.handler()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Server.Restart",
		"client":   s.name,
	}).Warn("Audio server restarted")

	if h != nil {
		h.GraphRecovered()
	}
}

// WriteBuffer copies samples into a port buffer, for feeding sources.
func (s *Server) WriteBuffer(name string, samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ports[name]
	if !ok {
		return fmt.Errorf("%w: %s", audio.ErrPortNotFound, name)
	}
	copy(p.buf, samples)
	return nil
}

// ReadBuffer returns a copy of the first n samples of a port buffer.
func (s *Server) ReadBuffer(name string, n int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", audio.ErrPortNotFound, name)
	}
	if n > len(p.buf) {
		n = len(p.buf)
	}
	out := make([]float32, n)
	copy(out, p.buf[:n])
	return out, nil
}

var _ audio.Client = (*Server)(nil)
