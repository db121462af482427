package audio

import "errors"

var (
	// ErrConnectionConflict indicates the server rejected a connect request.
	ErrConnectionConflict = errors.New("port connection rejected")

	// ErrAlreadyConnected indicates the requested connection already exists.
	ErrAlreadyConnected = errors.New("ports already connected")

	// ErrNoSuchConnection indicates a disconnect of an edge that does not exist.
	ErrNoSuchConnection = errors.New("ports not connected")

	// ErrPortNotFound indicates a port name that did not resolve.
	ErrPortNotFound = errors.New("port not found")

	// ErrPortExists indicates a registration under a name already in use.
	ErrPortExists = errors.New("port already registered")

	// ErrClientActive indicates an operation that requires an inactive client.
	ErrClientActive = errors.New("client is active")

	// ErrClientClosed indicates an operation on a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// PortFlags describe a port. Exactly one of IsInput and IsOutput is set on a
// registered port.
type PortFlags uint8

const (
	// IsInput marks a port that receives audio (a connection destination).
	IsInput PortFlags = 1 << iota
	// IsOutput marks a port that produces audio (a connection source).
	IsOutput
	// IsPhysical marks a hardware port.
	IsPhysical
)

// Has reports whether all bits of f2 are set in f.
func (f PortFlags) Has(f2 PortFlags) bool {
	return f&f2 == f2
}

func (f PortFlags) String() string {
	switch {
	case f.Has(IsInput):
		return "input"
	case f.Has(IsOutput):
		return "output"
	}
	return "none"
}

// Port is a registered audio port.
type Port interface {
	// Name returns the full port name.
	Name() string
	// Flags returns the port flags.
	Flags() PortFlags
	// Buffer returns the sample buffer of the current block. It is only valid
	// inside ProcessHandler.Process and must not allocate.
	Buffer(nframes int) []float32
}

// ProcessHandler is invoked by the server once per audio block on its
// real-time thread. Implementations must not block or allocate.
type ProcessHandler interface {
	Process(nframes int)
}

// EventHandler receives server notifications. Implementations must return
// quickly and must not call back into the client synchronously.
type EventHandler interface {
	// ClientRegistered reports a client appearing or leaving.
	ClientRegistered(name string, registered bool)
	// PortRegistered reports a port appearing or leaving.
	PortRegistered(name string, registered bool)
	// PortsConnected reports a connection change between an output and an
	// input port.
	PortsConnected(output, input string, connected bool)
	// GraphRecovered reports that the server was restarted and the client
	// reattached; all connections are gone.
	GraphRecovered()
}

// Client is a connection to the audio server.
type Client interface {
	// Name returns the client name used as the port name prefix.
	Name() string
	// RegisterPort registers a port "<client>:<shortName>".
	RegisterPort(shortName string, flags PortFlags) (Port, error)
	// Ports returns the names of ports whose name matches the regular
	// expression pattern (empty matches all) and whose flags include flags.
	Ports(pattern string, flags PortFlags) []string
	// PortFlags looks up a port by full name.
	PortFlags(name string) (PortFlags, bool)
	// Connections returns the ports connected to the named port.
	Connections(name string) []string
	// Connect connects an output port to an input port.
	Connect(output, input string) error
	// Disconnect removes a connection.
	Disconnect(output, input string) error
	// DisconnectPort removes every connection of a port.
	DisconnectPort(name string) error
	// SetProcessHandler installs the per-block callback before activation.
	SetProcessHandler(h ProcessHandler) error
	// SetEventHandler installs the event handler before activation.
	SetEventHandler(h EventHandler) error
	// Activate starts callbacks.
	Activate() error
	// BufferSize returns the maximum frames per block.
	BufferSize() int
	// SampleRate returns the sample rate in Hz.
	SampleRate() int
	// Close deactivates and releases the client.
	Close() error
}
