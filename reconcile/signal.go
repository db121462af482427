package reconcile

import (
	"fmt"
	"time"
)

// Signal is one input of the reconciler state machine.
type Signal interface {
	// Kind names the signal for logs and metrics.
	Kind() string
}

// CheckConnection reports an observed connection change between Output and
// Input.
type CheckConnection struct {
	Output    string
	Input     string
	Connected bool
}

// SetConnectionCheck enables or disables CheckConnection handling.
type SetConnectionCheck struct {
	Enabled bool
}

// DisconnectAll disconnects every input port of the audio graph with
// connection checks suspended.
type DisconnectAll struct{}

// ReconnectAllDesired requests every edge of the desired graph.
type ReconnectAllDesired struct{}

// RetryAfter resubmits Signal once Delay has elapsed.
type RetryAfter struct {
	Delay  time.Duration
	Signal Signal
}

// TryConnection connects or disconnects Output and Input on the live graph.
type TryConnection struct {
	Connect bool
	Output  string
	Input   string
}

// ReconnectPort rewires a newly registered port from the desired graph.
type ReconnectPort struct {
	Port string
}

func (CheckConnection) Kind() string     { return "check_connection" }
func (SetConnectionCheck) Kind() string  { return "set_connection_check" }
func (DisconnectAll) Kind() string       { return "disconnect_all" }
func (ReconnectAllDesired) Kind() string { return "reconnect_all_desired" }
func (RetryAfter) Kind() string          { return "retry_after" }
func (TryConnection) Kind() string       { return "try_connection" }
func (ReconnectPort) Kind() string       { return "reconnect_port" }

func (s TryConnection) String() string {
	verb := "connect"
	if !s.Connect {
		verb = "disconnect"
	}
	return fmt.Sprintf("%s %q -> %q", verb, s.Output, s.Input)
}

func (s RetryAfter) String() string {
	return fmt.Sprintf("retry in %s: %v", s.Delay, s.Signal)
}
