// Package audio defines the boundary between jamyx and the low-latency audio
// graph server it runs on.
//
// jamyx does not implement the audio transport. It consumes a [Client] that
// can register ports, hand out per-block sample buffers, connect and
// disconnect ports by name, and deliver server events. Events arrive through a
// fixed [EventHandler] interface with one method per event kind, and the
// per-block callback through [ProcessHandler].
//
// Graph operations report failures with classified errors so that callers can
// decide what to retry:
//
//   - [ErrConnectionConflict]: the server refused a connect; usually transient.
//   - [ErrAlreadyConnected]: the connection already exists.
//   - [ErrNoSuchConnection]: a disconnect named an edge that does not exist.
//   - [ErrPortNotFound]: a port name did not resolve.
//
// Package memgraph provides an in-process implementation.
package audio
