// Package memgraph is an in-process audio graph server implementing
// audio.Client.
//
// It keeps ports, their sample buffers and the connections between them in
// memory, routes connected output buffers into input buffers at the start of
// every block, and then calls the installed process handler. Events are
// delivered synchronously after the server's lock is released.
//
// memgraph backs the jamyx daemon when no external audio server is wired in,
// and the tests of every package that needs a live graph:
//
//	srv := memgraph.New("jamyx", memgraph.WithBufferSize(64))
//	srv.AddPort("system:capture_1", audio.IsOutput|audio.IsPhysical)
//	srv.Cycle(64)
//
// Restart simulates an audio server restart: every connection disappears and
// the event handler receives GraphRecovered.
package memgraph
