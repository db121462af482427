// Package reconcile drives the live audio graph toward the desired
// connection graph.
//
// The Reconciler is a single-consumer state machine. Every input is a Signal
// submitted to an unbounded FIFO queue and processed in submission order by
// one goroutine:
//
//	r := reconcile.New(client, store, reconcile.Options{})
//	client.SetEventHandler(r)
//	go r.Run(ctx)
//	r.Start() // DisconnectAll, then ReconnectAllDesired
//
// Audio server events become signals: a connection change becomes a
// CheckConnection, a registered port a ReconnectPort, and a server recovery a
// DisconnectAll followed by ReconnectAllDesired. A connect rejected by the
// server is resubmitted once per failure after a fixed delay through the
// injected Scheduler, so tests never sleep.
package reconcile
