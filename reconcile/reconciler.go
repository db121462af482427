package reconcile

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/audio"
	"github.com/opd-ai/jamyx/graph"
	"github.com/opd-ai/jamyx/metrics"
	"github.com/opd-ai/jamyx/state"
)

// Options configures a Reconciler.
type Options struct {
	// RetryDelay is the delay before a rejected connect is retried.
	// Zero means DefaultRetryDelay.
	RetryDelay time.Duration
	// Scheduler runs retry timers. Nil means the system clock.
	Scheduler Scheduler
	// Metrics records signal and graph operation counts. May be nil.
	Metrics *metrics.Metrics
}

// Reconciler compares the desired graph of the shared store against live
// connection events and issues graph operations to converge them.
type Reconciler struct {
	client     audio.Client
	store      *state.Store
	sched      Scheduler
	metrics    *metrics.Metrics
	retryDelay time.Duration
	queue      *queue

	// checkEnabled is only touched by the processing goroutine.
	checkEnabled bool

	timersMu sync.Mutex
	timers   map[Timer]struct{}
	stopped  atomic.Bool
}

// New creates a reconciler that owns connect and disconnect operations on
// client and reads the desired graph from store.
func New(client audio.Client, store *state.Store, opts Options) *Reconciler {
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Reconciler{
		client:       client,
		store:        store,
		sched:        getScheduler(opts.Scheduler),
		metrics:      opts.Metrics,
		retryDelay:   delay,
		queue:        newQueue(),
		checkEnabled: true,
		timers:       make(map[Timer]struct{}),
	}
}

// Submit enqueues sig. It never blocks and is safe from any goroutine.
// Signals submitted after Run returned are dropped.
func (r *Reconciler) Submit(sig Signal) {
	if sig == nil || r.stopped.Load() {
		return
	}
	n := r.queue.push(sig)
	r.metrics.SetQueueDepth(n)
}

// Start requests a clean resynchronization: every input is disconnected, then
// every desired edge is connected.
func (r *Reconciler) Start() {
	r.Submit(DisconnectAll{})
	r.Submit(ReconnectAllDesired{})
}

// Pending returns the number of queued signals.
func (r *Reconciler) Pending() int {
	return r.queue.len()
}

// Run processes signals in submission order until ctx is done. Pending retry
// timers are stopped on return.
func (r *Reconciler) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function":    "Reconciler.Run",
		"retry_delay": r.retryDelay.String(),
	}).Info("Starting connection reconciler")

	defer r.stop()

	for {
		r.drain()
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Reconciler.Run",
				"pending":  r.queue.len(),
			}).Info("Connection reconciler stopped")
			return ctx.Err()
		case <-r.queue.notify:
		}
	}
}

func (r *Reconciler) stop() {
	r.stopped.Store(true)

	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[Timer]struct{})
}

// drain processes queued signals until the queue is empty.
func (r *Reconciler) drain() {
	for {
		sig, ok := r.queue.pop()
		if !ok {
			return
		}
		r.metrics.SetQueueDepth(r.queue.len())
		r.process(sig)
	}
}

// process handles one signal. A panic ends only this signal's handling.
func (r *Reconciler) process(sig Signal) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Reconciler.process",
				"signal":   sig.Kind(),
				"panic":    rec,
			}).Error("Signal handling panicked")
		}
	}()

	r.metrics.RecordSignal(sig.Kind())

	switch s := sig.(type) {
	case CheckConnection:
		r.checkConnection(s)
	case SetConnectionCheck:
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.process",
			"enabled":  s.Enabled,
		}).Debug("Connection check toggled")
		r.checkEnabled = s.Enabled
	case DisconnectAll:
		r.disconnectAll()
	case ReconnectAllDesired:
		r.reconnectAllDesired()
	case RetryAfter:
		r.retryAfter(s)
	case TryConnection:
		r.tryConnection(s)
	case ReconnectPort:
		r.reconnectPort(s.Port)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.process",
			"signal":   sig.Kind(),
		}).Warn("Unhandled signal")
	}
}

func (r *Reconciler) desired() *graph.Graph {
	return &r.store.Load().Config.Connections
}

func (r *Reconciler) checkConnection(s CheckConnection) {
	if !r.checkEnabled {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.checkConnection",
			"output":   s.Output,
			"input":    s.Input,
		}).Debug("Skipping connection check")
		return
	}

	want := r.desired().IsConnected(s.Output, s.Input)
	fields := logrus.Fields{
		"function":  "Reconciler.checkConnection",
		"output":    s.Output,
		"input":     s.Input,
		"connected": s.Connected,
		"desired":   want,
	}
	if want == s.Connected {
		logrus.WithFields(fields).Debug("Connection matches desired graph")
		return
	}

	logrus.WithFields(fields).Info("Connection differs from desired graph")
	r.Submit(TryConnection{Connect: want, Output: s.Output, Input: s.Input})
}

func (r *Reconciler) disconnectAll() {
	logrus.WithFields(logrus.Fields{
		"function": "Reconciler.disconnectAll",
	}).Info("Disconnecting all input ports")

	r.checkEnabled = false
	for _, name := range r.client.Ports("", audio.IsInput) {
		if err := r.client.DisconnectPort(name); err != nil {
			r.metrics.RecordGraphOp("disconnect_port", classify(err))
			logrus.WithFields(logrus.Fields{
				"function": "Reconciler.disconnectAll",
				"port":     name,
				"error":    err.Error(),
			}).Warn("Failed to disconnect port")
			continue
		}
		r.metrics.RecordGraphOp("disconnect_port", "ok")
	}
	// Queued behind the check events the disconnects produced.
	r.Submit(SetConnectionCheck{Enabled: true})
}

func (r *Reconciler) reconnectAllDesired() {
	edges := r.desired().Edges()

	logrus.WithFields(logrus.Fields{
		"function": "Reconciler.reconnectAllDesired",
		"edges":    len(edges),
	}).Info("Reconnecting desired graph")

	for _, e := range edges {
		r.Submit(TryConnection{Connect: true, Output: e.Output, Input: e.Input})
	}
}

func (r *Reconciler) retryAfter(s RetryAfter) {
	logrus.WithFields(logrus.Fields{
		"function": "Reconciler.retryAfter",
		"signal":   s.Signal.Kind(),
		"delay":    s.Delay.String(),
	}).Debug("Scheduling retry")

	var t Timer
	r.timersMu.Lock()
	t = r.sched.AfterFunc(s.Delay, func() {
		r.timersMu.Lock()
		delete(r.timers, t)
		r.timersMu.Unlock()
		r.Submit(s.Signal)
	})
	r.timers[t] = struct{}{}
	r.timersMu.Unlock()
}

func exactPattern(name string) string {
	return "^" + regexp.QuoteMeta(name) + "$"
}

func (r *Reconciler) tryConnection(s TryConnection) {
	fields := logrus.Fields{
		"function": "Reconciler.tryConnection",
		"output":   s.Output,
		"input":    s.Input,
		"connect":  s.Connect,
	}

	if len(r.client.Ports(exactPattern(s.Input), audio.IsInput)) != 1 ||
		len(r.client.Ports(exactPattern(s.Output), audio.IsOutput)) != 1 {
		logrus.WithFields(fields).Warn("One or both ports do not exist")
		return
	}

	op := "connect"
	var err error
	if s.Connect {
		err = r.client.Connect(s.Output, s.Input)
	} else {
		op = "disconnect"
		err = r.client.Disconnect(s.Output, s.Input)
	}
	r.metrics.RecordGraphOp(op, classify(err))

	switch {
	case err == nil:
		logrus.WithFields(fields).Debug("Graph operation applied")
	case errors.Is(err, audio.ErrAlreadyConnected), errors.Is(err, audio.ErrNoSuchConnection):
		logrus.WithFields(fields).Debug("Graph already in requested state")
	case s.Connect && errors.Is(err, audio.ErrConnectionConflict):
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Connect rejected, rescheduling")
		r.metrics.RecordRetry()
		r.Submit(RetryAfter{Delay: r.retryDelay, Signal: s})
	default:
		fields["error"] = err.Error()
		logrus.WithFields(fields).Error("Graph operation failed")
	}
}

func (r *Reconciler) reconnectPort(name string) {
	flags, ok := r.client.PortFlags(name)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.reconnectPort",
			"port":     name,
		}).Warn("Port not found")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Reconciler.reconnectPort",
		"port":     name,
		"flags":    flags.String(),
	}).Info("Reevaluating connections for port")

	if err := r.client.DisconnectPort(name); err != nil {
		r.metrics.RecordGraphOp("disconnect_port", classify(err))
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.reconnectPort",
			"port":     name,
			"error":    err.Error(),
		}).Warn("Failed to disconnect port")
	}

	desired := r.desired()
	if flags.Has(audio.IsInput) {
		for _, out := range desired.Outputs(name) {
			r.Submit(TryConnection{Connect: true, Output: out, Input: name})
		}
		return
	}
	for _, in := range desired.Inputs(name) {
		r.Submit(TryConnection{Connect: true, Output: name, Input: in})
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, audio.ErrAlreadyConnected):
		return "already_connected"
	case errors.Is(err, audio.ErrNoSuchConnection):
		return "not_connected"
	case errors.Is(err, audio.ErrConnectionConflict):
		return "conflict"
	case errors.Is(err, audio.ErrPortNotFound):
		return "port_not_found"
	}
	return "error"
}

// ClientRegistered logs client arrivals and departures.
func (r *Reconciler) ClientRegistered(name string, registered bool) {
	logrus.WithFields(logrus.Fields{
		"function":   "Reconciler.ClientRegistered",
		"client":     name,
		"registered": registered,
	}).Info("Client registration changed")
}

// PortRegistered submits ReconnectPort for new ports.
func (r *Reconciler) PortRegistered(name string, registered bool) {
	logrus.WithFields(logrus.Fields{
		"function":   "Reconciler.PortRegistered",
		"port":       name,
		"registered": registered,
	}).Info("Port registration changed")
	if registered {
		r.Submit(ReconnectPort{Port: name})
	}
}

// PortsConnected submits CheckConnection.
func (r *Reconciler) PortsConnected(output, input string, connected bool) {
	r.Submit(CheckConnection{Output: output, Input: input, Connected: connected})
}

// GraphRecovered resynchronizes the whole graph after a server restart.
func (r *Reconciler) GraphRecovered() {
	logrus.WithFields(logrus.Fields{
		"function": "Reconciler.GraphRecovered",
	}).Warn("Audio graph recovered, resynchronizing")
	r.Start()
}

var _ audio.EventHandler = (*Reconciler)(nil)
