package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/metrics"
)

// DefaultQueueSize is the request queue capacity of each subsystem worker.
const DefaultQueueSize = 64

// ErrDispatcherStopped is returned when a request arrives after shutdown.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Stream is the client end a request arrived on.
type Stream interface {
	io.Writer
	io.Closer
	// RemoteAddr identifies the peer in logs.
	RemoteAddr() string
}

// Request pairs a command with the stream that sent it.
type Request struct {
	ID       string
	Stream   Stream
	Command  Command
	Received time.Time
}

// Handler serves the requests of one subsystem. When hold is true the handler
// took ownership of the stream and the dispatcher neither writes resp nor
// closes the stream.
type Handler interface {
	Handle(req *Request) (resp Response, hold bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) (Response, bool)

// Handle calls f.
func (f HandlerFunc) Handle(req *Request) (Response, bool) { return f(req) }

type subsystem struct {
	name    string
	handler Handler
	queue   chan *Request
}

// Dispatcher routes requests to per-subsystem workers.
type Dispatcher struct {
	mu         sync.RWMutex
	subsystems map[string]*subsystem
	targets    map[string]*subsystem
	queueSize  int
	metrics    *metrics.Metrics

	wg      sync.WaitGroup
	done    chan struct{}
	started bool
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		subsystems: make(map[string]*subsystem),
		targets:    make(map[string]*subsystem),
		queueSize:  DefaultQueueSize,
		metrics:    m,
		done:       make(chan struct{}),
	}
}

// Register adds a subsystem reachable under name and every alias. It must be
// called before Start.
func (d *Dispatcher) Register(name string, h Handler, aliases ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &subsystem{name: name, handler: h, queue: make(chan *Request, d.queueSize)}
	d.subsystems[name] = s
	d.targets[strings.ToLower(name)] = s
	for _, a := range aliases {
		d.targets[strings.ToLower(a)] = s
	}
}

// Start launches one worker per subsystem. Workers exit when ctx is done;
// Wait blocks until they have.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for _, s := range d.subsystems {
		d.wg.Add(1)
		go d.worker(s)
	}
	go func() {
		<-ctx.Done()
		// Dispatch enqueues under the read lock: nothing is queued after done.
		d.mu.Lock()
		close(d.done)
		d.mu.Unlock()
	}()

	logrus.WithFields(logrus.Fields{
		"function":   "Dispatcher.Start",
		"subsystems": len(d.subsystems),
	}).Info("Command dispatcher started")
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch queues cmd for its target's worker. Unknown targets and requests
// after shutdown are answered immediately and the stream is closed.
func (d *Dispatcher) Dispatch(stream Stream, cmd Command) {
	req := &Request{
		ID:       uuid.New().String(),
		Stream:   stream,
		Command:  cmd,
		Received: time.Now(),
	}

	d.mu.RLock()
	s, ok := d.targets[strings.ToLower(cmd.Target)]
	stopped := false
	if ok {
		select {
		case <-d.done:
			stopped = true
		default:
			s.queue <- req
		}
	}
	d.mu.RUnlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.Dispatch",
			"request":  req.ID,
			"target":   cmd.Target,
			"peer":     stream.RemoteAddr(),
		}).Warn("Unknown target")
		d.reply(req, "unknown", Errorf(RetBadCommand, "Bad target: `%s`", cmd.Target))
		return
	}
	if stopped {
		d.reply(req, s.name, Errorf(RetInternal, "%s", ErrDispatcherStopped.Error()))
	}
}

func (d *Dispatcher) worker(s *subsystem) {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			d.drain(s)
			return
		case req := <-s.queue:
			d.serve(s, req)
		}
	}
}

// drain answers queued requests after shutdown.
func (d *Dispatcher) drain(s *subsystem) {
	for {
		select {
		case req := <-s.queue:
			d.reply(req, s.name, Errorf(RetInternal, "%s", ErrDispatcherStopped.Error()))
		default:
			return
		}
	}
}

// serve runs one request. A panicking handler fails only this request.
func (d *Dispatcher) serve(s *subsystem, req *Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Dispatcher.serve",
				"request":  req.ID,
				"target":   s.name,
				"cmd":      req.Command.Cmd,
				"panic":    rec,
			}).Error("Handler panicked")
			d.reply(req, s.name, Errorf(RetInternal, "internal error"))
		}
	}()

	resp, hold := s.handler.Handle(req)

	logrus.WithFields(logrus.Fields{
		"function": "Dispatcher.serve",
		"request":  req.ID,
		"target":   s.name,
		"cmd":      req.Command.Cmd,
		"opts":     req.Command.Opts,
		"ret":      resp.Ret,
		"hold":     hold,
		"elapsed":  time.Since(req.Received).String(),
	}).Debug("Command handled")

	if hold {
		d.metrics.RecordCommand(s.name, req.Command.Cmd, resp.Ret)
		return
	}
	d.reply(req, s.name, resp)
}

func (d *Dispatcher) reply(req *Request, target string, resp Response) {
	d.metrics.RecordCommand(target, req.Command.Cmd, resp.Ret)

	if err := WriteResponse(req.Stream, resp); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.reply",
			"request":  req.ID,
			"peer":     req.Stream.RemoteAddr(),
			"error":    err.Error(),
		}).Warn("Failed to write response")
	}
	_ = req.Stream.Close()
}
