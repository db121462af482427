package jamyx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/jamyx/audio"
	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/metrics"
	"github.com/opd-ai/jamyx/mixer"
	"github.com/opd-ai/jamyx/reconcile"
	"github.com/opd-ai/jamyx/server"
	"github.com/opd-ai/jamyx/state"
)

const (
	// DefaultListenAddress is the control protocol address.
	DefaultListenAddress = "127.0.0.1:56065"
	// DefaultHTTPAddress serves /ws and /metrics.
	DefaultHTTPAddress = "127.0.0.1:56066"
)

var (
	// ErrNilConfig is returned by New without a configuration.
	ErrNilConfig = errors.New("configuration cannot be nil")
	// ErrNilClient is returned by New without an audio client.
	ErrNilClient = errors.New("audio client cannot be nil")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("already started")
)

// Options contains configuration options for creating a Jamyx instance.
type Options struct {
	// ListenAddress is the TCP address of the control protocol.
	ListenAddress string
	// HTTPAddress serves the WebSocket bridge and metrics. Empty disables it.
	HTTPAddress string
	// RetryDelay is the delay before a rejected connect is retried.
	RetryDelay time.Duration
	// Registry receives the Prometheus collectors. Nil creates a private one.
	Registry *prometheus.Registry
	// Scheduler drives reconciler retries. Nil uses the system clock.
	Scheduler reconcile.Scheduler
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		ListenAddress: DefaultListenAddress,
		HTTPAddress:   DefaultHTTPAddress,
		RetryDelay:    reconcile.DefaultRetryDelay,
	}
}

// Jamyx is a running patchbay.
type Jamyx struct {
	options  *Options
	client   audio.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store      *state.Store
	hooks      *state.Hooks
	reconciler *reconcile.Reconciler
	engine     *mixer.Engine
	dispatcher *server.Dispatcher

	mu         sync.Mutex
	tcp        *server.TCPServer
	httpServer *http.Server
	httpAddr   net.Addr
	group      *errgroup.Group
	cancel     context.CancelFunc
	killOnce   sync.Once
}

// New validates cfg, registers the mixer ports on client and wires every
// component. Nothing runs until Start.
func New(cfg *config.Config, client audio.Client, options *Options) (*Jamyx, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if client == nil {
		return nil, ErrNilClient
	}
	if options == nil {
		options = NewOptions()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := options.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	store := state.NewStore(cfg)
	hooks := state.NewHooks()

	rec := reconcile.New(client, store, reconcile.Options{
		RetryDelay: options.RetryDelay,
		Scheduler:  options.Scheduler,
		Metrics:    m,
	})
	engine, err := mixer.New(client, store, m)
	if err != nil {
		return nil, err
	}
	if err := client.SetProcessHandler(engine); err != nil {
		return nil, err
	}
	if err := client.SetEventHandler(rec); err != nil {
		return nil, err
	}

	d := server.NewDispatcher(m)
	d.Register("mixer", server.NewMixerHandler(store, hooks, m), "myx", "broadcast", "all")
	d.Register("connection-kit", server.NewConnectionKitHandler(store, rec), "con")

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"client":   client.Name(),
		"inputs":   len(cfg.Mixer.Inputs),
		"outputs":  len(cfg.Mixer.Outputs),
		"edges":    cfg.Connections.Len(),
	}).Info("Patchbay created")

	return &Jamyx{
		options:    options,
		client:     client,
		registry:   reg,
		metrics:    m,
		store:      store,
		hooks:      hooks,
		reconciler: rec,
		engine:     engine,
		dispatcher: d,
	}, nil
}

// Start activates the audio client, starts the reconciler, the dispatcher and
// the listeners, then requests a full resynchronization of the port graph.
func (j *Jamyx) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.group != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	tcp, err := server.ListenTCP(j.options.ListenAddress, j.dispatcher, j.metrics)
	if err != nil {
		cancel()
		return err
	}

	var httpLn net.Listener
	if j.options.HTTPAddress != "" {
		if httpLn, err = net.Listen("tcp", j.options.HTTPAddress); err != nil {
			tcp.Close()
			cancel()
			return err
		}
	}

	if err := j.client.Activate(); err != nil {
		tcp.Close()
		if httpLn != nil {
			httpLn.Close()
		}
		cancel()
		return err
	}

	j.tcp = tcp
	j.group = g
	j.cancel = cancel

	g.Go(func() error { return j.reconciler.Run(gctx) })
	j.dispatcher.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		return j.tcp.Close()
	})

	if httpLn != nil {
		j.httpAddr = httpLn.Addr()
		j.httpServer = &http.Server{
			Handler:           server.NewHTTPHandler(j.dispatcher, j.registry, j.metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := j.httpServer.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return j.httpServer.Shutdown(shutdownCtx)
		})
	}

	j.reconciler.Start()

	logrus.WithFields(logrus.Fields{
		"function": "Jamyx.Start",
		"listen":   tcp.Addr().String(),
		"http":     j.options.HTTPAddress,
	}).Info("Patchbay started")
	return nil
}

// Wait blocks until every component has stopped and returns the first
// failure. Cancellation is not a failure.
func (j *Jamyx) Wait() error {
	j.mu.Lock()
	g := j.group
	j.mu.Unlock()
	if g == nil {
		return nil
	}

	err := g.Wait()
	j.dispatcher.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run starts the patchbay and blocks until ctx is done or a component fails.
func (j *Jamyx) Run(ctx context.Context) error {
	if err := j.Start(ctx); err != nil {
		return err
	}
	err := j.Wait()
	j.Kill()
	return err
}

// Kill stops every component and closes the audio client.
func (j *Jamyx) Kill() {
	j.killOnce.Do(func() {
		j.mu.Lock()
		cancel := j.cancel
		j.mu.Unlock()

		if cancel != nil {
			cancel()
			_ = j.Wait()
		}
		if err := j.client.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Jamyx.Kill",
				"error":    err.Error(),
			}).Warn("Failed to close audio client")
		}

		logrus.WithFields(logrus.Fields{
			"function": "Jamyx.Kill",
		}).Info("Patchbay stopped")
	})
}

// Store returns the shared configuration store.
func (j *Jamyx) Store() *state.Store { return j.store }

// Hooks returns the notification registry.
func (j *Jamyx) Hooks() *state.Hooks { return j.hooks }

// Reconciler returns the connection reconciler.
func (j *Jamyx) Reconciler() *reconcile.Reconciler { return j.reconciler }

// Addr returns the control protocol address, or nil before Start.
func (j *Jamyx) Addr() net.Addr {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.tcp == nil {
		return nil
	}
	return j.tcp.Addr()
}

// HTTPAddr returns the HTTP address, or nil when disabled or before Start.
func (j *Jamyx) HTTPAddr() net.Addr {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.httpAddr
}
