package mixer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/audio"
	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/metrics"
	"github.com/opd-ai/jamyx/state"
)

// ErrNilClient is returned by New without an audio client.
var ErrNilClient = errors.New("audio client cannot be nil")

// Engine mixes input channels into output buses once per audio block.
type Engine struct {
	inputs    map[string]*channel
	inputOuts map[string]*channel
	outputs   map[string]*channel
	monitor   *channel

	// sinks holds every output port buffer, zeroed at the start of each block.
	sinks     []portBuffer
	maxFrames int

	plan    atomic.Pointer[plan]
	metrics *metrics.Metrics
}

// New registers the ports of every channel in the current snapshot of store
// and keeps the mix plan in sync with later snapshots. The caller installs the
// engine as the client's process handler.
func New(client audio.Client, store *state.Store, m *metrics.Metrics) (*Engine, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	e := &Engine{
		inputs:    make(map[string]*channel),
		inputOuts: make(map[string]*channel),
		outputs:   make(map[string]*channel),
		maxFrames: client.BufferSize(),
		metrics:   m,
	}

	mx := &store.Load().Config.Mixer
	for _, name := range mx.Names(config.Input) {
		mono := mx.Inputs[name].Mono
		in, err := e.register(client, name, mono, audio.IsInput)
		if err != nil {
			return nil, err
		}
		out, err := e.register(client, name+config.InputMonitorSuffix, mono, audio.IsOutput)
		if err != nil {
			return nil, err
		}
		e.inputs[name] = in
		e.inputOuts[name] = out
	}
	for _, name := range mx.Names(config.Output) {
		out, err := e.register(client, name, mx.Outputs[name].Mono, audio.IsOutput)
		if err != nil {
			return nil, err
		}
		e.outputs[name] = out
	}
	mon, err := e.register(client, config.MonitorBusName, false, audio.IsOutput)
	if err != nil {
		return nil, err
	}
	e.monitor = mon

	logrus.WithFields(logrus.Fields{
		"function":    "mixer.New",
		"inputs":      len(e.inputs),
		"outputs":     len(e.outputs),
		"ports":       len(e.sinks),
		"buffer_size": e.maxFrames,
	}).Info("Mixer ports registered")

	store.Observe(e.rebuild)
	return e, nil
}

func (e *Engine) register(client audio.Client, name string, mono bool, flags audio.PortFlags) (*channel, error) {
	suffixes := []string{" L", " R"}
	if mono {
		suffixes = []string{" M"}
	}

	ch := &channel{name: name, mono: mono}
	for _, s := range suffixes {
		p, err := client.RegisterPort(name+s, flags)
		if err != nil {
			return nil, fmt.Errorf("register port %q: %w", name+s, err)
		}
		ch.ports = append(ch.ports, p)
		if flags.Has(audio.IsOutput) {
			e.sinks = append(e.sinks, p)
		}
	}
	return ch, nil
}

// rebuild compiles and publishes a plan. It runs on the store's writer path.
func (e *Engine) rebuild(snap *state.Snapshot) {
	p := e.compile(snap)
	e.plan.Store(p)
	e.metrics.SetPlanVersion(p.version)

	logrus.WithFields(logrus.Fields{
		"function": "Engine.rebuild",
		"version":  p.version,
		"routes":   len(p.routes),
	}).Debug("Mix plan compiled")
}

// PlanVersion returns the snapshot version of the active plan.
func (e *Engine) PlanVersion() uint64 {
	if p := e.plan.Load(); p != nil {
		return p.version
	}
	return 0
}

// Process mixes one block of nframes. A block that cannot be mixed leaves
// every output silent.
func (e *Engine) Process(nframes int) {
	defer func() {
		if recover() != nil {
			e.silence(nframes)
			e.metrics.RecordSkippedBlock()
		}
	}()

	p := e.plan.Load()
	if p == nil || nframes <= 0 || nframes > e.maxFrames {
		e.silence(nframes)
		e.metrics.RecordSkippedBlock()
		return
	}

	e.silence(nframes)
	for i := range p.routes {
		mix(&p.routes[i], nframes)
	}
	e.metrics.RecordBlock()
}

func (e *Engine) silence(nframes int) {
	if nframes > e.maxFrames || nframes < 0 {
		nframes = e.maxFrames
	}
	for _, s := range e.sinks {
		clear(s.Buffer(nframes))
	}
}

// mix accumulates one route.
func mix(r *route, n int) {
	src, dst := r.src, r.dst

	if dst.mono {
		out := dst.ports[0].Buffer(n)
		if src.mono {
			in := src.ports[0].Buffer(n)
			for i := range out {
				out[i] += in[i] * r.gain
			}
			return
		}
		inL, inR := src.ports[0].Buffer(n), src.ports[1].Buffer(n)
		for i := range out {
			out[i] += inL[i]*r.left + inR[i]*r.right
		}
		return
	}

	outL, outR := dst.ports[0].Buffer(n), dst.ports[1].Buffer(n)
	if src.mono {
		in := src.ports[0].Buffer(n)
		for i := range outL {
			outL[i] += in[i] * r.left
			outR[i] += in[i] * r.right
		}
		return
	}
	inL, inR := src.ports[0].Buffer(n), src.ports[1].Buffer(n)
	for i := range outL {
		outL[i] += inL[i] * r.left
		outR[i] += inR[i] * r.right
	}
}

var _ audio.ProcessHandler = (*Engine)(nil)
