package mixer

import (
	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/state"
)

// channel is the set of ports of one logical channel: one port when mono,
// left then right when stereo.
type channel struct {
	name  string
	mono  bool
	ports []portBuffer
}

// portBuffer is the subset of audio.Port used while mixing.
type portBuffer interface {
	Buffer(nframes int) []float32
}

// route accumulates src into dst. left and right already include gain.
type route struct {
	src   *channel
	dst   *channel
	gain  float32
	left  float32
	right float32
}

// plan is an immutable mixing program compiled from one snapshot.
type plan struct {
	version uint64
	routes  []route
}

func newRoute(src, dst *channel, gain, left, right float64) route {
	return route{
		src:   src,
		dst:   dst,
		gain:  float32(gain),
		left:  float32(gain * left),
		right: float32(gain * right),
	}
}

// compile builds the plan for snap. Channels missing from the registered port
// set are skipped.
func (e *Engine) compile(snap *state.Snapshot) *plan {
	mx := &snap.Config.Mixer
	p := &plan{version: snap.Version}

	for _, name := range mx.Names(config.Input) {
		src, dst := e.inputs[name], e.inputOuts[name]
		if src == nil || dst == nil {
			continue
		}
		pc := mx.Inputs[name]
		l, r := pc.BalancePair()
		p.routes = append(p.routes, newRoute(src, dst, pc.Volume(), l, r))
	}

	for _, bus := range mx.Names(config.Output) {
		dst := e.outputs[bus]
		if dst == nil {
			continue
		}
		out := mx.Outputs[bus]
		ol, or := out.BalancePair()
		for _, in := range mx.Connections.Inputs(bus) {
			src := e.inputs[in]
			pc, ok := mx.Inputs[in]
			if src == nil || !ok {
				continue
			}
			il, ir := pc.BalancePair()
			p.routes = append(p.routes, newRoute(src, dst, pc.Volume()*out.Volume(), il*ol, ir*or))
		}
	}

	if sel := mx.Monitor; sel != nil && e.monitor != nil {
		if sel.IsInput {
			if src := e.inputs[sel.Channel]; src != nil {
				pc := mx.Inputs[sel.Channel]
				l, r := pc.BalancePair()
				p.routes = append(p.routes, newRoute(src, e.monitor, pc.Volume(), l, r))
			}
		} else if src := e.outputs[sel.Channel]; src != nil {
			pc := mx.Outputs[sel.Channel]
			l, r := pc.BalancePair()
			p.routes = append(p.routes, newRoute(src, e.monitor, pc.Volume(), l, r))
		}
	}

	return p
}
