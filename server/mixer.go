package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/metrics"
	"github.com/opd-ai/jamyx/state"
)

// MixerHandler serves the mixer subsystem: channel queries, volume, balance,
// bus routing, monitor selection and change subscriptions.
type MixerHandler struct {
	store   *state.Store
	hooks   *state.Hooks
	metrics *metrics.Metrics
}

// NewMixerHandler creates the handler. m may be nil.
func NewMixerHandler(store *state.Store, hooks *state.Hooks, m *metrics.Metrics) *MixerHandler {
	return &MixerHandler{store: store, hooks: hooks, metrics: m}
}

// Handle implements Handler.
func (h *MixerHandler) Handle(req *Request) (Response, bool) {
	cmd := req.Command
	switch strings.ToLower(cmd.Cmd) {
	case "connect", "con":
		return h.connect(cmd.Opts, connectOn), false
	case "disconnect", "dis":
		return h.connect(cmd.Opts, connectOff), false
	case "toggle", "tog":
		return h.connect(cmd.Opts, connectToggle), false
	case "get":
		return h.get(cmd.Opts), false
	case "set":
		return h.set(cmd.Opts), false
	case "monitor", "mon":
		return h.monitor(req)
	}
	return Errorf(RetBadCommand, "Bad command: `%s`", cmd.Cmd), false
}

type connectMode int

const (
	connectOn connectMode = iota
	connectOff
	connectToggle
)

// errorResponse maps a state error to its return code.
func errorResponse(err error) Response {
	switch {
	case errors.Is(err, config.ErrChannelNotFound):
		return Errorf(RetNotFound, "%s", err.Error())
	case errors.Is(err, config.ErrInvalidDirection),
		errors.Is(err, config.ErrInvalidValue),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, state.ErrUnknownCategory):
		return Errorf(RetInvalidArgument, "%s", err.Error())
	}
	return Errorf(RetInternal, "%s", err.Error())
}

func usage(format string) Response {
	return Errorf(RetBadCommand, "usage: %s", format)
}

// connect routes opts[0] (input channel) into opts[1] (output bus).
func (h *MixerHandler) connect(opts []string, mode connectMode) Response {
	if len(opts) < 2 {
		return usage("connect|disconnect|toggle <input> <output>")
	}
	input, output := opts[0], opts[1]

	var connected, changed bool
	snap, err := h.store.Update(func(cfg *config.Config) error {
		was := cfg.Mixer.IsConnected(input, output)
		switch mode {
		case connectOn:
			connected = true
		case connectOff:
			connected = false
		default:
			connected = !was
		}
		changed = connected != was
		return cfg.Mixer.Connect(connected, input, output)
	})
	if err != nil {
		return errorResponse(err)
	}

	mx := &snap.Config.Mixer
	if changed {
		h.fireDescriptor(mx, state.OutputConnectionChanged, config.Output, output)
		h.fireDescriptor(mx, state.InputConnectionChanged, config.Input, input)
	}

	verb := "connected"
	if !connected {
		verb = "disconnected"
	}
	inputs := mx.Connections.Inputs(output)
	if inputs == nil {
		inputs = []string{}
	}
	return OK(fmt.Sprintf("%s `%s` and `%s`", verb, input, output), map[string]any{
		"input":     input,
		"output":    output,
		"connected": connected,
		"inputs":    inputs,
	})
}

func (h *MixerHandler) get(opts []string) Response {
	if len(opts) == 0 {
		return usage("get ports|volume|balance|connections|monitor|<direction> ...")
	}
	mx := &h.store.Load().Config.Mixer

	switch strings.ToLower(opts[0]) {
	case "ports", "channels":
		return OK("channels", mx.Descriptors())
	case "monitor":
		return OK("monitor", mx.Monitor)
	case "volume", "vol", "v", "balance", "bal", "b", "connections", "cons", "con", "c":
		if len(opts) < 3 {
			return usage("get volume|balance|connections <direction> <name>")
		}
		dir, err := config.ParseDirection(opts[1])
		if err != nil {
			return errorResponse(err)
		}
		return getField(mx, strings.ToLower(opts[0]), dir, opts[2])
	}

	if len(opts) < 2 {
		return usage("get <direction> <name>")
	}
	dir, err := config.ParseDirection(opts[0])
	if err != nil {
		return errorResponse(err)
	}
	d, err := mx.Descriptor(dir, opts[1])
	if err != nil {
		return errorResponse(err)
	}
	return OK("channel", d)
}

func getField(mx *config.MixerConfig, field string, dir config.Direction, name string) Response {
	switch field {
	case "connections", "cons", "con", "c":
		peers, err := mx.Connected(dir, name)
		if err != nil {
			return errorResponse(err)
		}
		if peers == nil {
			peers = []string{}
		}
		return OK(fmt.Sprintf("connections of %s `%s`", dir, name), peers)
	}

	pc, err := mx.Channel(dir, name)
	if err != nil {
		return errorResponse(err)
	}
	switch field {
	case "balance", "bal", "b":
		return OK(fmt.Sprintf("balance of %s `%s`", dir, name), pc.Balance)
	}
	return OK(fmt.Sprintf("volume of %s `%s`", dir, name), pc.Vol)
}

func (h *MixerHandler) set(opts []string) Response {
	if len(opts) < 3 {
		return usage("set volume|balance <direction> <name> <value> | set monitor <direction> <name>")
	}
	field := strings.ToLower(opts[0])
	dir, err := config.ParseDirection(opts[1])
	if err != nil {
		return errorResponse(err)
	}
	name := opts[2]

	if field == "monitor" || field == "mon" {
		snap, err := h.store.Update(func(cfg *config.Config) error {
			return cfg.Mixer.SetMonitor(dir, name)
		})
		if err != nil {
			return errorResponse(err)
		}
		return OK(fmt.Sprintf("monitoring %s `%s`", dir, name), snap.Config.Mixer.Monitor)
	}

	if len(opts) < 4 {
		return usage("set volume|balance <direction> <name> <value>")
	}
	value, err := strconv.ParseFloat(opts[3], 64)
	if err != nil {
		return Errorf(RetInvalidArgument, "invalid value %q", opts[3])
	}

	var apply func(*config.MixerConfig) error
	switch field {
	case "volume", "vol", "v":
		apply = func(mx *config.MixerConfig) error { return mx.SetVolume(dir, name, value) }
	case "balance", "bal", "b":
		apply = func(mx *config.MixerConfig) error { return mx.SetBalance(dir, name, value) }
	default:
		return Errorf(RetBadCommand, "Bad property: `%s`", opts[0])
	}
	category, err := state.ParseCategory(field, dir)
	if err != nil {
		return errorResponse(err)
	}

	snap, err := h.store.Update(func(cfg *config.Config) error { return apply(&cfg.Mixer) })
	if err != nil {
		return errorResponse(err)
	}

	mx := &snap.Config.Mixer
	d, err := mx.Descriptor(dir, name)
	if err != nil {
		return errorResponse(err)
	}
	h.fire(category, name, OK(category.String(), d))
	return OK(fmt.Sprintf("set %s of %s `%s`", field, dir, name), d)
}

// monitor parks the request stream until the next change of the channel.
func (h *MixerHandler) monitor(req *Request) (Response, bool) {
	opts := req.Command.Opts
	if len(opts) < 3 {
		return usage("monitor volume|balance|connections <direction> <name>"), false
	}
	dir, err := config.ParseDirection(opts[1])
	if err != nil {
		return errorResponse(err), false
	}
	category, err := state.ParseCategory(opts[0], dir)
	if err != nil {
		return errorResponse(err), false
	}
	name := opts[2]
	if _, err := h.store.Load().Config.Mixer.Channel(dir, name); err != nil {
		return errorResponse(err), false
	}

	handle := h.hooks.Subscribe(category, name, req.Stream)
	h.metrics.SetPendingSubscriptions(h.hooks.Total())

	logrus.WithFields(logrus.Fields{
		"function":   "MixerHandler.monitor",
		"request":    req.ID,
		"category":   category.String(),
		"channel":    name,
		"subscriber": handle.ID,
		"peer":       req.Stream.RemoteAddr(),
	}).Info("Monitoring channel")

	return OK(fmt.Sprintf("monitoring %s", category), nil), true
}

func (h *MixerHandler) fireDescriptor(mx *config.MixerConfig, category state.Category, dir config.Direction, name string) {
	d, err := mx.Descriptor(dir, name)
	if err != nil {
		return
	}
	h.fire(category, name, OK(category.String(), d))
}

func (h *MixerHandler) fire(category state.Category, name string, resp Response) {
	n := h.hooks.Fire(category, name, resp.Encode())
	if n == 0 {
		return
	}
	h.metrics.RecordNotifications(n)
	h.metrics.SetPendingSubscriptions(h.hooks.Total())

	logrus.WithFields(logrus.Fields{
		"function":    "MixerHandler.fire",
		"category":    category.String(),
		"channel":     name,
		"subscribers": n,
	}).Debug("Notified subscribers")
}
