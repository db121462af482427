package server

import (
	"fmt"
	"strings"

	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/limits"
	"github.com/opd-ai/jamyx/reconcile"
	"github.com/opd-ai/jamyx/state"
)

// Submitter accepts reconciler signals.
type Submitter interface {
	Submit(sig reconcile.Signal)
}

// ConnectionKitHandler serves the connection-kit subsystem: edits of the
// desired port graph, which the reconciler then applies.
type ConnectionKitHandler struct {
	store      *state.Store
	reconciler Submitter
}

// NewConnectionKitHandler creates the handler.
func NewConnectionKitHandler(store *state.Store, r Submitter) *ConnectionKitHandler {
	return &ConnectionKitHandler{store: store, reconciler: r}
}

// Handle implements Handler.
func (h *ConnectionKitHandler) Handle(req *Request) (Response, bool) {
	cmd := req.Command
	switch strings.ToLower(cmd.Cmd) {
	case "connect", "con":
		return h.connect(cmd.Opts, connectOn), false
	case "disconnect", "dis":
		return h.connect(cmd.Opts, connectOff), false
	case "toggle", "tog":
		return h.connect(cmd.Opts, connectToggle), false
	case "get":
		if len(cmd.Opts) > 0 && !isConnectionsField(cmd.Opts[0]) {
			return Errorf(RetBadCommand, "Bad property: `%s`", cmd.Opts[0]), false
		}
		g := h.store.Load().Config.Connections
		return OK("desired connections", g.ToMap()), false
	case "resync":
		h.reconciler.Submit(reconcile.DisconnectAll{})
		h.reconciler.Submit(reconcile.ReconnectAllDesired{})
		return OK("resynchronizing", nil), false
	}
	return Errorf(RetBadCommand, "Bad command: `%s`", cmd.Cmd), false
}

func isConnectionsField(s string) bool {
	switch strings.ToLower(s) {
	case "connections", "cons", "con", "c":
		return true
	}
	return false
}

// connect edits the edge opts[0] (output port) → opts[1] (input port).
func (h *ConnectionKitHandler) connect(opts []string, mode connectMode) Response {
	if len(opts) < 2 {
		return usage("connect|disconnect|toggle <output-port> <input-port>")
	}
	output, input := opts[0], opts[1]
	for _, name := range []string{output, input} {
		if err := limits.ValidateChannelName(name); err != nil {
			return Errorf(RetInvalidArgument, "%s", err.Error())
		}
	}

	var connecting bool
	_, err := h.store.Update(func(cfg *config.Config) error {
		switch mode {
		case connectOn:
			connecting = true
		case connectOff:
			connecting = false
		default:
			connecting = !cfg.Connections.IsConnected(output, input)
		}
		cfg.Connections.Connect(connecting, output, input)
		return nil
	})
	if err != nil {
		return errorResponse(err)
	}

	h.reconciler.Submit(reconcile.TryConnection{Connect: connecting, Output: output, Input: input})

	verb := "connection"
	if !connecting {
		verb = "disconnection"
	}
	return OK(fmt.Sprintf("%s `%s` and `%s`", verb, output, input), map[string]any{
		"output_name": output,
		"input_name":  input,
		"connected":   connecting,
	})
}
