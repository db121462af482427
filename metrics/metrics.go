package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jamyx"

// Metrics holds every collector of the daemon.
type Metrics struct {
	// Reconciler
	signalsTotal  *prometheus.CounterVec // Signals processed (by signal kind)
	retriesTotal  prometheus.Counter     // Connection attempts rescheduled
	graphOpsTotal *prometheus.CounterVec // Connect/disconnect calls (by op, result)
	queueDepth    prometheus.Gauge       // Signals waiting in the reconciler queue

	// Mixing engine
	blocksTotal        prometheus.Counter // Blocks mixed
	skippedBlocksTotal prometheus.Counter // Blocks skipped with silenced outputs
	planVersion        prometheus.Gauge   // Configuration version of the active mix plan

	// Dispatcher
	commandsTotal        *prometheus.CounterVec // Commands answered (by target, cmd, ret)
	connectionsTotal     *prometheus.CounterVec // Client connections accepted (by transport)
	pendingSubscriptions prometheus.Gauge       // One-shot subscriptions waiting to fire
	notificationsTotal   prometheus.Counter     // Notifications pushed to subscribers
}

// New registers all collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		signalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciler_signals_total",
				Help:      "Reconciler signals processed",
			},
			[]string{"signal"},
		),
		retriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciler_retries_total",
				Help:      "Connection attempts rescheduled after a rejected connect",
			},
		),
		graphOpsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciler_graph_operations_total",
				Help:      "Connect and disconnect calls issued against the audio graph",
			},
			[]string{"op", "result"},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reconciler_queue_depth",
				Help:      "Signals waiting in the reconciler queue",
			},
		),
		blocksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mixer_blocks_total",
				Help:      "Audio blocks mixed",
			},
		),
		skippedBlocksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mixer_skipped_blocks_total",
				Help:      "Audio blocks skipped with silenced outputs",
			},
		),
		planVersion: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mixer_plan_version",
				Help:      "Configuration version compiled into the active mix plan",
			},
		),
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands answered by target, command and return code",
			},
			[]string{"target", "cmd", "ret"},
		),
		connectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_connections_total",
				Help:      "Command client connections accepted",
			},
			[]string{"transport"},
		),
		pendingSubscriptions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_subscriptions",
				Help:      "One-shot notification subscriptions waiting to fire",
			},
		),
		notificationsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications pushed to subscribers",
			},
		),
	}
}

func (m *Metrics) RecordSignal(kind string) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// RecordGraphOp counts a connect or disconnect call; result is "ok" or an
// error class.
func (m *Metrics) RecordGraphOp(op, result string) {
	if m == nil {
		return
	}
	m.graphOpsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordBlock is safe to call from the process callback.
func (m *Metrics) RecordBlock() {
	if m == nil {
		return
	}
	m.blocksTotal.Inc()
}

// RecordSkippedBlock is safe to call from the process callback.
func (m *Metrics) RecordSkippedBlock() {
	if m == nil {
		return
	}
	m.skippedBlocksTotal.Inc()
}

func (m *Metrics) SetPlanVersion(v uint64) {
	if m == nil {
		return
	}
	m.planVersion.Set(float64(v))
}

// commandLabels maps every accepted verb and alias to its label value.
var commandLabels = map[string]string{
	"connect":    "connect",
	"con":        "connect",
	"disconnect": "disconnect",
	"dis":        "disconnect",
	"toggle":     "toggle",
	"tog":        "toggle",
	"get":        "get",
	"set":        "set",
	"monitor":    "monitor",
	"mon":        "monitor",
	"resync":     "resync",
	"invalid":    "invalid",
}

// CommandLabel returns the label value recorded for cmd. Verbs outside the
// protocol collapse into "unknown".
func CommandLabel(cmd string) string {
	if label, ok := commandLabels[strings.ToLower(cmd)]; ok {
		return label
	}
	return "unknown"
}

// RecordCommand counts one answered command. cmd is normalized with
// CommandLabel.
func (m *Metrics) RecordCommand(target, cmd string, ret int) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(target, CommandLabel(cmd), strconv.Itoa(ret)).Inc()
}

func (m *Metrics) RecordConnection(transport string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) SetPendingSubscriptions(n int) {
	if m == nil {
		return
	}
	m.pendingSubscriptions.Set(float64(n))
}

func (m *Metrics) RecordNotifications(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsTotal.Add(float64(n))
}
