package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsReconnects      prometheus.Counter
	wsMessages        prometheus.Counter
	mergesApplied     prometheus.Counter
	statusTransitions *prometheus.CounterVec
	waitCycles        *prometheus.CounterVec
	actionsExecuted   *prometheus.CounterVec
	registerOnce      sync.Once
)

// Register initializes Prometheus metrics on the default registry.
func Register() {
	registerOnce.Do(func() {
		wsReconnects = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "ws_reconnect_attempts_total",
			Help:      "Realtime channel reconnect attempts.",
		})
		wsMessages = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "ws_messages_total",
			Help:      "Messages received on the realtime channel.",
		})
		mergesApplied = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "merges_total",
			Help:      "Updates merged into the poll snapshot.",
		})
		statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "status_transitions_total",
			Help:      "Poll status transitions observed during reconciliation.",
		}, []string{"from", "to"})
		waitCycles = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "wait_cycles_total",
			Help:      "Completed long-poll wait calls by outcome.",
		}, []string{"outcome"})
		actionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "actions_total",
			Help:      "Confirmed poll actions by type and outcome.",
		}, []string{"action", "outcome"})
	})
}

func IncReconnect() {
	if wsReconnects != nil {
		wsReconnects.Inc()
	}
}

func IncMessage() {
	if wsMessages != nil {
		wsMessages.Inc()
	}
}

func IncMerge() {
	if mergesApplied != nil {
		mergesApplied.Inc()
	}
}

func IncStatusTransition(from, to string) {
	if statusTransitions != nil {
		statusTransitions.WithLabelValues(from, to).Inc()
	}
}

func IncWaitCycle(outcome string) {
	if waitCycles != nil {
		waitCycles.WithLabelValues(outcome).Inc()
	}
}

func IncAction(action, outcome string) {
	if actionsExecuted != nil {
		actionsExecuted.WithLabelValues(action, outcome).Inc()
	}
}
