package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Commands executed, by lower-case command name and ok/error status
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "banditucb_commands_total",
		Help: "Total number of executed commands",
	}, []string{"command", "status"})

	CommandLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "banditucb_command_latency_seconds",
		Help:    "Latency of command execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	Keys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "banditucb_keys",
		Help: "Number of bandits in the keyspace",
	})

	// Snapshot and journal rewrite runs, by kind and ok/error status
	PersistenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "banditucb_persistence_total",
		Help: "Total number of snapshot and journal rewrite runs",
	}, []string{"kind", "status"})

	// Replicated commands a replica could not decode or apply, by reason
	ReplicationErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "banditucb_replication_errors_total",
		Help: "Total number of replicated commands that were dropped or failed on a replica",
	}, []string{"reason"})

	once sync.Once
)

func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			CommandsTotal,
			CommandLatency,
			Keys,
			PersistenceTotal,
			ReplicationErrorsTotal,
		)
	})
}

func Status(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
