package telemetry

import "github.com/prometheus/client_golang/prometheus"

// DeploymentsLaunchedTotal counts successful Launch calls, by credential.
var DeploymentsLaunchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "depin_sidecar",
		Subsystem: "deployments",
		Name:      "launched_total",
		Help:      "Total number of deployments launched.",
	},
	[]string{"credential"},
)

// DeploymentsTerminatedTotal counts watchdog termination-policy outcomes, by
// outcome (user_stopped, failed_fast, relaunched, relaunch_failed, retired).
var DeploymentsTerminatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "depin_sidecar",
		Subsystem: "deployments",
		Name:      "terminated_total",
		Help:      "Total number of deployment terminations, by outcome.",
	},
	[]string{"outcome"},
)

// HeartbeatsSentTotal counts heartbeats posted to the orchestrator, by state.
var HeartbeatsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "depin_sidecar",
		Subsystem: "watchdog",
		Name:      "heartbeats_sent_total",
		Help:      "Total number of heartbeats sent to the orchestrator.",
	},
	[]string{"state"},
)

// AutoExtendsTotal counts timeout auto-extend attempts, by result.
var AutoExtendsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "depin_sidecar",
		Subsystem: "watchdog",
		Name:      "auto_extends_total",
		Help:      "Total number of deployment timeout auto-extend attempts.",
	},
	[]string{"result"},
)

// RelaunchesTotal counts watchdog-triggered re-launches.
var RelaunchesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "depin_sidecar",
		Subsystem: "watchdog",
		Name:      "relaunches_total",
		Help:      "Total number of deployments re-launched after termination.",
	},
)

// ReconcilerTicksTotal counts credential-reconciliation ticks, by result.
var ReconcilerTicksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "depin_sidecar",
		Subsystem: "reconciler",
		Name:      "ticks_total",
		Help:      "Total number of credential reconciliation ticks.",
	},
	[]string{"result"},
)

// ActiveCredentialsGauge reports the number of ProviderClients currently
// registered.
var ActiveCredentialsGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "depin_sidecar",
		Subsystem: "reconciler",
		Name:      "active_credentials",
		Help:      "Number of ProviderClients currently registered.",
	},
)

// LogBridgeConnectionsGauge tracks concurrently-open LogBridge WebSocket
// connections.
var LogBridgeConnectionsGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "depin_sidecar",
		Subsystem: "logbridge",
		Name:      "connections_active",
		Help:      "Number of currently open LogBridge WebSocket connections.",
	},
)

// NetworkRetriesTotal counts retry-on-429 attempts against the Network, by
// gateway mode.
var NetworkRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "depin_sidecar",
		Subsystem: "network",
		Name:      "retries_total",
		Help:      "Total number of retry attempts issued against the Network.",
	},
	[]string{"mode"},
)

// All returns every sidecar-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DeploymentsLaunchedTotal,
		DeploymentsTerminatedTotal,
		HeartbeatsSentTotal,
		AutoExtendsTotal,
		RelaunchesTotal,
		ReconcilerTicksTotal,
		ActiveCredentialsGauge,
		LogBridgeConnectionsGauge,
		NetworkRetriesTotal,
	}
}
