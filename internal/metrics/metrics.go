package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics
	rpcCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_rpc_calls_total",
			Help: "Total number of JSON-RPC calls",
		},
		[]string{"method"},
	)

	rpcCallTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tlbcmonitor_rpc_call_duration_seconds",
			Help:    "Duration of JSON-RPC calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_rpc_errors_total",
			Help: "Total number of failed JSON-RPC calls",
		},
		[]string{"method", "error_type"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_rpc_retries_total",
			Help: "Total number of JSON-RPC call retries",
		},
		[]string{"method"},
	)

	// Chain tracking metrics
	HeadHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tlbcmonitor_head_height",
			Help: "Height of the monitor's current chain head",
		},
	)

	RemoteHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tlbcmonitor_remote_height",
			Help: "Height of the remote node's latest block",
		},
	)

	SyncStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tlbcmonitor_sync_status",
			Help: "Sync progress between the initial block and the remote head (0..1)",
		},
	)

	BlocksFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_blocks_fetched_total",
			Help: "Total number of blocks fetched and delivered to reporters",
		},
	)

	ReorgsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_reorgs_resolved_total",
			Help: "Total number of chain reorganizations resolved",
		},
	)

	EpochsDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_epochs_discovered_total",
			Help: "Total number of validator epochs discovered",
		},
	)

	// Report metrics
	SkipsReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_skips_reported_total",
			Help: "Total number of skipped proposals reported",
		},
	)

	OfflineReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_offline_validators_reported_total",
			Help: "Total number of offline validator reports written",
		},
	)

	EquivocationsReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tlbcmonitor_equivocations_reported_total",
			Help: "Total number of equivocation reports written",
		},
	)

	componentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tlbcmonitor_component_health",
			Help: "Health of monitor components (1 = healthy, 0 = down)",
		},
		[]string{"component"},
	)
)

// RPCMethodInc increments the call counter for an RPC method.
func RPCMethodInc(method string) {
	rpcCalls.WithLabelValues(method).Inc()
}

// RPCMethodDuration records the duration of an RPC method call.
func RPCMethodDuration(method string, d time.Duration) {
	rpcCallTime.WithLabelValues(method).Observe(d.Seconds())
}

// RPCMethodError increments the error counter for an RPC method.
func RPCMethodError(method, errorType string) {
	rpcErrors.WithLabelValues(method, errorType).Inc()
}

// RPCRetryInc increments the retry counter for an RPC method.
func RPCRetryInc(method string) {
	rpcRetries.WithLabelValues(method).Inc()
}

// ComponentHealthSet marks a component as healthy or down.
func ComponentHealthSet(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	componentHealth.WithLabelValues(component).Set(v)
}
