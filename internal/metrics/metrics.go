// Package metrics exposes Prometheus instrumentation for the session
// engine. Collectors register lazily on first use so importing the
// package has no side effects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexgram",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls by terminal outcome.",
		},
		[]string{"outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nexgram",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "End-to-end RPC call duration, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	floodWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nexgram",
			Subsystem: "rpc",
			Name:      "flood_wait_seconds_total",
			Help:      "Total seconds spent honoring flood waits.",
		},
	)
	redirects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nexgram",
			Subsystem: "rpc",
			Name:      "dc_redirects_total",
			Help:      "Datacenter redirects followed.",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nexgram",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after lost connections.",
		},
	)
	pendingCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nexgram",
			Subsystem: "session",
			Name:      "pending_calls",
			Help:      "Calls currently awaiting a response.",
		},
	)
	updatesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexgram",
			Subsystem: "updates",
			Name:      "payloads_total",
			Help:      "Update payloads by delivery result.",
		},
		[]string{"result"},
	)
	gaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nexgram",
			Subsystem: "updates",
			Name:      "gaps_total",
			Help:      "Sequence gaps detected in the update stream.",
		},
	)
)

// Register installs the collectors into the default registry. Safe to
// call any number of times.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			rpcCalls, rpcDuration, floodWaits, redirects,
			reconnects, pendingCalls, updatesDelivered, gaps,
		)
	})
}

// RecordCall records one finished RPC call with its terminal outcome
// ("ok", "rpc_error", "timeout", "disconnected").
func RecordCall(outcome string, duration time.Duration) {
	Register()
	rpcCalls.WithLabelValues(outcome).Inc()
	rpcDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFloodWait records time spent parked by a FLOOD_WAIT answer.
func RecordFloodWait(d time.Duration) {
	Register()
	floodWaits.Add(d.Seconds())
}

// RecordRedirect records one followed datacenter redirect.
func RecordRedirect() {
	Register()
	redirects.Inc()
}

// RecordReconnect records one reconnect attempt.
func RecordReconnect() {
	Register()
	reconnects.Inc()
}

// SetPendingCalls publishes the current in-flight call count.
func SetPendingCalls(n int) {
	Register()
	pendingCalls.Set(float64(n))
}

// RecordUpdate records one update payload ("delivered" or "dropped").
func RecordUpdate(result string) {
	Register()
	updatesDelivered.WithLabelValues(result).Inc()
}

// RecordGap records one detected update sequence gap.
func RecordGap() {
	Register()
	gaps.Inc()
}
