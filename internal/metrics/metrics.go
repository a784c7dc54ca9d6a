// Package metrics instruments the orchestrator with Prometheus collectors
// from github.com/prometheus/client_golang. Every collector is registered
// to a private *prometheus.Registry owned by the orchestrator rather than
// the global default registry, and nothing in this package starts an
// HTTP exposition endpoint — exposing the registry over /metrics, if ever
// wanted, is left to the embedding binary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the full set of collectors the orchestrator updates once per
// tick and on command-channel activity.
type Metrics struct {
	Registry *prometheus.Registry

	TickDuration      prometheus.Histogram
	TicksTotal        prometheus.Counter
	FrequencyHz       prometheus.Gauge
	ROCOFHzPerS       prometheus.Gauge
	TotalGenerationMW prometheus.Gauge
	TotalLoadMW       prometheus.Gauge
	TotalLossesMW     prometheus.Gauge
	UnderGeneration   prometheus.Gauge

	ProtectionTrips   *prometheus.CounterVec // labels: node, reason
	BreakerOps        *prometheus.CounterVec // labels: node
	CommandsTotal     *prometheus.CounterVec // labels: node, kind, status
	ModbusRequests    *prometheus.CounterVec // labels: node, function_code
	IEC104Activations *prometheus.CounterVec // labels: node, phase
}

// New builds a Metrics set registered to a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridsim", Name: "tick_duration_seconds",
			Help:    "Wall-clock time spent executing one simulation tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsim", Name: "ticks_total",
			Help: "Total number of simulation ticks executed.",
		}),
		FrequencyHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsim", Name: "frequency_hz",
			Help: "Current system frequency.",
		}),
		ROCOFHzPerS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsim", Name: "rocof_hz_per_second",
			Help: "Current system rate of change of frequency.",
		}),
		TotalGenerationMW: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsim", Name: "total_generation_mw",
			Help: "Total dispatched generation across all generators.",
		}),
		TotalLoadMW: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsim", Name: "total_load_mw",
			Help: "Total forecast load across all distribution feeders.",
		}),
		TotalLossesMW: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsim", Name: "total_losses_mw",
			Help: "Total resistive line losses for the most recent power flow solve.",
		}),
		UnderGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsim", Name: "under_generation",
			Help: "1 if dispatch could not meet forecast demand on the most recent tick, else 0.",
		}),
		ProtectionTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsim", Name: "protection_trips_total",
			Help: "Total protection relay trips, by node and reason.",
		}, []string{"node", "reason"}),
		BreakerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsim", Name: "breaker_operations_total",
			Help: "Total breaker open/close operations, by node.",
		}, []string{"node"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsim", Name: "commands_total",
			Help: "Total external commands processed, by node, kind and outcome status.",
		}, []string{"node", "kind", "status"}),
		ModbusRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsim", Name: "modbus_requests_total",
			Help: "Total Modbus/TCP requests served, by node and function code.",
		}, []string{"node", "function_code"}),
		IEC104Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsim", Name: "iec104_activations_total",
			Help: "Total IEC 60870-5-104 interrogation activations, by node and phase.",
		}, []string{"node", "phase"}),
	}

	reg.MustRegister(
		m.TickDuration, m.TicksTotal, m.FrequencyHz, m.ROCOFHzPerS,
		m.TotalGenerationMW, m.TotalLoadMW, m.TotalLossesMW, m.UnderGeneration,
		m.ProtectionTrips, m.BreakerOps, m.CommandsTotal, m.ModbusRequests, m.IEC104Activations,
	)
	return m
}
