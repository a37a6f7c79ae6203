// Package telemetry collects Prometheus counters for a migration run.
//
// A run is a short-lived process, so the registry is written once to a node-exporter textfile
// at the end instead of being served over HTTP.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name when no namespace is configured.
const DefaultNamespace = "sandcastle"

// Metrics implements the engine's Recorder over a private registry.
type Metrics struct {
	registry *prometheus.Registry

	created    *prometheus.CounterVec
	adopted    *prometheus.CounterVec
	failed     *prometheus.CounterVec
	patches    *prometheus.CounterVec
	cycles     *prometheus.CounterVec
	requestDur *prometheus.HistogramVec
}

// NewMetrics creates and registers the run metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_created_total",
				Help:      "Target records created, by record type.",
			},
			[]string{"type"},
		),
		adopted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_adopted_total",
				Help:      "Existing target records adopted after a duplicate error, by record type.",
			},
			[]string{"type"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_failed_total",
				Help:      "Records that could not be migrated, by record type and stage.",
			},
			[]string{"type", "stage"},
		),
		patches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patches_total",
				Help:      "Deferred reference patches, by result.",
			},
			[]string{"result"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_breaks_total",
				Help:      "Records scheduled ahead of unsatisfied dependencies to break a cycle.",
			},
			[]string{"type"},
		),
		requestDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_request_duration_seconds",
				Help:      "Record store request duration in seconds, by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}

	m.registry.MustRegister(m.created, m.adopted, m.failed, m.patches, m.cycles, m.requestDur)
	return m
}

func (m *Metrics) RecordCreated(recordType string) {
	m.created.WithLabelValues(recordType).Inc()
}

func (m *Metrics) RecordAdopted(recordType string) {
	m.adopted.WithLabelValues(recordType).Inc()
}

func (m *Metrics) RecordFailed(recordType, stage string) {
	m.failed.WithLabelValues(recordType, stage).Inc()
}

func (m *Metrics) RecordPatch(result string) {
	m.patches.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCycleBreak(recordType string) {
	m.cycles.WithLabelValues(recordType).Inc()
}

// ObserveRequest records one store request. It matches services.RequestObserver.
func (m *Metrics) ObserveRequest(op string, d time.Duration) {
	m.requestDur.WithLabelValues(op).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes every metric in the text exposition format, replacing path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
