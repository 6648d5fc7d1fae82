// Package metrics exposes labcore operation and workflow metrics to
// Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labcore/internal/core"
)

const namespace = "labcore"

// Metrics holds every labcore collector registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// Service operations by name and outcome
	Operations *prometheus.CounterVec
	// Service operation latency by name
	OperationLatency *prometheus.HistogramVec

	// Analyses by workflow state, from the dashboard snapshot
	Analyses *prometheus.GaugeVec
	// Incubations by time-window status
	Incubations *prometheus.GaugeVec
	// Equipment units with an open usage log
	EquipmentInUse prometheus.Gauge

	// Scheduled job runs by job and outcome
	JobRuns *prometheus.CounterVec
	// Usage logs written by the historical backfill, by outcome
	BackfillLogs *prometheus.CounterVec
}

// New creates a private registry with the Go and process collectors and
// registers all labcore metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by name and outcome",
		}, []string{"operation", "outcome"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations including retries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		Analyses: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analyses",
			Help:      "Analyses by workflow state",
		}, []string{"state"}),
		Incubations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "incubations",
			Help:      "Media incubations by time-window status",
		}, []string{"status"}),
		EquipmentInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equipment_in_use",
			Help:      "Equipment units with an open usage log",
		}),
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job runs by job and outcome",
		}, []string{"job", "outcome"}),
		BackfillLogs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_usage_logs_total",
			Help:      "Usage logs touched by the historical backfill",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe implements core.MetricsRecorder.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome(success)).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// SetDashboard copies a dashboard snapshot into the workflow gauges.
func (m *Metrics) SetDashboard(d core.Dashboard) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues("total").Set(float64(d.Total))
	m.Analyses.WithLabelValues("in_process").Set(float64(d.InProcess))
	m.Analyses.WithLabelValues("completed").Set(float64(d.Completed))
	m.Analyses.WithLabelValues("all_ready").Set(float64(d.AllReady))
	m.Analyses.WithLabelValues("signed").Set(float64(d.Signed))
	m.Analyses.WithLabelValues("pending_signature").Set(float64(d.Pending))
	m.Incubations.WithLabelValues("active").Set(float64(d.ActiveIncubations))
	m.Incubations.WithLabelValues("overdue").Set(float64(d.OverdueIncubations))
	m.EquipmentInUse.Set(float64(d.EquipmentInUse))
}

// ObserveJob counts one scheduled job run.
func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, outcome(err == nil)).Inc()
}

// ObserveBackfill counts the usage logs a backfill run touched.
func (m *Metrics) ObserveBackfill(r core.BackfillReport) {
	if m == nil {
		return
	}
	m.BackfillLogs.WithLabelValues("created").Add(float64(r.Created))
	m.BackfillLogs.WithLabelValues("updated").Add(float64(r.Updated))
	m.BackfillLogs.WithLabelValues("skipped").Add(float64(r.Skipped))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
