package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels shared by the counters.
const (
	ResultUpdated     = "updated"
	ResultNotModified = "not_modified"
	ResultError       = "error"
	ResultInstalled   = "installed"
	ResultSkipped     = "skipped"
	ResultRemoved     = "removed"
	ResultKept        = "kept"
	ResultWarning     = "warning"
	ResultLoaded      = "loaded"
	ResultFailed      = "failed"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	Installs   *prometheus.CounterVec
	Uninstalls *prometheus.CounterVec

	UnitLoads  *prometheus.CounterVec
	Registered *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers every collector with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dismantle_fetch_total",
				Help: "Total number of conditional fetches",
			},
			[]string{"kind", "result"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dismantle_fetch_duration_seconds",
				Help:    "Conditional fetch duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dismantle_install_total",
				Help: "Total number of package installs",
			},
			[]string{"handler", "result"},
		),
		Uninstalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dismantle_uninstall_total",
				Help: "Total number of package uninstalls",
			},
			[]string{"result"},
		),
		UnitLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dismantle_extension_units_total",
				Help: "Total number of extension unit loads",
			},
			[]string{"result"},
		),
		Registered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dismantle_extensions_registered",
				Help: "Number of registered extension types per category",
			},
			[]string{"category"},
		),
	}
}

// RecordFetch records one conditional fetch
func (m *Metrics) RecordFetch(kind, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(kind, result).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordInstall records one install outcome
func (m *Metrics) RecordInstall(handler, result string) {
	if m == nil {
		return
	}
	m.Installs.WithLabelValues(handler, result).Inc()
}

// RecordUninstall records one uninstall outcome
func (m *Metrics) RecordUninstall(result string) {
	if m == nil {
		return
	}
	m.Uninstalls.WithLabelValues(result).Inc()
}

// RecordUnitLoad records one extension unit load
func (m *Metrics) RecordUnitLoad(result string) {
	if m == nil {
		return
	}
	m.UnitLoads.WithLabelValues(result).Inc()
}

// SetRegistered sets the registry size of a category
func (m *Metrics) SetRegistered(category string, count int) {
	if m == nil {
		return
	}
	m.Registered.WithLabelValues(category).Set(float64(count))
}

// WriteTextfile writes every gathered metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.gatherer)
}
