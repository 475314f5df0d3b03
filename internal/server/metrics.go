package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/modern"
)

// Metrics live on a private registry served at /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	computations *prometheus.CounterVec
	residual     prometheus.Histogram
	sensors      prometheus.Gauge
	captures     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		computations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotorbalance_computations_total",
				Help: "Balancing computations by outcome and error kind",
			},
			[]string{"outcome", "kind"},
		),
		residual: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rotorbalance_residual_norm",
				Help:    "Predicted residual vibration norm of successful computations",
				Buckets: prometheus.ExponentialBuckets(1e-6, 10, 10),
			},
		),
		sensors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rotorbalance_last_job_sensors",
				Help: "Number of sensors in the last computed job",
			},
		),
		captures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotorbalance_captures_total",
				Help: "Meter captures by run and outcome",
			},
			[]string{"run", "outcome"},
		),
	}
	m.Registry.MustRegister(
		m.computations, m.residual, m.sensors, m.captures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCompute records one computation.
func (m *Metrics) ObserveCompute(rep *modern.Report, err error) {
	if err != nil {
		kind := balance.Kind(err)
		if kind == "" {
			kind = "other"
		}
		m.computations.WithLabelValues("error", kind).Inc()
		return
	}
	m.computations.WithLabelValues("ok", "none").Inc()
	m.residual.Observe(rep.ResidualNorm)
	m.sensors.Set(float64(rep.Sensors))
}

func (m *Metrics) ObserveCapture(run string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.captures.WithLabelValues(run, outcome).Inc()
}
