package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process collectors.
type Metrics struct {
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	exitSlices   *prometheus.CounterVec
	pendingExits prometheus.Gauge
	tracked      prometheus.Gauge
	signals      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoexit_ticks_total",
				Help: "Reconciliation passes by result (ok|error)",
			},
			[]string{"result"},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autoexit_tick_duration_seconds",
				Help:    "Wall time of one reconciliation pass",
				Buckets: prometheus.DefBuckets,
			},
		),
		exitSlices: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoexit_exit_slices_total",
				Help: "Exit order slices by mode (live|paper) and result (placed|failed)",
			},
			[]string{"mode", "result"},
		),
		pendingExits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoexit_pending_exits",
				Help: "Positions with uncovered exit quantity",
			},
		),
		tracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoexit_tracked_positions",
				Help: "Positions whose exit is settled",
			},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoexit_signals_total",
				Help: "Entry signals by direction (BUY|SELL)",
			},
			[]string{"direction"},
		),
	}
	reg.MustRegister(m.ticks, m.tickDuration, m.exitSlices, m.pendingExits, m.tracked, m.signals)
	return m
}

func (m *Metrics) ObserveTick(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ExitSlice(paper bool, ok bool) {
	mode := "live"
	if paper {
		mode = "paper"
	}
	result := "placed"
	if !ok {
		result = "failed"
	}
	m.exitSlices.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) SetExitState(pending, tracked int) {
	m.pendingExits.Set(float64(pending))
	m.tracked.Set(float64(tracked))
}

func (m *Metrics) Signal(direction string) {
	m.signals.WithLabelValues(direction).Inc()
}
