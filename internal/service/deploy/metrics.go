package deploy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600}

type metrics struct {
	submittedTotal *prometheus.CounterVec
	finishedTotal  *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	activeJobs     *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		submittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipit",
			Name:      "jobs_submitted_total",
			Help:      "Deployment jobs accepted per channel",
		}, []string{"channel"}),
		finishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipit",
			Name:      "jobs_finished_total",
			Help:      "Deployment jobs that reached a terminal status",
		}, []string{"channel", "status", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipit",
			Name:      "job_duration_seconds",
			Help:      "Wall time from start to terminal status",
			Buckets:   durationBuckets,
		}, []string{"channel", "status"}),
		activeJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shipit",
			Name:      "jobs_active",
			Help:      "Deployment jobs currently executing",
		}, []string{"channel"}),
	}
	m.submittedTotal = register(reg, m.submittedTotal)
	m.finishedTotal = register(reg, m.finishedTotal)
	m.duration = register(reg, m.duration)
	m.activeJobs = register(reg, m.activeJobs)
	return m
}

// register adopts an already registered collector so several orchestrators
// can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) submitted(ch domain.Channel) {
	m.submittedTotal.WithLabelValues(string(ch)).Inc()
}

func (m *metrics) finished(ch domain.Channel, status domain.Status, reason string, took time.Duration) {
	if reason == "" {
		reason = "none"
	}
	m.finishedTotal.WithLabelValues(string(ch), string(status), reason).Inc()
	m.duration.WithLabelValues(string(ch), string(status)).Observe(took.Seconds())
}

func (m *metrics) active(ch domain.Channel, delta float64) {
	m.activeJobs.WithLabelValues(string(ch)).Add(delta)
}
