package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IntakeMetrics exposes counters/histograms for the intake form flow.
type IntakeMetrics struct {
	transitionsTotal *prometheus.CounterVec
	commitsTotal     *prometheus.CounterVec
	submissionsTotal *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	draftsTotal      *prometheus.CounterVec
	activeForms      prometheus.Gauge
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fichaclinica",
			Subsystem: "intake",
			Name:      "transitions_total",
			Help:      "Step transitions by direction and outcome",
		}, []string{"direction", "outcome"}),
		commitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fichaclinica",
			Subsystem: "intake",
			Name:      "step_one_commits_total",
			Help:      "Immediate step-1 commits by outcome",
		}, []string{"outcome", "session"}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fichaclinica",
			Subsystem: "intake",
			Name:      "submissions_total",
			Help:      "Final submissions by outcome and write mode",
		}, []string{"outcome", "mode"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fichaclinica",
			Subsystem: "intake",
			Name:      "gateway_latency_seconds",
			Help:      "Latency of persistence gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		draftsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fichaclinica",
			Subsystem: "intake",
			Name:      "drafts_saved_total",
			Help:      "Draft saves by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		activeForms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fichaclinica",
			Subsystem: "intake",
			Name:      "active_forms",
			Help:      "Forms currently held in memory",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.commitsTotal, m.submissionsTotal, m.gatewayLatency, m.draftsTotal, m.activeForms)
	return m
}

func (m *IntakeMetrics) ObserveTransition(direction, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(direction, outcome).Inc()
}

// ObserveCommit records a step-1 commit. session is "inserted", "reused" or "none".
func (m *IntakeMetrics) ObserveCommit(outcome, session string) {
	if m == nil {
		return
	}
	m.commitsTotal.WithLabelValues(outcome, session).Inc()
}

func (m *IntakeMetrics) ObserveSubmission(outcome string, update bool) {
	if m == nil {
		return
	}
	mode := "insert"
	if update {
		mode = "update"
	}
	m.submissionsTotal.WithLabelValues(outcome, mode).Inc()
}

func (m *IntakeMetrics) ObserveGatewayCall(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gatewayLatency.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

func (m *IntakeMetrics) ObserveDraftSave(trigger string, err error) {
	if m == nil {
		return
	}
	outcome := "saved"
	if err != nil {
		outcome = "failed"
	}
	m.draftsTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *IntakeMetrics) SetActiveForms(n int) {
	if m == nil {
		return
	}
	m.activeForms.Set(float64(n))
}
