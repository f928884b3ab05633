package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntakeMetricsObserve(t *testing.T) {
	m := NewIntakeMetrics(nil)
	m.ObserveTransition("next", "ok")
	m.ObserveCommit("ok", "inserted")
	m.ObserveSubmission("ok", true)
	m.ObserveGatewayCall("insert_session", 20*time.Millisecond, nil)
	m.ObserveDraftSave("autosave", nil)
	m.SetActiveForms(2)
}

func TestIntakeMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIntakeMetrics(reg)
	m.ObserveSubmission("gateway", false)
	m.ObserveSubmission("ok", false)
	m.ObserveSubmission("ok", false)
	m.ObserveDraftSave("manual", errors.New("redis down"))

	families, err := reg.Gather()
	require.NoError(t, err)

	submissions := findFamily(families, "fichaclinica_intake_submissions_total")
	require.NotNil(t, submissions)
	assert.Equal(t, 2.0, counterValue(submissions, map[string]string{"outcome": "ok", "mode": "insert"}))
	assert.Equal(t, 1.0, counterValue(submissions, map[string]string{"outcome": "gateway", "mode": "insert"}))

	drafts := findFamily(families, "fichaclinica_intake_drafts_saved_total")
	require.NotNil(t, drafts)
	assert.Equal(t, 1.0, counterValue(drafts, map[string]string{"trigger": "manual", "outcome": "failed"}))
}

func TestIntakeMetricsNilSafe(t *testing.T) {
	var m *IntakeMetrics
	m.ObserveTransition("prev", "ok")
	m.ObserveCommit("gateway", "none")
	m.ObserveSubmission("ok", false)
	m.ObserveGatewayCall("upsert_patient", time.Second, errors.New("boom"))
	m.ObserveDraftSave("autosave", nil)
	m.SetActiveForms(0)
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func counterValue(family *dto.MetricFamily, labels map[string]string) float64 {
	for _, metric := range family.GetMetric() {
		matched := 0
		for _, pair := range metric.GetLabel() {
			if labels[pair.GetName()] == pair.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
