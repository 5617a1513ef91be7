package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered sums every sample of the named family whose labels include want.
func gathered(t *testing.T, m *MetricsService, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			matched := 0
			for _, lp := range metric.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched != len(want) {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

func TestMetricsServiceRecordsTransitions(t *testing.T) {
	m := NewMetricsService()
	m.RecordTransition("cancel", "CANCELLED", true)
	m.RecordTransition("cancel", "CANCELLED", false)
	m.RecordConflict("confirm")

	assert.Equal(t, 2.0, gathered(t, m, "session_transitions_total", map[string]string{"action": "cancel", "status": "CANCELLED"}))
	assert.Equal(t, 1.0, gathered(t, m, "session_late_actions_total", map[string]string{"action": "cancel"}))
	assert.Equal(t, 1.0, gathered(t, m, "session_transition_conflicts_total", map[string]string{"action": "confirm"}))
}

func TestMetricsServiceCacheRatio(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	assert.InDelta(t, 0.5, gathered(t, m, "cache_hit_ratio", nil), 0.0001)
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordTransition("confirm", "CONFIRMED", false)
	m.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
	assert.NotNil(t, m.Handler())
}
