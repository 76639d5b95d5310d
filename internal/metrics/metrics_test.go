package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.ModuleBuilt(OutcomeBuilt)
	m.ModuleBuilt(OutcomeBuilt)
	m.ModuleBuilt(OutcomeCached)
	m.ResolveFailed()
	m.Update(UpdateReload)
	m.SetResourcePots(3)
	m.ObservePhases(map[string]time.Duration{"build": time.Millisecond, "render": 2 * time.Millisecond})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModuleBuilds.WithLabelValues(OutcomeBuilt)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModuleBuilds.WithLabelValues(OutcomeCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolveFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HmrUpdates.WithLabelValues(UpdateReload)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ResourcePots))
	assert.Equal(t, 2, testutil.CollectAndCount(m.PhaseDuration))

	count, err := testutil.GatherAndCount(m.Registry)
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ModuleBuilt(OutcomeBuilt)
		m.ResolveFailed()
		m.Update(UpdatePatched)
		m.SetResourcePots(1)
		m.ObservePhases(map[string]time.Duration{"build": time.Second})
	})
}
