package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New(nil)

	m.ObserveChange("added")
	m.ObserveChange("added")
	m.ObserveChange("removed")
	m.ObserveDecision(true)
	m.ObserveDecision(false)
	m.ObserveDecision(false)
	m.ObserveInvocation(OutcomeCached, 0)
	m.ObserveInvocation(OutcomeExecuted, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChangesTotal.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangesTotal.WithLabelValues("removed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("up_to_date")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("out_of_date")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues(OutcomeCached)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExecutionSeconds))
}

func TestNilMetrics_IsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveChange("added")
	m.ObserveDecision(true)
	m.ObserveInvocation(OutcomeExecuted, time.Second)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile("ignored"))
}

func TestWriteTextfile(t *testing.T) {
	m := New(nil)
	m.ObserveDecision(true)

	path := filepath.Join(t.TempDir(), "upcheck.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `upcheck_decisions_total{outcome="up_to_date"} 1`)
}
