package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Recorded(true)
	m.Recorded(false)
	m.Written(3)
	m.Replayed()
	m.Blocked()
	m.Wrapped()
	m.Faked(4)
	m.Mismatched()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsCollapsed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReplayed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplayBlocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LogWraps))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FakeCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mismatches))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Recorded(true)
		m.Written(1)
		m.Replayed()
		m.Blocked()
		m.Wrapped()
		m.Faked(1)
		m.Mismatched()
	})
}
