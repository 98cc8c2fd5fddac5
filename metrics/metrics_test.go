package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFrame(time.Millisecond)
	m.ObserveFenceWait(time.Millisecond)
	m.ObserveReload(ReloadOK)
	m.SetPrograms(3)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveFrame(2 * time.Millisecond)
	m.ObserveFrame(3 * time.Millisecond)
	m.ObserveReload(ReloadOK)
	m.ObserveReload(ReloadFailed)
	m.ObserveReload(ReloadFailed)
	m.SetPrograms(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues(ReloadOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reloads.WithLabelValues(ReloadFailed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.programs))
}
