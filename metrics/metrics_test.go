package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick(10*time.Millisecond, nil)
	m.ObserveTick(10*time.Millisecond, errors.New("boom"))
	m.ExitSlice(false, true)
	m.ExitSlice(false, true)
	m.ExitSlice(true, true)
	m.ExitSlice(false, false)
	m.SetExitState(2, 5)
	m.Signal("SELL")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.exitSlices.WithLabelValues("live", "placed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exitSlices.WithLabelValues("paper", "placed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exitSlices.WithLabelValues("live", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingExits))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.tracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("SELL")))
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
