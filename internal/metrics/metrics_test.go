package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_RegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.NotNil(t, r.QueueDepth)
	assert.NotNil(t, r.ToolDuration)
}

func TestNewRegistry_NilRegistererDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NewRegistry(nil)
	})
}

func TestRegistry_ToolFailuresIncrementsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ToolFailures.WithLabelValues("search").Inc()
	r.ToolFailures.WithLabelValues("search").Inc()
	r.ToolFailures.WithLabelValues("write_file").Inc()

	var m dto.Metric
	require.NoError(t, r.ToolFailures.WithLabelValues("search").(prometheus.Metric).Write(&m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}
