package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectorsOnAPrivateRegistry(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry)

	// A labelled vector only appears in Gather once it holds a series.
	m.ProtectionTrips.WithLabelValues("SUB-001", "51_OVERCURRENT")
	m.BreakerOps.WithLabelValues("SUB-001")
	m.CommandsTotal.WithLabelValues("SUB-001", "OPEN_BREAKER", "ok")
	m.ModbusRequests.WithLabelValues("SUB-001", "FC03")
	m.IEC104Activations.WithLabelValues("SUB-001", "confirm")

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"gridsim_ticks_total",
		"gridsim_frequency_hz",
		"gridsim_rocof_hz_per_second",
		"gridsim_total_generation_mw",
		"gridsim_total_load_mw",
		"gridsim_total_losses_mw",
		"gridsim_under_generation",
		"gridsim_protection_trips_total",
		"gridsim_breaker_operations_total",
		"gridsim_commands_total",
		"gridsim_modbus_requests_total",
		"gridsim_iec104_activations_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestCounterVecsAccumulateByLabel(t *testing.T) {
	m := New()
	m.ProtectionTrips.WithLabelValues("SUB-001", "51_OVERCURRENT").Inc()
	m.ProtectionTrips.WithLabelValues("SUB-001", "51_OVERCURRENT").Inc()
	m.ProtectionTrips.WithLabelValues("SUB-002", "87T_DIFFERENTIAL").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProtectionTrips.WithLabelValues("SUB-001", "51_OVERCURRENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProtectionTrips.WithLabelValues("SUB-002", "87T_DIFFERENTIAL")))
}

func TestGaugesReflectLastSetValue(t *testing.T) {
	m := New()
	m.FrequencyHz.Set(49.95)
	m.UnderGeneration.Set(1)
	assert.Equal(t, 49.95, testutil.ToFloat64(m.FrequencyHz))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnderGeneration))
}
