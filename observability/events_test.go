package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"cvnchain/core/events"
)

func TestEventMetricsCountsByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeGovernanceApplied))

	fan := events.Fanout{events.NewRecorder(4), m}
	fan.Emit(events.GovernanceApplied{Hash: "0x01", Height: 1})
	fan.Emit(events.GovernanceApplied{Hash: "0x02", Height: 2})
	fan.Emit(nil)

	after := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeGovernanceApplied))
	require.Equal(t, before+2, after)
}

func TestEventMetricsNilSafe(t *testing.T) {
	var m *EventMetrics
	require.NotPanics(t, func() { m.Emit(events.GovernanceRejected{}) })
}
