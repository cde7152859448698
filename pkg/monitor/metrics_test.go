package monitor

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/ipcdemo/pkg/event"
)

// gaugeValue extracts the value of a gauge for assertions.
func gaugeValue(t *testing.T, m *Metrics) float64 {
	t.Helper()
	out := &dto.Metric{}
	require.NoError(t, m.Running.Write(out))
	return out.GetGauge().GetValue()
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestMetricsObserveAndExit(t *testing.T) {
	m := NewMetrics()
	m.Running.Inc()
	m.observe(event.NewStatus("shm", "created", "", 1))
	m.observe(event.NewError("shm", "boom", 1))
	m.exited("shm", errors.New("exit status 1"))
	assert.Equal(t, 0.0, gaugeValue(t, m))

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	events := findFamily(families, "ipcdemo_monitor_events_total")
	require.NotNil(t, events)
	assert.Equal(t, dto.MetricType_COUNTER, events.GetType())
	assert.Len(t, events.GetMetric(), 2)

	exits := findFamily(families, "ipcdemo_monitor_process_exits_total")
	require.NotNil(t, exits)
	require.Len(t, exits.GetMetric(), 1)
	labels := map[string]string{}
	for _, l := range exits.GetMetric()[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, map[string]string{"module": "shm", "result": "failure"}, labels)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.observe(event.NewData("pipes", "x", "parent -> child", 1))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ipcdemo_monitor_events_total{module="pipes",type="data"} 1`)
}
