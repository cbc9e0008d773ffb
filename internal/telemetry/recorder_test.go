package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entity"
	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

const testDevice = "101506113"

type fakeWriter struct {
	mu     sync.Mutex
	points []*write.Point
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.points = append(w.points, p)
}

func (w *fakeWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.points))
	for _, p := range w.points {
		out = append(out, strings.TrimSpace(write.PointToLineProtocol(p, time.Second)))
	}

	return out
}

var testTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func snapshotOf(values map[string]any) *coordinator.Snapshot {
	nodes := make(map[string]pointtapi.Node, len(values))
	for path, v := range values {
		nodes[path] = pointtapi.Node{"id": path, "value": v}
	}

	return coordinator.NewSnapshot(nodes, testTime)
}

func TestPoints(t *testing.T) {
	snap := snapshotOf(map[string]any{
		"/system/sensors/temperatures/outdoor_t1": 7.5,
		"/gateway/versionFirmware":                "05.04.00",
		"/zones/zn1/temperatureActual":            20.5,
		"/zones/zn1/temperatureHeatingSetpoint":   21.5,
		"/dhwCircuits/dhw1/actualTemp":            48.5,
		"/heatingCircuits/hc1/control":            "weather",
		"/heatingCircuits/hc1/boostRemainingTime": 15,
	})

	entities := entity.Catalog("e", testDevice)
	w := &fakeWriter{}

	n := NewRecorder(w, slog.New(slog.DiscardHandler)).Record(testDevice, entities, snap)
	lines := w.lines()
	require.Len(t, lines, n)

	ts := " 1735787045"
	assert.Contains(t, lines,
		"bosch_pointtapi,device=101506113,entity=e_pointtapi_sensor_system_sensors_temperatures_outdoor_t1,platform=sensor value=7.5"+ts)
	assert.Contains(t, lines,
		"bosch_pointtapi,device=101506113,entity=e_pointtapi_sensor_heatingCircuits_hc1_boostRemainingTime,platform=sensor value=15"+ts)
	assert.Contains(t, lines,
		"bosch_pointtapi,attribute=current_temperature,device=101506113,entity=e_pointtapi_zn1,platform=climate value=20.5"+ts)
	assert.Contains(t, lines,
		"bosch_pointtapi,attribute=temperature,device=101506113,entity=e_pointtapi_zn1,platform=climate value=21.5"+ts)
	assert.Contains(t, lines,
		"bosch_pointtapi,attribute=current_temperature,device=101506113,entity=e_pointtapi_dhw1,platform=water_heater value=48.5"+ts)

	for _, l := range lines {
		assert.NotContains(t, l, "versionFirmware")
		assert.NotContains(t, l, "attribute=temperature,device=101506113,entity=e_pointtapi_dhw1")
	}
}

func TestPoints_NilSnapshot(t *testing.T) {
	assert.Nil(t, Points(testDevice, entity.Catalog("e", testDevice), nil))
}

type fakeFetcher struct{}

func (fakeFetcher) Get(_ context.Context, path string) (any, error) {
	switch path {
	case "/gateway":
		return map[string]any{
			"id":         "/gateway",
			"references": []any{map[string]any{"id": "/gateway/wifi/rssi"}},
		}, nil
	case "/gateway/wifi/rssi":
		return map[string]any{"id": "/gateway/wifi/rssi", "value": -61.0}, nil
	}

	return nil, errors.New("not found")
}

type fakeSource struct {
	coord *coordinator.Coordinator
}

func (s fakeSource) DeviceID() string { return testDevice }

func (s fakeSource) Entities() []entity.Entity { return entity.Catalog("e", testDevice) }

func (s fakeSource) Coordinator() *coordinator.Coordinator { return s.coord }

func TestFollow(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	coord := coordinator.New(fakeFetcher{}, coordinator.Options{Roots: []string{"/gateway"}}, logger)
	w := &fakeWriter{}

	stop := NewRecorder(w, logger).Follow(fakeSource{coord: coord})

	_, err := coord.Refresh(t.Context())
	require.NoError(t, err)

	lines := w.lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "entity=e_pointtapi_sensor_gateway_wifi_rssi,platform=sensor value=-61")

	// Unchanged content is still a published snapshot and gets its point.
	_, err = coord.Refresh(t.Context())
	require.NoError(t, err)
	assert.Len(t, w.lines(), 2)

	stop()

	_, err = coord.Refresh(t.Context())
	require.NoError(t, err)
	assert.Len(t, w.lines(), 2)
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{float32(2), 2, true},
		{3, 3, true},
		{int64(4), 4, true},
		{json.Number("5.5"), 5.5, true},
		{json.Number("x"), 0, false},
		{"6", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}

	for _, tt := range tests {
		got, ok := numeric(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "%v", tt.in)
	}
}
