package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

const (
	testEntry = "entry1"
	testUUID  = "101506113"
)

type putCall struct {
	path  string
	value any
}

type fakeWriter struct {
	puts      []putCall
	refreshes int
	err       error
}

func (w *fakeWriter) Put(_ context.Context, path string, value any) error {
	w.puts = append(w.puts, putCall{path: path, value: value})
	return w.err
}

func (w *fakeWriter) RequestRefresh() { w.refreshes++ }

func snapshotOf(values map[string]any) *coordinator.Snapshot {
	nodes := make(map[string]pointtapi.Node, len(values))
	for path, v := range values {
		nodes[path] = pointtapi.Node{"id": path, "value": v}
	}

	return coordinator.NewSnapshot(nodes, time.Now())
}

func mustFind(t *testing.T, uniqueID string) Entity {
	t.Helper()

	e, ok := Find(Catalog(testEntry, testUUID), uniqueID)
	require.True(t, ok, "entity %s not in catalog", uniqueID)

	return e
}

func mustCommander(t *testing.T, uniqueID string) Commander {
	t.Helper()

	c, ok := mustFind(t, uniqueID).(Commander)
	require.True(t, ok, "entity %s does not accept commands", uniqueID)

	return c
}

func TestCatalog_UniqueIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}

	for _, e := range Catalog(testEntry, testUUID) {
		assert.False(t, seen[e.UniqueID()], "duplicate %s", e.UniqueID())
		seen[e.UniqueID()] = true
	}

	assert.Len(t, seen, 2+len(sensorDefs)+len(numberDefs)+1+len(switchDefs)+len(selectDefs))
}

func TestCatalog_Identifiers(t *testing.T) {
	for _, id := range []string{
		"entry1_pointtapi_zn1",
		"entry1_pointtapi_dhw1",
		"entry1_pointtapi_boost",
		"entry1_pointtapi_sensor_system_sensors_temperatures_outdoor_t1",
		"entry1_pointtapi_sensor_energy_history_total",
		"entry1_pointtapi_number_heatingCircuits_hc1_boostTemperature",
		"entry1_pointtapi_switch_gateway_update_enabled",
		"entry1_pointtapi_select_zones_zn1_userMode",
	} {
		mustFind(t, id)
	}
}

func TestCatalog_Devices(t *testing.T) {
	climate := mustFind(t, "entry1_pointtapi_zn1")
	assert.Equal(t, Device{Identifier: testUUID + "_zn1", Name: "Zone zn1", ViaDevice: testUUID}, climate.Device())

	heater := mustFind(t, "entry1_pointtapi_dhw1")
	assert.Equal(t, testUUID+"_dhw1", heater.Device().Identifier)
	assert.Equal(t, "Water heater", heater.Device().Name)

	valve := mustFind(t, "entry1_pointtapi_sensor_zones_zn1_actualValvePosition")
	assert.Equal(t, testUUID+"_zn1", valve.Device().Identifier)

	pressure := mustFind(t, "entry1_pointtapi_sensor_system_appliance_systemPressure")
	assert.Equal(t, GatewayDevice(testUUID), pressure.Device())
	assert.Equal(t, "Bosch", pressure.Device().Manufacturer)

	disinfect := mustFind(t, "entry1_pointtapi_switch_dhwCircuits_dhw1_thermalDisinfect_state")
	assert.Equal(t, testUUID+"_dhw1", disinfect.Device().Identifier)
}

func TestSensor_NameAndMetadata(t *testing.T) {
	outdoor := mustFind(t, "entry1_pointtapi_sensor_system_sensors_temperatures_outdoor_t1")
	assert.Equal(t, "Outdoor Temperature", outdoor.Name())
	assert.Equal(t, PlatformSensor, outdoor.Platform())
	assert.Equal(t, "temperature", outdoor.Meta().DeviceClass)
	assert.Equal(t, "°C", outdoor.Meta().Unit)
	assert.True(t, outdoor.EnabledByDefault())

	rssi := mustFind(t, "entry1_pointtapi_sensor_gateway_wifi_rssi")
	assert.False(t, rssi.EnabledByDefault())
	assert.Equal(t, CategoryDiagnostic, rssi.Category())
}

func TestSensor_ReadValue(t *testing.T) {
	outdoor := mustFind(t, "entry1_pointtapi_sensor_system_sensors_temperatures_outdoor_t1")

	snap := snapshotOf(map[string]any{"/system/sensors/temperatures/outdoor_t1": 7.5})
	assert.Equal(t, 7.5, outdoor.Read(snap).Value)

	assert.Nil(t, outdoor.Read(snapshotOf(nil)).Value)
	assert.Nil(t, outdoor.Read(nil).Value)
}

func TestSensor_GasHistory(t *testing.T) {
	heating := mustFind(t, "entry1_pointtapi_sensor_energy_history_ch")
	water := mustFind(t, "entry1_pointtapi_sensor_energy_history_hw")
	total := mustFind(t, "entry1_pointtapi_sensor_energy_history_total")

	snap := snapshotOf(map[string]any{
		"/energy/history": []any{
			map[string]any{"d": "01-01-2025", "gCh": 9.0, "gHw": 1.0},
			map[string]any{"d": "02-01-2025", "gCh": 4.5, "gHw": 1.25},
		},
	})

	assert.Equal(t, 4.5, heating.Read(snap).Value)
	assert.Equal(t, 1.25, water.Read(snap).Value)
	assert.InDelta(t, 5.75, total.Read(snap).Value, 1e-9)

	t.Run("missing half counts as zero", func(t *testing.T) {
		snap := snapshotOf(map[string]any{
			"/energy/history": []any{map[string]any{"gCh": 3.0}},
		})

		assert.Nil(t, water.Read(snap).Value)
		assert.InDelta(t, 3.0, total.Read(snap).Value, 1e-9)
	})

	t.Run("empty history is unknown", func(t *testing.T) {
		snap := snapshotOf(map[string]any{"/energy/history": []any{}})

		assert.Nil(t, heating.Read(snap).Value)
		assert.Nil(t, total.Read(snap).Value)
	})
}

func TestNumber_ReadCoerces(t *testing.T) {
	n := mustFind(t, "entry1_pointtapi_number_heatingCircuits_hc1_maxSupply")

	assert.Equal(t, 75.0, n.Read(snapshotOf(map[string]any{"/heatingCircuits/hc1/maxSupply": "75"})).Value)
	assert.Nil(t, n.Read(snapshotOf(map[string]any{"/heatingCircuits/hc1/maxSupply": "n/a"})).Value)
	assert.Nil(t, n.Read(snapshotOf(nil)).Value)
}

func TestNumber_Handle(t *testing.T) {
	n := mustCommander(t, "entry1_pointtapi_number_heatingCircuits_hc1_boostTemperature")
	w := &fakeWriter{}

	require.NoError(t, n.Handle(t.Context(), w, Command{Value: "21.5"}))
	assert.Equal(t, []putCall{{path: "/heatingCircuits/hc1/boostTemperature", value: 21.5}}, w.puts)
	assert.Equal(t, 1, w.refreshes)
}

func TestNumber_HandleRejectsBeforeWriting(t *testing.T) {
	n := mustCommander(t, "entry1_pointtapi_number_heatingCircuits_hc1_boostTemperature")

	for _, payload := range []string{"abc", "4.5", "30.5"} {
		w := &fakeWriter{}

		err := n.Handle(t.Context(), w, Command{Value: payload})
		require.ErrorIs(t, err, ErrInvalidCommand, payload)
		assert.Empty(t, w.puts)
		assert.Zero(t, w.refreshes)
	}
}

func TestSwitch_Boost(t *testing.T) {
	boost := mustCommander(t, "entry1_pointtapi_boost")

	assert.Equal(t, true, boost.Read(snapshotOf(map[string]any{boostModePath: "on"})).Value)
	assert.Equal(t, false, boost.Read(snapshotOf(map[string]any{boostModePath: "off"})).Value)
	assert.Equal(t, false, boost.Read(snapshotOf(nil)).Value)

	w := &fakeWriter{}
	require.NoError(t, boost.Handle(t.Context(), w, Command{Value: "ON"}))
	require.NoError(t, boost.Handle(t.Context(), w, Command{Value: "off"}))

	assert.Equal(t, []putCall{
		{path: boostModePath, value: "on"},
		{path: boostModePath, value: "off"},
	}, w.puts)
	assert.Equal(t, 2, w.refreshes)

	require.ErrorIs(t, boost.Handle(t.Context(), w, Command{Value: "toggle"}), ErrInvalidCommand)
}

func TestSwitch_BooleanStrings(t *testing.T) {
	sw := mustCommander(t, "entry1_pointtapi_switch_gateway_notificationLight_enabled")
	path := "/gateway/notificationLight/enabled"

	assert.Equal(t, true, sw.Read(snapshotOf(map[string]any{path: "true"})).Value)
	assert.Equal(t, false, sw.Read(snapshotOf(map[string]any{path: "false"})).Value)

	w := &fakeWriter{}
	require.NoError(t, sw.Handle(t.Context(), w, Command{Value: "ON"}))
	assert.Equal(t, []putCall{{path: path, value: "true"}}, w.puts)
}

func TestSelect(t *testing.T) {
	sel := mustCommander(t, "entry1_pointtapi_select_gateway_pirSensitivity")
	path := "/gateway/pirSensitivity"

	assert.Equal(t, []string{"high", "medium", "low"}, sel.Meta().Options)
	assert.Equal(t, "medium", sel.Read(snapshotOf(map[string]any{path: "medium"})).Value)
	assert.Nil(t, sel.Read(snapshotOf(nil)).Value)

	w := &fakeWriter{}
	require.NoError(t, sel.Handle(t.Context(), w, Command{Value: "low"}))
	assert.Equal(t, []putCall{{path: path, value: "low"}}, w.puts)

	require.ErrorIs(t, sel.Handle(t.Context(), w, Command{Value: "extreme"}), ErrInvalidCommand)
	assert.Len(t, w.puts, 1)
}

func TestClimate_Read(t *testing.T) {
	c := mustFind(t, "entry1_pointtapi_zn1")

	snap := snapshotOf(map[string]any{
		"/zones/zn1/temperatureActual":          20.5,
		"/zones/zn1/temperatureHeatingSetpoint": 21.0,
		"/heatingCircuits/hc1/control":          "weather",
	})

	st := c.Read(snap)
	assert.Equal(t, ModeHeat, st.Value)
	assert.Equal(t, 20.5, st.Attrs[AttrCurrentTemperature])
	assert.Equal(t, 21.0, st.Attrs[AttrTemperature])

	off := snapshotOf(map[string]any{"/heatingCircuits/hc1/control": "off"})
	assert.Equal(t, ModeOff, c.Read(off).Value)
}

func TestClimate_Handle(t *testing.T) {
	c := mustCommander(t, "entry1_pointtapi_zn1")
	w := &fakeWriter{}

	require.NoError(t, c.Handle(t.Context(), w, Command{Field: FieldTemperature, Value: "22"}))
	require.NoError(t, c.Handle(t.Context(), w, Command{Field: FieldMode, Value: "off"}))
	require.NoError(t, c.Handle(t.Context(), w, Command{Field: FieldMode, Value: "heat"}))

	assert.Equal(t, []putCall{
		{path: "/zones/zn1/manualTemperatureHeating", value: 22.0},
		{path: "/heatingCircuits/hc1/control", value: "off"},
		{path: "/heatingCircuits/hc1/control", value: "auto"},
	}, w.puts)

	require.ErrorIs(t, c.Handle(t.Context(), w, Command{Field: FieldTemperature, Value: "31"}), ErrInvalidCommand)
	require.ErrorIs(t, c.Handle(t.Context(), w, Command{Field: FieldMode, Value: "cool"}), ErrInvalidCommand)
	require.ErrorIs(t, c.Handle(t.Context(), w, Command{Value: "x"}), ErrInvalidCommand)
	assert.Len(t, w.puts, 3)
}

func TestWaterHeater_Read(t *testing.T) {
	h := mustFind(t, "entry1_pointtapi_dhw1")

	snap := snapshotOf(map[string]any{
		"/dhwCircuits/dhw1/actualTemp":             48.0,
		"/dhwCircuits/dhw1/temperatureLevels/high": 55.0,
		"/dhwCircuits/dhw1/state":                  "on",
		"/dhwCircuits/dhw1/operationMode":          "ownprogram",
	})

	st := h.Read(snap)
	assert.Equal(t, "on", st.Value)
	assert.Equal(t, 48.0, st.Attrs[AttrCurrentTemperature])
	assert.Equal(t, 55.0, st.Attrs[AttrTemperature])
	assert.Equal(t, "Auto", st.Attrs[AttrOperationMode])

	odd := snapshotOf(map[string]any{"/dhwCircuits/dhw1/operationMode": "eco"})
	assert.Equal(t, "eco", h.Read(odd).Attrs[AttrOperationMode])
}

func TestWaterHeater_Handle(t *testing.T) {
	h := mustCommander(t, "entry1_pointtapi_dhw1")
	w := &fakeWriter{}

	require.NoError(t, h.Handle(t.Context(), w, Command{Field: FieldTemperature, Value: "52"}))
	require.NoError(t, h.Handle(t.Context(), w, Command{Field: FieldMode, Value: "Auto"}))

	assert.Equal(t, []putCall{
		{path: "/dhwCircuits/dhw1/temperatureLevels/high", value: 52.0},
		{path: "/dhwCircuits/dhw1/operationMode", value: "ownprogram"},
	}, w.puts)

	require.ErrorIs(t, h.Handle(t.Context(), w, Command{Field: FieldMode, Value: "Eco"}), ErrInvalidCommand)
	require.ErrorIs(t, h.Handle(t.Context(), w, Command{Field: FieldTemperature, Value: "25"}), ErrInvalidCommand)
	assert.Len(t, w.puts, 2)
}

func TestWrite_AuthFailureSkipsRefresh(t *testing.T) {
	boost := mustCommander(t, "entry1_pointtapi_boost")
	authErr := &pointtapi.RequestError{
		Method: "PUT", Path: boostModePath, StatusCode: 401, Err: pointtapi.ErrAuthFailed,
	}
	w := &fakeWriter{err: authErr}

	err := boost.Handle(t.Context(), w, Command{Value: "ON"})
	require.ErrorIs(t, err, pointtapi.ErrAuthFailed)
	assert.Zero(t, w.refreshes)
}

func TestWrite_OtherFailureStillRefreshes(t *testing.T) {
	boost := mustCommander(t, "entry1_pointtapi_boost")
	boom := errors.New("boom")
	w := &fakeWriter{err: boom}

	err := boost.Handle(t.Context(), w, Command{Value: "ON"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, w.refreshes)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Wifi Rssi", displayName("wifi_rssi"))
	assert.Equal(t, "Gas Total Yesterday", displayName("gas_total_yesterday"))
}
