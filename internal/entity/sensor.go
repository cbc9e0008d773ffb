package entity

import (
	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

// Sensor is a read-only value. Most sensors show the "value" field of one
// path; derived sensors compute theirs from the whole snapshot.
type Sensor struct {
	base
	path    string
	valueFn func(*coordinator.Snapshot) any
}

// Path is the resource the sensor is keyed on. For derived sensors it is a
// synthetic key that never appears in a snapshot.
func (s *Sensor) Path() string { return s.path }

// Read implements Entity.
func (s *Sensor) Read(snap *coordinator.Snapshot) State {
	if s.valueFn != nil {
		return State{Value: s.valueFn(snap)}
	}

	return State{Value: valueOf(snap, s.path)}
}

// sensorDef is one row of the sensor table.
type sensorDef struct {
	path        string
	key         string
	deviceClass string
	unit        string
	stateClass  string
	category    Category
	disabled    bool
	valueFn     func(*coordinator.Snapshot) any
}

const energyHistoryPath = "/energy/history"

var sensorDefs = []sensorDef{
	{path: "/system/sensors/temperatures/outdoor_t1", key: "outdoor_temperature", deviceClass: "temperature", unit: "°C"},
	{path: "/system/sensors/humidity/indoor_h1", key: "indoor_humidity", deviceClass: "humidity", unit: "%"},
	{path: "/zones/zn1/actualValvePosition", key: "valve_position", unit: "%", category: CategoryDiagnostic},
	{path: "/system/appliance/systemPressure", key: "system_pressure", deviceClass: "pressure", unit: "bar", category: CategoryDiagnostic},
	{path: "/gateway/wifi/rssi", key: "wifi_rssi", deviceClass: "signal_strength", unit: "dBm", category: CategoryDiagnostic, disabled: true},
	{path: "/gateway/update/state", key: "update_state", category: CategoryDiagnostic},
	{path: "/heatingCircuits/hc1/boostRemainingTime", key: "boost_remaining_time", deviceClass: "duration", unit: "min"},

	{path: "/energy/history_ch", key: "gas_heating_yesterday", deviceClass: "gas", unit: "m³", stateClass: "measurement", valueFn: gasHeating},
	{path: "/energy/history_hw", key: "gas_hot_water_yesterday", deviceClass: "gas", unit: "m³", stateClass: "measurement", valueFn: gasHotWater},
	{path: "/energy/history_total", key: "gas_total_yesterday", deviceClass: "gas", unit: "m³", stateClass: "measurement", valueFn: gasTotal},

	{path: "/system/appliance/blockingError", key: "blocking_error", category: CategoryDiagnostic},
	{path: "/system/appliance/lockingError", key: "locking_error", category: CategoryDiagnostic},
	{path: "/system/appliance/maintenanceRequest", key: "maintenance_request", category: CategoryDiagnostic},
	{path: "/system/appliance/displayCode", key: "display_code", category: CategoryDiagnostic},
	{path: "/system/appliance/causeCode", key: "cause_code", category: CategoryDiagnostic},

	{path: "/gateway/versionFirmware", key: "firmware_version", category: CategoryDiagnostic},
	{path: "/heatingCircuits/hc1/supplyTemperatureSetpoint", key: "supply_temp_setpoint", deviceClass: "temperature", unit: "°C", category: CategoryDiagnostic},
	{path: "/heatingCircuits/hc1/powerSetpoint", key: "boiler_power", unit: "%", category: CategoryDiagnostic},
	{path: "/heatSources/actualSupplyTemperature", key: "actual_supply_temperature", deviceClass: "temperature", unit: "°C", category: CategoryDiagnostic},
	{path: "/heatSources/actualModulation", key: "actual_modulation", unit: "%", category: CategoryDiagnostic},
}

// lastHistoryEntry returns the newest entry of the gas history list. The
// gateway reports whole days, so the last entry is yesterday.
func lastHistoryEntry(snap *coordinator.Snapshot) (pointtapi.Node, bool) {
	v, ok := snap.Value(energyHistoryPath)
	if !ok {
		return nil, false
	}

	entries, ok := v.([]any)
	if !ok || len(entries) == 0 {
		return nil, false
	}

	last, ok := pointtapi.AsNode(entries[len(entries)-1])
	if !ok {
		// A non-object entry still counts as present; its fields read as nil.
		return pointtapi.Node{}, true
	}

	return last, true
}

func gasHeating(snap *coordinator.Snapshot) any {
	last, ok := lastHistoryEntry(snap)
	if !ok {
		return nil
	}

	return last["gCh"]
}

func gasHotWater(snap *coordinator.Snapshot) any {
	last, ok := lastHistoryEntry(snap)
	if !ok {
		return nil
	}

	return last["gHw"]
}

// gasTotal sums heating and hot water, treating a missing half as zero.
func gasTotal(snap *coordinator.Snapshot) any {
	last, ok := lastHistoryEntry(snap)
	if !ok {
		return nil
	}

	ch, _ := toFloat(last["gCh"])
	hw, _ := toFloat(last["gHw"])

	return ch + hw
}

func newSensor(entryID, uuid string, d sensorDef) *Sensor {
	return &Sensor{
		base: base{
			uniqueID: entryID + "_pointtapi_sensor_" + slug(d.path),
			name:     displayName(d.key),
			platform: PlatformSensor,
			device:   deviceForPath(uuid, d.path),
			category: d.category,
			disabled: d.disabled,
			meta: Meta{
				Unit:        d.unit,
				DeviceClass: d.deviceClass,
				StateClass:  d.stateClass,
			},
		},
		path:    d.path,
		valueFn: d.valueFn,
	}
}
