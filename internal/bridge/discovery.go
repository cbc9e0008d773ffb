package bridge

import (
	"maps"

	"github.com/CaseyRo/ha-bosch/internal/entity"
	"github.com/CaseyRo/ha-bosch/internal/mqtt"
)

// Templates pulling fields out of the JSON state payload.
const (
	valueTemplate       = "{{ value_json.value }}"
	targetTemplate      = "{{ value_json.temperature }}"
	currentTemplate     = "{{ value_json.current_temperature }}"
	operationTemplate   = "{{ value_json.operation_mode }}"
	switchStateOn       = "True"
	switchStateOff      = "False"
	availabilityModeAll = "all"
)

// discoveryConfig is the Home Assistant MQTT discovery payload of e.
func discoveryConfig(topics mqtt.Topics, device, object string, e entity.Entity) map[string]any {
	state := topics.State(device, object)
	meta := e.Meta()

	cfg := map[string]any{
		"unique_id":          e.UniqueID(),
		"object_id":          device + "_" + object,
		"device":             deviceConfig(e.Device()),
		"availability":       availabilityConfig(topics, device),
		"availability_mode":  availabilityModeAll,
		"enabled_by_default": e.EnabledByDefault(),
	}

	cfg["json_attributes_topic"] = state

	// A null name makes Home Assistant use the device name.
	if e.Name() == "" {
		cfg["name"] = nil
	} else {
		cfg["name"] = e.Name()
	}

	if e.Category() != entity.CategoryNone {
		cfg["entity_category"] = string(e.Category())
	}

	setIf(cfg, "unit_of_measurement", meta.Unit)
	setIf(cfg, "device_class", meta.DeviceClass)
	setIf(cfg, "state_class", meta.StateClass)

	switch e.Platform() {
	case entity.PlatformSensor:
		cfg["state_topic"] = state
		cfg["value_template"] = valueTemplate

	case entity.PlatformNumber:
		cfg["state_topic"] = state
		cfg["value_template"] = valueTemplate
		cfg["command_topic"] = topics.Command(device, object, entity.FieldValue)
		cfg["min"] = meta.Min
		cfg["max"] = meta.Max
		cfg["step"] = meta.Step

	case entity.PlatformSwitch:
		cfg["state_topic"] = state
		cfg["value_template"] = valueTemplate
		cfg["command_topic"] = topics.Command(device, object, entity.FieldValue)
		cfg["payload_on"] = entity.PayloadOn
		cfg["payload_off"] = entity.PayloadOff
		cfg["state_on"] = switchStateOn
		cfg["state_off"] = switchStateOff

	case entity.PlatformSelect:
		cfg["state_topic"] = state
		cfg["value_template"] = valueTemplate
		cfg["command_topic"] = topics.Command(device, object, entity.FieldValue)
		cfg["options"] = meta.Options

	case entity.PlatformClimate:
		cfg["mode_state_topic"] = state
		cfg["mode_state_template"] = valueTemplate
		cfg["mode_command_topic"] = topics.Command(device, object, entity.FieldMode)
		cfg["modes"] = meta.Modes
		temperatureConfig(cfg, topics, device, object, meta)

	case entity.PlatformWaterHeater:
		cfg["mode_state_topic"] = state
		cfg["mode_state_template"] = operationTemplate
		cfg["mode_command_topic"] = topics.Command(device, object, entity.FieldMode)
		cfg["modes"] = meta.Options
		temperatureConfig(cfg, topics, device, object, meta)
	}

	return cfg
}

func temperatureConfig(cfg map[string]any, topics mqtt.Topics, device, object string, meta entity.Meta) {
	state := topics.State(device, object)

	cfg["temperature_command_topic"] = topics.Command(device, object, entity.FieldTemperature)
	cfg["temperature_state_topic"] = state
	cfg["temperature_state_template"] = targetTemplate
	cfg["current_temperature_topic"] = state
	cfg["current_temperature_template"] = currentTemplate
	cfg["min_temp"] = meta.Min
	cfg["max_temp"] = meta.Max

	if meta.Step > 0 {
		cfg["temp_step"] = meta.Step
		cfg["precision"] = meta.Step
	}
}

func deviceConfig(d entity.Device) map[string]any {
	out := map[string]any{
		"identifiers":  []string{d.Identifier},
		"name":         d.Name,
		"manufacturer": d.Manufacturer,
		"model":        d.Model,
	}

	setIf(out, "via_device", d.ViaDevice)

	return out
}

func availabilityConfig(topics mqtt.Topics, device string) []map[string]string {
	return []map[string]string{
		{"topic": topics.BridgeStatus()},
		{"topic": topics.Availability(device)},
	}
}

// statePayload flattens an entity state into {"value": v, <attrs>...}.
func statePayload(s entity.State) map[string]any {
	out := make(map[string]any, len(s.Attrs)+1)
	maps.Copy(out, s.Attrs)

	out["value"] = s.Value

	return out
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
