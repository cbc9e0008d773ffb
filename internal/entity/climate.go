package entity

import (
	"context"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// HVAC modes.
const (
	ModeHeat = "heat"
	ModeOff  = "off"
)

// State attribute keys shared by the climate and water heater entities.
const (
	AttrCurrentTemperature = "current_temperature"
	AttrTemperature        = "temperature"
	AttrOperationMode      = "operation_mode"
)

const zoneID = "zn1"

// Climate is the heating zone: current and target temperature plus an
// on/off mode taken from the heating circuit.
type Climate struct {
	base
	currentPath string
	targetPath  string
	setPath     string
	controlPath string
}

// Read implements Entity. Value is the HVAC mode.
func (c *Climate) Read(snap *coordinator.Snapshot) State {
	mode := ModeHeat
	if v := valueOf(snap, c.controlPath); v == "off" {
		mode = ModeOff
	}

	return State{
		Value: mode,
		Attrs: map[string]any{
			AttrCurrentTemperature: valueOf(snap, c.currentPath),
			AttrTemperature:        valueOf(snap, c.targetPath),
		},
	}
}

// Handle sets the manual temperature or switches the circuit on or off.
// Heat maps to the circuit's automatic control.
func (c *Climate) Handle(ctx context.Context, w Writer, cmd Command) error {
	switch cmd.Field {
	case FieldTemperature:
		f, err := parseNumber(cmd.Value, c.meta.Min, c.meta.Max)
		if err != nil {
			return err
		}

		return write(ctx, w, c.setPath, f)
	case FieldMode:
		switch normalizePayload(cmd.Value) {
		case ModeOff:
			return write(ctx, w, c.controlPath, "off")
		case ModeHeat:
			return write(ctx, w, c.controlPath, "auto")
		default:
			return invalid("hvac mode %q", cmd.Value)
		}
	default:
		return invalid("climate has no field %q", cmd.Field)
	}
}

func newClimate(entryID, uuid string) *Climate {
	return &Climate{
		base: base{
			uniqueID: entryID + "_pointtapi_" + zoneID,
			platform: PlatformClimate,
			device:   zoneDevice(uuid),
			meta: Meta{
				Unit:  "°C",
				Min:   5,
				Max:   30,
				Step:  0.5,
				Modes: []string{ModeHeat, ModeOff},
			},
		},
		currentPath: "/zones/" + zoneID + "/temperatureActual",
		targetPath:  "/zones/" + zoneID + "/temperatureHeatingSetpoint",
		setPath:     "/zones/" + zoneID + "/manualTemperatureHeating",
		controlPath: "/heatingCircuits/hc1/control",
	}
}
