package entity

import (
	"context"
	"fmt"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// Water heater operation labels and the gateway values behind them.
var (
	operationLabels = map[string]string{"ownprogram": "Auto", "off": "Off", "on": "On"}
	operationValues = map[string]string{"Auto": "ownprogram", "Off": "off", "On": "on"}
)

// WaterHeater is the domestic hot water circuit.
type WaterHeater struct {
	base
	currentPath string
	targetPath  string
	statePath   string
	opPath      string
}

// Read implements Entity. Value is the circuit state ("on", "off" or
// whatever the gateway reports); unknown operation modes pass through.
func (h *WaterHeater) Read(snap *coordinator.Snapshot) State {
	var state any
	if v := valueOf(snap, h.statePath); v != nil {
		state = fmt.Sprint(v)
	}

	var op any
	if v := valueOf(snap, h.opPath); v != nil {
		raw := fmt.Sprint(v)
		if label, ok := operationLabels[raw]; ok {
			op = label
		} else {
			op = raw
		}
	}

	return State{
		Value: state,
		Attrs: map[string]any{
			AttrCurrentTemperature: valueOf(snap, h.currentPath),
			AttrTemperature:        valueOf(snap, h.targetPath),
			AttrOperationMode:      op,
		},
	}
}

// Handle sets the high temperature level or the operation mode.
func (h *WaterHeater) Handle(ctx context.Context, w Writer, cmd Command) error {
	switch cmd.Field {
	case FieldTemperature:
		f, err := parseNumber(cmd.Value, h.meta.Min, h.meta.Max)
		if err != nil {
			return err
		}

		return write(ctx, w, h.targetPath, f)
	case FieldMode:
		value, ok := operationValues[normalizePayload(cmd.Value)]
		if !ok {
			return invalid("operation mode %q", cmd.Value)
		}

		return write(ctx, w, h.opPath, value)
	default:
		return invalid("water heater has no field %q", cmd.Field)
	}
}

func newWaterHeater(entryID, uuid string) *WaterHeater {
	return &WaterHeater{
		base: base{
			uniqueID: entryID + "_pointtapi_dhw1",
			platform: PlatformWaterHeater,
			device:   waterHeaterDevice(uuid),
			meta: Meta{
				Unit:    "°C",
				Min:     30,
				Max:     60,
				Step:    1,
				Options: []string{"Auto", "Off", "On"},
			},
		},
		currentPath: "/dhwCircuits/dhw1/actualTemp",
		targetPath:  "/dhwCircuits/dhw1/temperatureLevels/high",
		statePath:   "/dhwCircuits/dhw1/state",
		opPath:      "/dhwCircuits/dhw1/operationMode",
	}
}
