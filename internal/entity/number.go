package entity

import (
	"context"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// Number is a writable numeric setting.
type Number struct {
	base
	path string
}

// Path is the resource the number reads and writes.
func (n *Number) Path() string { return n.path }

// Read implements Entity. Values that are not numeric read as unknown.
func (n *Number) Read(snap *coordinator.Snapshot) State {
	f, ok := toFloat(valueOf(snap, n.path))
	if !ok {
		return State{}
	}

	return State{Value: f}
}

// Handle writes a new value after checking it against the range.
func (n *Number) Handle(ctx context.Context, w Writer, cmd Command) error {
	if cmd.Field != FieldValue {
		return invalid("number %s has no field %q", n.path, cmd.Field)
	}

	f, err := parseNumber(cmd.Value, n.meta.Min, n.meta.Max)
	if err != nil {
		return err
	}

	return write(ctx, w, n.path, f)
}

type numberDef struct {
	path     string
	name     string
	unit     string
	min, max float64
	step     float64
	category Category
}

var numberDefs = []numberDef{
	{path: "/heatingCircuits/hc1/boostTemperature", name: "Boost temperature", unit: "°C", min: 5, max: 30, step: 0.5},
	{path: "/heatingCircuits/hc1/boostDuration", name: "Boost duration", unit: "h", min: 0.5, max: 24, step: 0.5},
	{path: "/heatingCircuits/hc1/maxSupply", name: "Max supply temperature", unit: "°C", min: 25, max: 90, step: 1, category: CategoryConfig},
	{path: "/heatingCircuits/hc1/minSupply", name: "Min supply temperature", unit: "°C", min: 10, max: 90, step: 1, category: CategoryConfig},
	{path: "/heatingCircuits/hc1/nightThreshold", name: "Night setback threshold", unit: "°C", min: 5, max: 30, step: 0.5, category: CategoryConfig},
	{path: "/heatingCircuits/hc1/suWiThreshold", name: "Summer/winter threshold", unit: "°C", min: 10, max: 30, step: 0.5, category: CategoryConfig},
	{path: "/heatingCircuits/hc1/roomInfluence", name: "Room influence", min: 0, max: 3, step: 1, category: CategoryConfig},
	{path: "/system/sensors/temperatures/offset", name: "Temperature calibration offset", unit: "°C", min: -5, max: 5, step: 0.5, category: CategoryConfig},
	{path: "/energy/gas/annualGoal", name: "Annual gas goal", unit: "kWh", min: 0, max: 1_000_000, step: 1, category: CategoryConfig},
}

func newNumber(entryID, uuid string, d numberDef) *Number {
	return &Number{
		base: base{
			uniqueID: entryID + "_pointtapi_number_" + slug(d.path),
			name:     d.name,
			platform: PlatformNumber,
			device:   GatewayDevice(uuid),
			category: d.category,
			meta: Meta{
				Unit: d.unit,
				Min:  d.min,
				Max:  d.max,
				Step: d.step,
			},
		},
		path: d.path,
	}
}
