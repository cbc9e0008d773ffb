package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// Switch payloads accepted from the host.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// Switch maps an on/off control onto a path that stores two string values.
type Switch struct {
	base
	path     string
	onValue  string
	offValue string
}

// Path is the resource the switch reads and writes.
func (s *Switch) Path() string { return s.path }

// Read implements Entity. Anything other than the on value reads as off.
func (s *Switch) Read(snap *coordinator.Snapshot) State {
	v := valueOf(snap, s.path)
	if v == nil {
		return State{Value: false}
	}

	return State{Value: fmt.Sprint(v) == s.onValue}
}

// Handle accepts ON or OFF.
func (s *Switch) Handle(ctx context.Context, w Writer, cmd Command) error {
	if cmd.Field != FieldValue {
		return invalid("switch %s has no field %q", s.path, cmd.Field)
	}

	var value string

	switch strings.ToUpper(normalizePayload(cmd.Value)) {
	case PayloadOn:
		value = s.onValue
	case PayloadOff:
		value = s.offValue
	default:
		return invalid("switch payload %q", cmd.Value)
	}

	return write(ctx, w, s.path, value)
}

const boostModePath = "/heatingCircuits/hc1/boostMode"

func newBoostSwitch(entryID, uuid string) *Switch {
	return &Switch{
		base: base{
			uniqueID: entryID + "_pointtapi_boost",
			name:     "Boost",
			platform: PlatformSwitch,
			device:   GatewayDevice(uuid),
		},
		path:     boostModePath,
		onValue:  "on",
		offValue: "off",
	}
}

type switchDef struct {
	path     string
	name     string
	category Category
	dhw      bool // belongs to the water heater device
}

var switchDefs = []switchDef{
	{path: "/gateway/update/enabled", name: "Auto firmware update", category: CategoryConfig},
	{path: "/gateway/notificationLight/enabled", name: "Notification light", category: CategoryConfig},
	{path: "/dhwCircuits/dhw1/thermalDisinfect/state", name: "Thermal disinfect", dhw: true},
}

func newSwitch(entryID, uuid string, d switchDef) *Switch {
	dev := GatewayDevice(uuid)
	if d.dhw {
		dev = waterHeaterDevice(uuid)
	}

	return &Switch{
		base: base{
			uniqueID: entryID + "_pointtapi_switch_" + slug(d.path),
			name:     d.name,
			platform: PlatformSwitch,
			device:   dev,
			category: d.category,
		},
		path:     d.path,
		onValue:  "true",
		offValue: "false",
	}
}
