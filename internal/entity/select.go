package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// Select is a path restricted to a fixed option list.
type Select struct {
	base
	path string
}

// Path is the resource the select reads and writes.
func (s *Select) Path() string { return s.path }

// Read implements Entity. The current value is shown as-is, even when the
// gateway reports an option missing from the list.
func (s *Select) Read(snap *coordinator.Snapshot) State {
	v := valueOf(snap, s.path)
	if v == nil {
		return State{}
	}

	return State{Value: fmt.Sprint(v)}
}

// Handle writes one of the configured options.
func (s *Select) Handle(ctx context.Context, w Writer, cmd Command) error {
	if cmd.Field != FieldValue {
		return invalid("select %s has no field %q", s.path, cmd.Field)
	}

	option := normalizePayload(cmd.Value)
	if !slices.Contains(s.meta.Options, option) {
		return invalid("%q is not one of %v", cmd.Value, s.meta.Options)
	}

	return write(ctx, w, s.path, option)
}

type selectDef struct {
	path     string
	name     string
	options  []string
	category Category
}

var selectDefs = []selectDef{
	{path: "/zones/zn1/userMode", name: "Zone mode", options: []string{"clock", "manual"}},
	{path: "/gateway/pirSensitivity", name: "PIR sensitivity", options: []string{"high", "medium", "low"}, category: CategoryConfig},
	{path: "/heatingCircuits/hc1/suWiSwitchMode", name: "Summer/winter mode", options: []string{"off", "automatic", "manual"}, category: CategoryConfig},
	{path: "/heatingCircuits/hc1/nightSwitchMode", name: "Night switch mode", options: []string{"off", "automatic", "reduced"}, category: CategoryConfig},
}

func newSelect(entryID, uuid string, d selectDef) *Select {
	return &Select{
		base: base{
			uniqueID: entryID + "_pointtapi_select_" + slug(d.path),
			name:     d.name,
			platform: PlatformSelect,
			device:   deviceForPath(uuid, d.path),
			category: d.category,
			meta:     Meta{Options: slices.Clone(d.options)},
		},
		path: d.path,
	}
}
