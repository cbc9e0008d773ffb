// Package entity turns snapshot paths into the read/write surface a home
// automation host exposes: sensors, numbers, switches, selects, a climate
// zone and a water heater.
//
// Entities are stateless. Read derives the display state from a snapshot;
// Handle validates a command, issues one PUT through a Writer and asks the
// coordinator for a fresh snapshot. There is no optimistic local state:
// the next published snapshot is the source of truth.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// Platform is the host entity kind.
type Platform string

// Supported platforms.
const (
	PlatformSensor      Platform = "sensor"
	PlatformNumber      Platform = "number"
	PlatformSwitch      Platform = "switch"
	PlatformSelect      Platform = "select"
	PlatformClimate     Platform = "climate"
	PlatformWaterHeater Platform = "water_heater"
)

// Category groups entities that are not primary controls.
type Category string

// Entity categories. The zero value is a primary entity.
const (
	CategoryNone       Category = ""
	CategoryConfig     Category = "config"
	CategoryDiagnostic Category = "diagnostic"
)

// Device identifies the physical or logical device an entity belongs to.
type Device struct {
	Identifier   string
	Name         string
	ViaDevice    string // parent device identifier, empty for the gateway itself
	Manufacturer string
	Model        string
}

// Meta is presentation metadata for discovery.
type Meta struct {
	Unit        string
	DeviceClass string
	StateClass  string
	Min         float64
	Max         float64
	Step        float64
	Options     []string // select options, water heater operation modes
	Modes       []string // climate HVAC modes
}

// State is what an entity shows for one snapshot. A nil Value means
// unknown.
type State struct {
	Value any
	Attrs map[string]any
}

// Entity is one read-only view of the snapshot.
type Entity interface {
	UniqueID() string
	Name() string
	Platform() Platform
	Device() Device
	Category() Category
	EnabledByDefault() bool
	Meta() Meta
	Read(snap *coordinator.Snapshot) State
}

// Writer is the write side a gateway exposes to entities.
type Writer interface {
	Put(ctx context.Context, path string, value any) error
	RequestRefresh()
}

// Command is a user request. Field selects what to change for entities
// with more than one control ("temperature", "mode"); empty means the
// entity's main value.
type Command struct {
	Field string
	Value string
}

// Commander is an entity that accepts commands.
type Commander interface {
	Entity
	Handle(ctx context.Context, w Writer, cmd Command) error
}

// Command fields.
const (
	FieldValue       = ""
	FieldTemperature = "temperature"
	FieldMode        = "mode"
)

// ErrInvalidCommand is returned for commands rejected before any request
// is made.
var ErrInvalidCommand = errors.New("entity: invalid command")

// base carries the identity shared by every entity kind.
type base struct {
	uniqueID string
	name     string
	platform Platform
	device   Device
	category Category
	disabled bool
	meta     Meta
}

func (b *base) UniqueID() string       { return b.uniqueID }
func (b *base) Name() string           { return b.name }
func (b *base) Platform() Platform     { return b.platform }
func (b *base) Device() Device         { return b.device }
func (b *base) Category() Category     { return b.category }
func (b *base) EnabledByDefault() bool { return !b.disabled }
func (b *base) Meta() Meta             { return b.meta }

// write issues one PUT and requests a refresh. Authorization failures are
// returned untouched and skip the refresh; the caller has to re-login.
// Any other failure still triggers a refresh so the display catches up.
func write(ctx context.Context, w Writer, path string, value any) error {
	err := w.Put(ctx, path, value)
	if err != nil && coordinator.IsAuthFailure(err) {
		return err
	}

	w.RequestRefresh()

	if err != nil {
		return fmt.Errorf("entity: writing %s: %w", path, err)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}

// slug turns a resource path into an identifier fragment.
func slug(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
}

var titleCaser = cases.Title(language.English)

// displayName turns a snake_case key into a title ("outdoor_temperature"
// becomes "Outdoor Temperature").
func displayName(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

// normalizePayload trims and NFC-normalizes a command payload so composed
// and decomposed forms compare equal.
func normalizePayload(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// toFloat coerces a snapshot value to a number.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseNumber parses a command payload as a number within [lo, hi].
func parseNumber(payload string, lo, hi float64) (float64, error) {
	f, err := strconv.ParseFloat(normalizePayload(payload), 64)
	if err != nil {
		return 0, invalid("%q is not a number", payload)
	}

	if f < lo || f > hi {
		return 0, invalid("%g outside [%g, %g]", f, lo, hi)
	}

	return f, nil
}

// valueOf returns the "value" field of path, nil when absent.
func valueOf(snap *coordinator.Snapshot, path string) any {
	v, _ := snap.Value(path)
	return v
}
