// Package diagnostics builds the redacted support report of one gateway:
// its entry with credentials masked, the current snapshot with device
// identifiers masked, and optionally the coordinator status and recent
// poll cycles.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/store"
)

// Redacted replaces every masked value.
const Redacted = "**REDACTED**"

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const nonPointtapiNote = "Diagnostics details are only available for POINTTAPI entries."

var (
	// entryKeys are masked at any depth of the entry.
	entryKeys = map[string]bool{
		"access_token":  true,
		"refresh_token": true,
		"access_key":    true,
		"password":      true,
		"expires_at":    true,
	}

	// nodeKeys are masked at the top level of each snapshot node.
	nodeKeys = []string{"uuid", "serialNumber"}
)

// Status is the coordinator state at report time.
type Status struct {
	Available       bool      `json:"available" yaml:"available"`
	LastError       string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastSuccess     time.Time `json:"last_success" yaml:"last_success"`
	CyclesSucceeded int64     `json:"cycles_succeeded" yaml:"cycles_succeeded"`
	CyclesFailed    int64     `json:"cycles_failed" yaml:"cycles_failed"`
	PathsSkipped    int64     `json:"paths_skipped" yaml:"paths_skipped"`
}

// Cycle is one history row in the report.
type Cycle struct {
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
	Paths      int       `json:"paths" yaml:"paths"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the rendered diagnostics document. A nil CoordinatorData
// renders as null: no snapshot has been published yet.
type Report struct {
	ConfigEntry     map[string]any `json:"config_entry" yaml:"config_entry"`
	Note            string         `json:"note,omitempty" yaml:"note,omitempty"`
	CoordinatorData map[string]any `json:"coordinator_data" yaml:"coordinator_data"`
	Status          *Status        `json:"status,omitempty" yaml:"status,omitempty"`
	RecentCycles    []Cycle        `json:"recent_cycles,omitempty" yaml:"recent_cycles,omitempty"`
}

// Input gathers what a report is built from. Only Entry is required.
type Input struct {
	Entry       entry.Entry
	Snapshot    *coordinator.Snapshot
	Coordinator *coordinator.Coordinator
	Cycles      []store.Cycle
}

// Build assembles the report. Inputs are never modified.
func Build(in Input) (*Report, error) {
	cfg, err := entryData(in.Entry)
	if err != nil {
		return nil, err
	}

	r := &Report{ConfigEntry: cfg}

	if in.Entry.Protocol != entry.ProtocolPOINTTAPI {
		r.Note = nonPointtapiNote
		return r, nil
	}

	snap := in.Snapshot
	if snap == nil && in.Coordinator != nil {
		snap = in.Coordinator.Snapshot()
	}

	if snap != nil {
		r.CoordinatorData = make(map[string]any, snap.Len())
		for _, path := range snap.Paths() {
			n, _ := snap.Node(path)
			r.CoordinatorData[path] = RedactNode(n)
		}
	}

	if in.Coordinator != nil {
		r.Status = statusOf(in.Coordinator)
	}

	for _, c := range in.Cycles {
		r.RecentCycles = append(r.RecentCycles, Cycle{
			StartedAt:  c.StartedAt,
			DurationMs: c.Duration.Milliseconds(),
			Paths:      c.Paths,
			Outcome:    c.Outcome,
			Error:      c.Error,
		})
	}

	return r, nil
}

func statusOf(c *coordinator.Coordinator) *Status {
	stats := c.Stats()

	s := &Status{
		Available:       c.Available(),
		LastSuccess:     c.LastSuccess(),
		CyclesSucceeded: stats.CyclesSucceeded,
		CyclesFailed:    stats.CyclesFailed,
		PathsSkipped:    stats.PathsSkipped,
	}

	if err := c.LastError(); err != nil {
		s.LastError = err.Error()
	}

	return s
}

// entryData converts e to a generic map through its JSON form and masks
// credentials.
func entryData(e entry.Entry) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: encoding entry: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("diagnostics: decoding entry: %w", err)
	}

	return RedactData(data), nil
}

// RedactData returns a copy of data with credential keys masked at any
// depth.
func RedactData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))

	for k, v := range data {
		if entryKeys[k] {
			out[k] = Redacted
			continue
		}

		out[k] = redactValue(v)
	}

	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactData(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}

		return out
	default:
		return v
	}
}

// RedactNode returns a copy of n with device identifiers masked.
func RedactNode(n map[string]any) map[string]any {
	if n == nil {
		return nil
	}

	out := maps.Clone(n)

	for _, k := range nodeKeys {
		if _, ok := out[k]; ok {
			out[k] = Redacted
		}
	}

	return out
}

// Write renders r in format (json or yaml).
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("diagnostics: writing json: %w", err)
		}

		return nil

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("diagnostics: writing yaml: %w", err)
		}

		if err := enc.Close(); err != nil {
			return fmt.Errorf("diagnostics: writing yaml: %w", err)
		}

		return nil

	default:
		return fmt.Errorf("diagnostics: unknown format %q (want json or yaml)", format)
	}
}
