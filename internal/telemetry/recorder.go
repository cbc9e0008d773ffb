package telemetry

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entity"
)

// Measurement is the InfluxDB measurement every reading is written to.
const Measurement = "bosch_pointtapi"

// Tag and field keys.
const (
	TagDevice    = "device"
	TagEntity    = "entity"
	TagPlatform  = "platform"
	TagAttribute = "attribute"
	FieldValue   = "value"
)

// PointWriter queues points. *Client and influx's api.WriteAPI satisfy it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Source is the slice of a gateway runtime the recorder follows.
type Source interface {
	DeviceID() string
	Entities() []entity.Entity
	Coordinator() *coordinator.Coordinator
}

// Recorder turns published snapshots into points.
type Recorder struct {
	w      PointWriter
	logger *slog.Logger
}

// NewRecorder returns a recorder writing to w.
func NewRecorder(w PointWriter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{w: w, logger: logger}
}

// Follow records every snapshot src publishes from now on, including ones
// whose content did not change, so each series has a point per cycle. The
// returned func stops it.
func (r *Recorder) Follow(src Source) func() {
	device := src.DeviceID()
	entities := src.Entities()

	return src.Coordinator().OnCycle(func(res coordinator.CycleResult) {
		if res.Snapshot == nil {
			return
		}

		n := r.Record(device, entities, res.Snapshot)
		r.logger.Debug("telemetry recorded", slog.String("device", device), slog.Int("points", n))
	})
}

// Record writes the numeric readings of entities in snap and returns how
// many points were queued.
func (r *Recorder) Record(device string, entities []entity.Entity, snap *coordinator.Snapshot) int {
	points := Points(device, entities, snap)
	for _, p := range points {
		r.w.WritePoint(p)
	}

	return len(points)
}

// Points builds one point per numeric reading, timestamped with the
// snapshot's fetch time. Sensors and numbers contribute their value;
// climate and water heater entities contribute their current and target
// temperatures, tagged with the attribute name. Non-numeric and unknown
// readings are skipped.
func Points(device string, entities []entity.Entity, snap *coordinator.Snapshot) []*write.Point {
	if snap == nil {
		return nil
	}

	at := snap.FetchedAt()

	var out []*write.Point

	for _, e := range entities {
		st := e.Read(snap)

		switch e.Platform() {
		case entity.PlatformSensor, entity.PlatformNumber:
			if v, ok := numeric(st.Value); ok {
				out = append(out, point(device, e, "", v, at))
			}

		case entity.PlatformClimate, entity.PlatformWaterHeater:
			for _, attr := range []string{entity.AttrCurrentTemperature, entity.AttrTemperature} {
				if v, ok := numeric(st.Attrs[attr]); ok {
					out = append(out, point(device, e, attr, v, at))
				}
			}
		}
	}

	return out
}

func point(device string, e entity.Entity, attr string, v float64, at time.Time) *write.Point {
	tags := map[string]string{
		TagDevice:   device,
		TagEntity:   e.UniqueID(),
		TagPlatform: string(e.Platform()),
	}

	if attr != "" {
		tags[TagAttribute] = attr
	}

	return write.NewPoint(Measurement, tags, map[string]any{FieldValue: v}, at)
}

func numeric(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
