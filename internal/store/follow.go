package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// writeTimeout bounds the database writes made from coordinator callbacks.
const writeTimeout = 5 * time.Second

// Source is the slice of a gateway runtime the store follows.
type Source interface {
	DeviceID() string
	Coordinator() *coordinator.Coordinator
}

// Restore seeds src's coordinator with the stored snapshot, if any.
// Reports whether a snapshot was installed.
func (s *Store) Restore(ctx context.Context, src Source) (bool, error) {
	snap, err := s.LoadSnapshot(ctx, src.DeviceID())
	if err != nil || snap == nil {
		return false, err
	}

	return src.Coordinator().Seed(snap), nil
}

// Follow persists every cycle result and every changed snapshot of src.
// Write failures are logged; polling never waits on them for longer than
// writeTimeout. The returned func stops following.
func (s *Store) Follow(src Source) func() {
	device := src.DeviceID()
	coord := src.Coordinator()

	stopCycles := coord.OnCycle(func(res coordinator.CycleResult) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := s.RecordCycle(ctx, device, res); err != nil {
			s.logger.Warn("recording poll cycle failed", slog.String("device", device), slog.String("error", err.Error()))
		}
	})

	stopSnapshots := coord.Subscribe(func(snap *coordinator.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := s.SaveSnapshot(ctx, device, snap); err != nil {
			s.logger.Warn("saving snapshot failed", slog.String("device", device), slog.String("error", err.Error()))
		}
	})

	return func() {
		stopCycles()
		stopSnapshots()
	}
}
