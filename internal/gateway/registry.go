package gateway

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrDuplicate is returned when a device id is registered twice.
var ErrDuplicate = errors.New("gateway: device already registered")

// Registry holds the runtimes of a daemon keyed by device id.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]*Runtime)}
}

// Add registers rt.
func (g *Registry) Add(rt *Runtime) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := rt.DeviceID()
	if _, ok := g.runtimes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	g.runtimes[id] = rt

	return nil
}

// Get returns the runtime for deviceID.
func (g *Registry) Get(deviceID string) (*Runtime, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rt, ok := g.runtimes[deviceID]

	return rt, ok
}

// Remove unregisters deviceID and stops its poll loop. Reports whether the
// device was registered.
func (g *Registry) Remove(deviceID string) bool {
	g.mu.Lock()
	rt, ok := g.runtimes[deviceID]
	delete(g.runtimes, deviceID)
	g.mu.Unlock()

	if ok {
		rt.Stop()
	}

	return ok
}

// All returns the runtimes sorted by device id.
func (g *Registry) All() []*Runtime {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Runtime, 0, len(g.runtimes))
	for _, id := range slices.Sorted(maps.Keys(g.runtimes)) {
		out = append(out, g.runtimes[id])
	}

	return out
}

// Len is the number of registered runtimes.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.runtimes)
}
