package coordinator

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

// Snapshot is the complete path-keyed result of one poll cycle. It is
// never modified after publication; nodes handed out by its accessors must
// be treated as read-only. A nil *Snapshot behaves as an empty one.
type Snapshot struct {
	nodes     map[string]pointtapi.Node
	fetchedAt time.Time
}

// NewSnapshot builds a snapshot from nodes. The map is copied; the nodes
// themselves are taken over and must not be modified afterwards.
func NewSnapshot(nodes map[string]pointtapi.Node, fetchedAt time.Time) *Snapshot {
	return &Snapshot{nodes: maps.Clone(nodes), fetchedAt: fetchedAt}
}

// Node returns the node stored under path.
func (s *Snapshot) Node(path string) (pointtapi.Node, bool) {
	if s == nil {
		return nil, false
	}

	n, ok := s.nodes[path]

	return n, ok
}

// Value returns the "value" field of the node under path.
func (s *Snapshot) Value(path string) (any, bool) {
	n, ok := s.Node(path)
	if !ok {
		return nil, false
	}

	return n.Value()
}

// Has reports whether path was fetched in this cycle.
func (s *Snapshot) Has(path string) bool {
	_, ok := s.Node(path)
	return ok
}

// Paths returns every stored path, sorted.
func (s *Snapshot) Paths() []string {
	if s == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(s.nodes))
}

// Len is the number of stored paths.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}

	return len(s.nodes)
}

// FetchedAt is when the cycle that produced the snapshot started.
func (s *Snapshot) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}

	return s.fetchedAt
}

// Nodes returns a shallow copy of the path map.
func (s *Snapshot) Nodes() map[string]pointtapi.Node {
	if s == nil {
		return map[string]pointtapi.Node{}
	}

	return maps.Clone(s.nodes)
}

// SameContent reports whether both snapshots hold identical nodes,
// ignoring fetch time.
func (s *Snapshot) SameContent(other *Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}

	if s.Len() == 0 {
		return true
	}

	return reflect.DeepEqual(s.nodes, other.nodes)
}

// MarshalJSON encodes the path map.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}

	return json.Marshal(s.nodes)
}
