// Package camera holds the live camera picture of the intersection: a
// latest-value store fed by the Kafka ingest consumer and read by the
// snapshot aggregator, plus the consumer itself and the payload codec.
package camera

import (
	"sync"
	"time"

	"crosswatch/internal/types"
)

// IdentitySource supplies the intersection identity stamped onto every
// assembled traffic state. The settings store satisfies this.
type IdentitySource interface {
	Intersection() types.IntersectionIdentity
}

// StateView keeps the most recent directional reading and camera frame per
// approach. Writes come from the ingest consumer; reads from the aggregator
// and the health probe. All methods are safe for concurrent use.
type StateView struct {
	identity IdentitySource

	mu       sync.RWMutex
	readings map[types.Direction]types.DirectionalReading
	frames   map[types.Direction][]byte
	seen     bool
}

// NewStateView returns an empty view. Latest reports false until the first
// reading lands.
func NewStateView(identity IdentitySource) *StateView {
	return &StateView{
		identity: identity,
		readings: make(map[types.Direction]types.DirectionalReading, 4),
		frames:   make(map[types.Direction][]byte, 4),
	}
}

// Apply stores one direction's latest reading. A non-empty frame replaces the
// previous frame for that approach; a message without a frame leaves the prior
// frame in place so the imagery opt-in keeps serving the last capture.
func (v *StateView) Apply(reading types.DirectionalReading, frame []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.readings[reading.Direction] = reading
	if len(frame) > 0 {
		v.frames[reading.Direction] = frame
	}
	v.seen = true
}

// Latest assembles the fused traffic state, or reports false if no reading has
// ever been applied. Totals and the overall timestamp are recomputed from the
// per-direction readings on every call; directions that have not reported yet
// contribute zero counts and a zero timestamp. Status banding is left to the
// aggregator, which owns the threshold.
func (v *StateView) Latest() (*types.TrafficState, bool) {
	ident := v.identity.Intersection()

	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.seen {
		return nil, false
	}

	state := &types.TrafficState{
		IntersectionID:   ident.ID,
		IntersectionName: ident.Name,
		Latitude:         ident.Latitude,
		Longitude:        ident.Longitude,
		Readings:         make(map[types.Direction]types.DirectionalReading, 4),
	}

	var newest time.Time
	for _, d := range types.Directions() {
		r, ok := v.readings[d]
		if !ok {
			r = types.DirectionalReading{Direction: d}
		}
		state.Readings[d] = r
		state.TotalDensity += r.VehicleCount
		state.TotalPedestrianCount += r.PedestrianCount
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	state.Timestamp = newest

	return state, true
}

// Frames returns the latest raw JPEG per direction. The returned map and
// slices are copies; callers may hold them across ingest writes.
func (v *StateView) Frames() map[types.Direction][]byte {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[types.Direction][]byte, len(v.frames))
	for d, f := range v.frames {
		cp := make([]byte, len(f))
		copy(cp, f)
		out[d] = cp
	}
	return out
}
