// Package clock implements the per-node vector clock described in the
// design: a map of nodeId -> highest contiguous logical timestamp observed
// from that node.
//
// This is NOT a max of arbitrary received timestamps. It advances only
// across contiguous known prefixes, so "send me everything after
// watermark[N]" is always sound: if watermark[N] == 5, events 1..5 from N
// are guaranteed present locally, even if event 7 has also arrived out of
// order and is sitting in a reorder buffer upstream.
package clock

import "maps"

// ClockRelation describes how two clocks relate under the partial order
// induced by per-node watermarks.
type ClockRelation int

const (
	Equal ClockRelation = iota
	Before
	After
	Concurrent
)

// Clock is a watermark map: nodeId -> highest contiguous timestamp known
// locally for that node's origin.
type Clock map[string]uint64

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Get returns the watermark for nodeId, or 0 if nothing is known yet.
func (c Clock) Get(nodeID string) uint64 {
	return c[nodeID]
}

// Observe advances the watermark for nodeID to ts if ts is greater than the
// current value. It never lowers a watermark — callers that need to detect a
// would-be regression should check Get first.
func (c Clock) Observe(nodeID string, ts uint64) {
	if ts > c[nodeID] {
		c[nodeID] = ts
	}
}

// Tick increments the local node's own watermark by exactly one and returns
// the new value. Used only by the origin node creating a new event.
func (c Clock) Tick(nodeID string) uint64 {
	c[nodeID]++
	return c[nodeID]
}

// Copy returns a deep copy so callers can hand out snapshots without
// aliasing the live map.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	maps.Copy(out, c)
	return out
}

// Merge returns a new clock that is the pointwise maximum of c and other.
// Used when reconciling a peer's reported watermark map against the local
// one for diagnostics; the engine itself advances watermarks one event at a
// time via Observe/Tick, never by blind merge, to preserve the
// contiguous-prefix invariant.
func (c Clock) Merge(other Clock) Clock {
	out := c.Copy()
	for node, ts := range other {
		if ts > out[node] {
			out[node] = ts
		}
	}
	return out
}

// Compare reports how c relates to other across all known nodes.
func (c Clock) Compare(other Clock) ClockRelation {
	cAhead, otherAhead := false, false

	for node, ts := range c {
		switch {
		case ts > other[node]:
			cAhead = true
		case ts < other[node]:
			otherAhead = true
		}
	}
	for node, ts := range other {
		if _, ok := c[node]; !ok && ts > 0 {
			otherAhead = true
		}
	}

	switch {
	case !cAhead && !otherAhead:
		return Equal
	case cAhead && !otherAhead:
		return After
	case !cAhead && otherAhead:
		return Before
	default:
		return Concurrent
	}
}
