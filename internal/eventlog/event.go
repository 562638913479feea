// Package eventlog is the durable, append-only event log: the replicated
// unit of truth for the whole engine. Every event is immutable once
// written; the only mutations the store supports are administrative prunes.
package eventlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record in the replicated log.
//
//   - Id is globally unique, conventionally "{nodeId}_{timestamp}_{nonce}",
//     but callers must treat it as opaque.
//   - NodeID is the origin node that created the event.
//   - Timestamp is the origin's own logical counter: strictly monotonic per
//     NodeID, starting at 1, incremented by exactly 1 per event that node
//     creates.
//   - CreationTimestamp is wall-clock milliseconds at the origin, advisory,
//     used only as a projection-side total-order tiebreak.
//   - Payload is an opaque, JSON-compatible key/value map. The engine never
//     interprets it; see internal/payload for the tagged-variant codec that
//     sits above this boundary.
type Event struct {
	ID                string         `json:"id"`
	NodeID            string         `json:"nodeId"`
	Timestamp         uint64         `json:"timestamp"`
	CreationTimestamp int64          `json:"creationTimestamp"`
	Payload           map[string]any `json:"payload"`
}

// NewID builds an event id in the "{nodeId}_{timestamp}_{nonce}" convention.
// The nonce is a short uuid segment; ids are never parsed by the engine, only
// compared for equality, so the exact format is cosmetic.
func NewID(nodeID string, timestamp uint64) string {
	nonce := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%d_%s", nodeID, timestamp, nonce)
}

// NewEvent constructs an Event for a local creation at nowMillis.
func NewEvent(nodeID string, timestamp uint64, nowMillis int64, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:                NewID(nodeID, timestamp),
		NodeID:            nodeID,
		Timestamp:         timestamp,
		CreationTimestamp: nowMillis,
		Payload:           payload,
	}
}

// NowMillis returns the current wall-clock time in milliseconds, the unit
// CreationTimestamp is defined in.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
