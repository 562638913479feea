// Package wire defines the frame structs exchanged between GossipNodes,
// mirroring the design's §6.1 wire protocol: a JSON object with a "type"
// discriminator, carried one frame per TransportAdapter.Send call.
//
// Shape follows the teacher's QuorumRequest/QuorumResponse pair
// (internal/cluster/node.go) and ReplicateRequest (internal/cluster/
// replicator.go): a small struct per request/response kind, JSON-tagged,
// with a correlation id threading request to response.
package wire

import (
	"strconv"

	"eventmesh/internal/eventlog"
)

// Frame type discriminators.
const (
	TypeDigest         = "digest"
	TypeDigestResponse = "digest_response"
	TypeEvents         = "events"
	TypeEventsAck      = "events_ack"
)

// Envelope is the minimal shape every frame shares: enough to dispatch on
// Type and read Rid before decoding the rest of the payload.
type Envelope struct {
	Type string `json:"type"`
	Rid  string `json:"rid"`
}

// Digest opens a gossip round: the initiator's watermark map.
type Digest struct {
	Type  string            `json:"type"`
	Rid   string            `json:"rid"`
	Clock map[string]uint64 `json:"clock"`
}

// DigestResponse answers a Digest with the responder's own watermark map.
// NeededIDs is reserved per spec.md §9's open question; this design never
// populates it.
type DigestResponse struct {
	Type      string            `json:"type"`
	Rid       string            `json:"rid"`
	Clock     map[string]uint64 `json:"clock"`
	NeededIDs []string          `json:"needed_ids,omitempty"`
}

// GossipEventMessage carries the events being pushed in one round plus the
// sender's clock at send time, for diagnostics.
type GossipEventMessage struct {
	Events    []eventlog.Event  `json:"events"`
	FromClock map[string]uint64 `json:"from_clock"`
}

// Events pushes the computed event batch to the peer.
type Events struct {
	Type    string             `json:"type"`
	Rid     string             `json:"rid"`
	Message GossipEventMessage `json:"message"`
}

// EventsAck acknowledges a received Events frame.
type EventsAck struct {
	Type      string `json:"type"`
	Rid       string `json:"rid"`
	Timestamp int64  `json:"timestamp"`
}

// NewRid builds a correlation id in the "{nodeId}_{ms}_{nonce}" convention,
// the same shape as eventlog.NewID.
func NewRid(nodeID string, nowMillis int64, nonce string) string {
	return nodeID + "_" + strconv.FormatInt(nowMillis, 10) + "_" + nonce
}
