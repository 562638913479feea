package gossip

import (
	"encoding/json"
	"fmt"

	"eventmesh/internal/gossip/wire"
	"eventmesh/internal/merr"
)

// decodeFrame reads the type discriminator then decodes into the matching
// wire struct. An unknown type or malformed body is a ProtocolViolation:
// the caller drops and logs the frame rather than disconnecting the peer,
// per spec §7.
func decodeFrame(data []byte) (any, error) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", merr.ErrProtocolViolation, err)
	}

	switch env.Type {
	case wire.TypeDigest:
		var f wire.Digest
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: decode digest: %v", merr.ErrProtocolViolation, err)
		}
		return f, nil
	case wire.TypeDigestResponse:
		var f wire.DigestResponse
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: decode digest_response: %v", merr.ErrProtocolViolation, err)
		}
		return f, nil
	case wire.TypeEvents:
		var f wire.Events
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: decode events: %v", merr.ErrProtocolViolation, err)
		}
		return f, nil
	case wire.TypeEventsAck:
		var f wire.EventsAck
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: decode events_ack: %v", merr.ErrProtocolViolation, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", merr.ErrProtocolViolation, env.Type)
	}
}

func encodeFrame(f any) ([]byte, error) {
	return json.Marshal(f)
}
