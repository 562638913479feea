package gossip

import (
	"testing"

	"eventmesh/internal/gossip/wire"
)

func TestEncodeDecodeDigestRoundTrip(t *testing.T) {
	d := wire.Digest{Type: wire.TypeDigest, Rid: "r1", Clock: map[string]uint64{"a": 3}}
	data, err := encodeFrame(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(wire.Digest)
	if !ok {
		t.Fatalf("expected wire.Digest, got %T", decoded)
	}
	if got.Rid != "r1" || got.Clock["a"] != 3 {
		t.Fatalf("unexpected round-trip: %+v", got)
	}
}

func TestDecodeUnknownTypeIsProtocolViolation(t *testing.T) {
	_, err := decodeFrame([]byte(`{"type":"bogus","rid":"r1"}`))
	if err == nil {
		t.Fatal("expected an error for an unknown frame type")
	}
}

func TestDecodeMalformedJSONIsProtocolViolation(t *testing.T) {
	_, err := decodeFrame([]byte(`not json`))
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}
