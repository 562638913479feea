package payload

import (
	"testing"

	"eventmesh/internal/eventlog"
)

func mkEvent(id string, payload map[string]any) eventlog.Event {
	return eventlog.Event{ID: id, NodeID: "n1", Timestamp: 1, CreationTimestamp: 1, Payload: payload}
}

func TestRoomTimelineAppliesPostAndReaction(t *testing.T) {
	p := NewRoomTimeline()

	posted := MessagePosted{RoomID: "r1", Author: "alice", Body: "hello"}.ToPayload()
	if err := p.Apply(mkEvent("e1", posted)); err != nil {
		t.Fatalf("apply post: %v", err)
	}

	reacted := ReactionAdded{MessageID: "e1", Reactor: "bob", Emoji: "👍"}.ToPayload()
	if err := p.Apply(mkEvent("e2", reacted)); err != nil {
		t.Fatalf("apply reaction: %v", err)
	}

	msgs := p.Messages("r1")
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestRoomTimelineEditUpdatesBody(t *testing.T) {
	p := NewRoomTimeline()
	posted := MessagePosted{RoomID: "r1", Author: "alice", Body: "original"}.ToPayload()
	p.Apply(mkEvent("e1", posted))

	edited := MessageEdited{MessageID: "e1", NewBody: "edited"}.ToPayload()
	if err := p.Apply(mkEvent("e2", edited)); err != nil {
		t.Fatalf("apply edit: %v", err)
	}

	msgs := p.Messages("r1")
	if len(msgs) != 1 || msgs[0].Body != "edited" {
		t.Fatalf("expected edited body, got %+v", msgs)
	}
}

func TestRoomTimelineSkipsUnknownEventKind(t *testing.T) {
	p := NewRoomTimeline()
	if err := p.Apply(mkEvent("e1", map[string]any{"type": "something_else"})); err != nil {
		t.Fatalf("expected unknown kind to be tolerated, got %v", err)
	}
	if len(p.Messages("r1")) != 0 {
		t.Fatal("expected no messages from an unrecognized event")
	}
}

func TestRoomTimelineSnapshotRestoreRoundTrip(t *testing.T) {
	p := NewRoomTimeline()
	posted := MessagePosted{RoomID: "r1", Author: "alice", Body: "hello"}.ToPayload()
	p.Apply(mkEvent("e1", posted))

	snap, err := p.SnapshotState()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := NewRoomTimeline()
	if !restored.RestoreState(snap) {
		t.Fatal("expected restore to succeed")
	}
	if len(restored.Messages("r1")) != 1 {
		t.Fatalf("expected restored state to have one message, got %+v", restored.Messages("r1"))
	}
}

func TestRoomTimelineRestoreRejectsGarbage(t *testing.T) {
	p := NewRoomTimeline()
	if p.RestoreState(func() {}) {
		t.Fatal("expected RestoreState to reject an unmarshalable value")
	}
}
