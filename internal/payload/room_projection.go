package payload

import (
	"encoding/json"
	"log"

	"eventmesh/internal/eventlog"
)

// RoomMessage is one entry in a RoomTimeline's ordered history.
type RoomMessage struct {
	EventID string `json:"eventId"`
	RoomID  string `json:"roomId"`
	Author  string `json:"author"`
	Body    string `json:"body"`
}

// RoomTimelineState is the JSON-compatible shape SnapshotState/RestoreState
// exchange: per-room message lists plus reaction counts, keyed by message id.
type RoomTimelineState struct {
	Messages  map[string][]RoomMessage `json:"messages"`
	Reactions map[string]map[string]int `json:"reactions"` // messageId -> emoji -> count
}

// RoomTimeline is an example Projection (spec §4.4): it folds
// message_posted/message_edited/reaction_added events into a per-room
// message list, tolerating every other event kind by skipping it.
type RoomTimeline struct {
	state RoomTimelineState
}

// NewRoomTimeline returns a RoomTimeline in its initial, empty state.
func NewRoomTimeline() *RoomTimeline {
	p := &RoomTimeline{}
	p.Reset()
	return p
}

func (p *RoomTimeline) Type() string         { return "room_timeline" }
func (p *RoomTimeline) StateVersion() string { return "v1" }

func (p *RoomTimeline) Reset() {
	p.state = RoomTimelineState{
		Messages:  make(map[string][]RoomMessage),
		Reactions: make(map[string]map[string]int),
	}
}

// Apply folds one event. Unknown payload types are logged and skipped,
// never treated as an error, per spec §4.4.
func (p *RoomTimeline) Apply(e eventlog.Event) error {
	kind, ok := Kind(e.Payload)
	if !ok {
		log.Printf("room_timeline: event %s has no recognizable type, skipping", e.ID)
		return nil
	}

	switch kind {
	case KindMessagePosted:
		v, _ := AsMessagePosted(e.Payload)
		p.state.Messages[v.RoomID] = append(p.state.Messages[v.RoomID], RoomMessage{
			EventID: e.ID,
			RoomID:  v.RoomID,
			Author:  v.Author,
			Body:    v.Body,
		})
	case KindMessageEdited:
		v, _ := AsMessageEdited(e.Payload)
		p.editMessage(v.MessageID, v.NewBody)
	case KindReactionAdded:
		v, _ := AsReactionAdded(e.Payload)
		byEmoji := p.state.Reactions[v.MessageID]
		if byEmoji == nil {
			byEmoji = make(map[string]int)
			p.state.Reactions[v.MessageID] = byEmoji
		}
		byEmoji[v.Emoji]++
	default:
		log.Printf("room_timeline: unknown event type %q on %s, skipping", kind, e.ID)
	}
	return nil
}

func (p *RoomTimeline) editMessage(messageID, newBody string) {
	for room, msgs := range p.state.Messages {
		for i, m := range msgs {
			if m.EventID == messageID {
				msgs[i].Body = newBody
				p.state.Messages[room] = msgs
				return
			}
		}
	}
}

// Messages returns the ordered messages for roomID, or nil if the room has
// no history yet.
func (p *RoomTimeline) Messages(roomID string) []RoomMessage {
	return p.state.Messages[roomID]
}

func (p *RoomTimeline) SnapshotState() (any, error) {
	return p.state, nil
}

// RestoreState decodes state (round-tripped through JSON by the
// projection.Store) back into the typed RoomTimelineState. It returns
// false — triggering a reset + full replay — if the shape is unusable.
func (p *RoomTimeline) RestoreState(state any) bool {
	data, err := json.Marshal(state)
	if err != nil {
		return false
	}
	var s RoomTimelineState
	if err := json.Unmarshal(data, &s); err != nil {
		return false
	}
	if s.Messages == nil {
		s.Messages = make(map[string][]RoomMessage)
	}
	if s.Reactions == nil {
		s.Reactions = make(map[string]map[string]int)
	}
	p.state = s
	return true
}
