// Package payload is the tagged-variant codec layer spec.md §9 calls for:
// it sits above eventlog's opaque map[string]any payloads and converts them
// to/from typed Go variants for the example projections in this package.
// The engine itself never imports this package — EventStore and
// ProjectionEngine only ever see the opaque map. Unknown types decode to a
// zero value and false so callers can skip them, never error.
package payload

// Kind values for the example chat-style schema referenced in spec.md §1
// ("chat payloads in the source are used only as example schemas").
const (
	KindMessagePosted = "message_posted"
	KindMessageEdited = "message_edited"
	KindReactionAdded = "reaction_added"
)

// MessagePosted is emitted when a node creates a new chat message.
type MessagePosted struct {
	RoomID string `json:"roomId"`
	Author string `json:"author"`
	Body   string `json:"body"`
}

// ToPayload renders v as the opaque map eventlog.Event.Payload expects.
func (v MessagePosted) ToPayload() map[string]any {
	return map[string]any{
		"type":   KindMessagePosted,
		"roomId": v.RoomID,
		"author": v.Author,
		"body":   v.Body,
	}
}

// MessageEdited updates the body of a previously posted message.
type MessageEdited struct {
	MessageID string `json:"messageId"`
	NewBody   string `json:"newBody"`
}

func (v MessageEdited) ToPayload() map[string]any {
	return map[string]any{
		"type":      KindMessageEdited,
		"messageId": v.MessageID,
		"newBody":   v.NewBody,
	}
}

// ReactionAdded records a reaction to a message.
type ReactionAdded struct {
	MessageID string `json:"messageId"`
	Reactor   string `json:"reactor"`
	Emoji     string `json:"emoji"`
}

func (v ReactionAdded) ToPayload() map[string]any {
	return map[string]any{
		"type":      KindReactionAdded,
		"messageId": v.MessageID,
		"reactor":   v.Reactor,
		"emoji":     v.Emoji,
	}
}

// Kind reads the "type" discriminator out of a raw payload map, returning
// ("", false) if absent or not a string — the unknown-type case every
// projection must tolerate per spec §4.4.
func Kind(raw map[string]any) (string, bool) {
	v, ok := raw["type"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func str(raw map[string]any, key string) string {
	v, _ := raw[key].(string)
	return v
}

// AsMessagePosted decodes raw as a MessagePosted variant, returning false if
// the discriminator doesn't match.
func AsMessagePosted(raw map[string]any) (MessagePosted, bool) {
	if k, ok := Kind(raw); !ok || k != KindMessagePosted {
		return MessagePosted{}, false
	}
	return MessagePosted{
		RoomID: str(raw, "roomId"),
		Author: str(raw, "author"),
		Body:   str(raw, "body"),
	}, true
}

// AsMessageEdited decodes raw as a MessageEdited variant.
func AsMessageEdited(raw map[string]any) (MessageEdited, bool) {
	if k, ok := Kind(raw); !ok || k != KindMessageEdited {
		return MessageEdited{}, false
	}
	return MessageEdited{
		MessageID: str(raw, "messageId"),
		NewBody:   str(raw, "newBody"),
	}, true
}

// AsReactionAdded decodes raw as a ReactionAdded variant.
func AsReactionAdded(raw map[string]any) (ReactionAdded, bool) {
	if k, ok := Kind(raw); !ok || k != KindReactionAdded {
		return ReactionAdded{}, false
	}
	return ReactionAdded{
		MessageID: str(raw, "messageId"),
		Reactor:   str(raw, "reactor"),
		Emoji:     str(raw, "emoji"),
	}, true
}
