package payload

import (
	"encoding/json"

	"eventmesh/internal/eventlog"
)

// AuthorCounts is a second, deliberately tiny example Projection: a running
// count of message_posted events per author, across every room. It exists
// to exercise the engine's multi-projection fan-out (spec §4.4: "for each
// projection call apply(e)") with a projection whose state shape has
// nothing in common with RoomTimeline's.
type AuthorCounts struct {
	counts map[string]int
}

// NewAuthorCounts returns an AuthorCounts projection in its initial state.
func NewAuthorCounts() *AuthorCounts {
	p := &AuthorCounts{}
	p.Reset()
	return p
}

func (p *AuthorCounts) Type() string         { return "author_counts" }
func (p *AuthorCounts) StateVersion() string { return "v1" }

func (p *AuthorCounts) Reset() {
	p.counts = make(map[string]int)
}

func (p *AuthorCounts) Apply(e eventlog.Event) error {
	v, ok := AsMessagePosted(e.Payload)
	if !ok {
		return nil
	}
	p.counts[v.Author]++
	return nil
}

// Count returns how many message_posted events author has produced.
func (p *AuthorCounts) Count(author string) int {
	return p.counts[author]
}

func (p *AuthorCounts) SnapshotState() (any, error) {
	return p.counts, nil
}

func (p *AuthorCounts) RestoreState(state any) bool {
	data, err := json.Marshal(state)
	if err != nil {
		return false
	}
	var counts map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		return false
	}
	if counts == nil {
		counts = make(map[string]int)
	}
	p.counts = counts
	return true
}
