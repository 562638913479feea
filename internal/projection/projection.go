// Package projection implements the CQRS read side: a deterministic fold of
// the event log into one or more queryable states, with idempotent
// application, snapshot persistence, and replay-based recovery.
package projection

import (
	"eventmesh/internal/eventlog"
)

// Projection is a pure reducer: no I/O, no locking of its own. The Engine
// serializes every call into it, so implementations do not need to be
// concurrency-safe on their own.
type Projection interface {
	// Type returns the stable identifier this projection is registered and
	// snapshotted under.
	Type() string

	// StateVersion identifies the shape of the value SnapshotState/
	// RestoreState exchange. Bumping it invalidates old snapshots: the
	// Store treats a snapshot whose stored version differs from the
	// current StateVersion as absent, forcing a full replay.
	StateVersion() string

	// Apply folds one event into the projection's state. It must be
	// idempotent on event.ID (the Engine already deduplicates before
	// calling Apply, but Apply must not assume it is the only caller) and
	// must tolerate unknown payload types by skipping them rather than
	// erroring.
	Apply(e eventlog.Event) error

	// Reset returns the projection to its initial, empty state.
	Reset()

	// SnapshotState returns a JSON-compatible value representing the
	// current state.
	SnapshotState() (any, error)

	// RestoreState loads a previously snapshotted state. It returns false
	// (not an error) if state is structurally unusable, signaling the
	// Engine to fall back to Reset + full replay rather than trusting a
	// corrupt snapshot.
	RestoreState(state any) bool
}
