// Package merr defines the typed error vocabulary shared across eventmesh's
// components, mirroring the error kinds enumerated in the design's error
// handling section. Concrete errors still wrap underlying causes with
// fmt.Errorf("...: %w", err); these sentinels let callers errors.Is against
// a kind without caring which layer produced it.
package merr

import "errors"

var (
	// ErrConfigInvalid marks bad options supplied at startup. Fatal.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrStorageFailed marks an event/clock/projection store I/O failure.
	// Surfaced to the caller; the engine keeps running, only the affected
	// operation aborts.
	ErrStorageFailed = errors.New("storage failed")

	// ErrProtocolViolation marks a malformed frame: unknown type, missing
	// fields. The frame is dropped and logged; the peer is not disconnected.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrPeerDown marks a peer that disappeared mid-round. Not fatal; any
	// future awaiting that peer resolves with this error.
	ErrPeerDown = errors.New("peer down")

	// ErrTimeout marks a request deadline exceeded. The peer's attempt
	// counter increments and backoff applies.
	ErrTimeout = errors.New("timeout")

	// ErrShutdown marks an engine that is stopping. Every pending future
	// resolves with this when Stop is called.
	ErrShutdown = errors.New("shutdown")

	// ErrCapacityExceeded marks admission refused by the PeerManager.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrUnreachable marks a send to a peer that is not currently connected.
	ErrUnreachable = errors.New("peer unreachable")

	// ErrNotFound marks a lookup (event, clock, projection snapshot) that
	// found nothing, distinct from a storage failure.
	ErrNotFound = errors.New("not found")
)

// ProjectionError records that a projection's Apply returned an error
// without aborting the other registered projections. The engine collects
// these per ProcessEvent/ProcessEvents call rather than returning on first
// failure.
type ProjectionError struct {
	ProjectionType string
	EventID        string
	Err            error
}

func (e *ProjectionError) Error() string {
	return "projection " + e.ProjectionType + " failed to apply event " + e.EventID + ": " + e.Err.Error()
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}
