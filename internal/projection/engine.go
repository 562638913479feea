package projection

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"eventmesh/internal/eventlog"
	"eventmesh/internal/merr"
)

// Engine is the single logical actor that owns every registered
// Projection's in-memory state and the dedup cache, per spec §5's
// concurrency discipline ("ProjectionEngine dedup set and projection
// states: one logical actor; all process_event calls serialized in
// arrival order"). Every exported method that touches projection state or
// the dedup cache takes the same mutex, so callers never need their own
// synchronization; ClearAll only touches the snapshot store and does not.
type Engine struct {
	mu sync.Mutex

	store         *Store
	projections   []Projection         // registration order, preserved
	applied       map[string]struct{}  // dedup cache, keyed by event id
	lastProcessed map[string]string    // projectionType -> last applied event id
	eventCount    map[string]int       // projectionType -> events applied since last reset
	autoSaveEvery int                  // 0 disables auto-save
	sinceAutoSave map[string]int
}

// NewEngine builds an Engine backed by store, auto-saving each projection
// every autoSaveEvery processed events (0 disables the policy; spec's
// default is autoSaveEventCount=100, set by the caller).
func NewEngine(store *Store, autoSaveEvery int) *Engine {
	return &Engine{
		store:         store,
		applied:       make(map[string]struct{}),
		lastProcessed: make(map[string]string),
		eventCount:    make(map[string]int),
		autoSaveEvery: autoSaveEvery,
		sinceAutoSave: make(map[string]int),
	}
}

// Register adds p to the ordered set of projections this Engine drives.
// Must be called before Start/Rebuild/ProcessEvent(s).
func (e *Engine) Register(p Projection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projections = append(e.projections, p)
}

// Projections returns the registered projections in registration order.
func (e *Engine) Projections() []Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Projection(nil), e.projections...)
}

// Start attempts to load each projection's latest snapshot; on success it
// restores state and replays only the suffix of allEvents strictly after
// the snapshot's cursor. On a missing, outdated, or corrupt snapshot it
// falls back to a full Reset + replay of allEvents for that projection
// alone — other projections are unaffected. allEvents must already be
// sorted per the engine's determinism rule (eventlog.Store.GetAllEvents
// already returns them that way).
func (e *Engine) Start(allEvents []eventlog.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	byID := make(map[string]int, len(allEvents))
	for i, ev := range allEvents {
		byID[ev.ID] = i
	}

	for _, p := range e.projections {
		snap, ok, err := e.store.LoadState(p.Type(), p.StateVersion())
		if err != nil {
			return err
		}
		if !ok {
			p.Reset()
			e.applyAllLocked(p, allEvents)
			continue
		}
		if !p.RestoreState(snap.State) {
			log.Printf("projection %s: corrupt snapshot, falling back to full replay", p.Type())
			p.Reset()
			e.applyAllLocked(p, allEvents)
			continue
		}

		e.lastProcessed[p.Type()] = snap.LastProcessedEventID
		e.eventCount[p.Type()] = snap.EventCount

		start := 0
		if idx, ok := byID[snap.LastProcessedEventID]; ok {
			start = idx + 1
		}
		for _, ev := range allEvents[start:] {
			e.applyOneLocked(p, ev)
		}
	}

	// Every event applied to at least one projection this way is now
	// dedup-cached, regardless of which projection's cursor required it.
	for _, ev := range allEvents {
		e.applied[ev.ID] = struct{}{}
	}
	return nil
}

func (e *Engine) applyAllLocked(p Projection, events []eventlog.Event) {
	for _, ev := range events {
		e.applyOneLocked(p, ev)
	}
}

func (e *Engine) applyOneLocked(p Projection, ev eventlog.Event) {
	if err := p.Apply(ev); err != nil {
		log.Printf("%v", &merr.ProjectionError{ProjectionType: p.Type(), EventID: ev.ID, Err: err})
	}
	e.lastProcessed[p.Type()] = ev.ID
	e.eventCount[p.Type()]++
}

// ProcessEvent folds e into every registered projection, skipping entirely
// if e.ID is already in the dedup cache (at-most-once application, spec
// property 4). Errors from individual projections are collected and
// returned together; other projections still run.
func (e *Engine) ProcessEvent(ev eventlog.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processEventLocked(ev)
}

func (e *Engine) processEventLocked(ev eventlog.Event) error {
	if _, seen := e.applied[ev.ID]; seen {
		return nil
	}

	var errs []error
	for _, p := range e.projections {
		if err := p.Apply(ev); err != nil {
			pe := &merr.ProjectionError{ProjectionType: p.Type(), EventID: ev.ID, Err: err}
			errs = append(errs, pe)
			continue
		}
		e.lastProcessed[p.Type()] = ev.ID
		e.eventCount[p.Type()]++
		e.maybeAutoSaveLocked(p)
	}

	e.applied[ev.ID] = struct{}{}

	if len(errs) == 0 {
		return nil
	}
	return joinErrors(errs)
}

// ProcessEvents sorts events by (CreationTimestamp asc, NodeID asc,
// Timestamp asc) — the design's single permitted source of order — then
// applies them one by one via ProcessEvent.
func (e *Engine) ProcessEvents(events []eventlog.Event) error {
	sorted := append([]eventlog.Event(nil), events...)
	sortDeterministic(sorted)

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, ev := range sorted {
		if err := e.processEventLocked(ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return joinErrors(errs)
}

// Rebuild clears the dedup cache, resets every projection to its initial
// state, and replays allEvents through ProcessEvents — the only path that
// guarantees rebuild determinism (spec property 5).
func (e *Engine) Rebuild(allEvents []eventlog.Event) error {
	e.mu.Lock()
	e.applied = make(map[string]struct{})
	e.lastProcessed = make(map[string]string)
	e.eventCount = make(map[string]int)
	e.sinceAutoSave = make(map[string]int)
	for _, p := range e.projections {
		p.Reset()
	}
	e.mu.Unlock()

	return e.ProcessEvents(allEvents)
}

// maybeAutoSaveLocked persists p's state if autoSaveEvery processed events
// have accumulated since the last save. Save failures are logged, never
// propagated, per spec §4.4's auto-save policy.
func (e *Engine) maybeAutoSaveLocked(p Projection) {
	if e.autoSaveEvery <= 0 {
		return
	}
	e.sinceAutoSave[p.Type()]++
	if e.sinceAutoSave[p.Type()] < e.autoSaveEvery {
		return
	}
	e.sinceAutoSave[p.Type()] = 0
	if err := e.saveLocked(p); err != nil {
		log.Printf("projection %s: auto-save failed: %v", p.Type(), err)
	}
}

func (e *Engine) saveLocked(p Projection) error {
	state, err := p.SnapshotState()
	if err != nil {
		return err
	}
	return e.store.SaveState(p.Type(), state, e.lastProcessed[p.Type()], e.eventCount[p.Type()], p.StateVersion())
}

// SnapshotOf returns the current snapshot of the registered projection whose
// Type() matches projType, encoded as a json.RawMessage. Both the snapshot and
// its encoding happen under the engine's mutex, so the result never aliases
// state a concurrent ProcessEvent's p.Apply is mutating. Returns
// merr.ErrNotFound if no projection of that type is registered.
func (e *Engine) SnapshotOf(projType string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.projections {
		if p.Type() == projType {
			state, err := p.SnapshotState()
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(state)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(data), nil
		}
	}
	return nil, merr.ErrNotFound
}

// SaveAll persists every registered projection's current state immediately,
// bypassing the auto-save cadence. Used by the Service façade's
// save_projection_states and before shutdown.
func (e *Engine) SaveAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, p := range e.projections {
		if err := e.saveLocked(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return joinErrors(errs)
}

// ClearAll discards every persisted projection snapshot without touching
// in-memory state.
func (e *Engine) ClearAll() error {
	return e.store.ClearAll()
}

func sortDeterministic(events []eventlog.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.CreationTimestamp != b.CreationTimestamp {
			return a.CreationTimestamp < b.CreationTimestamp
		}
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.Timestamp < b.Timestamp
	})
}

type multiError struct{ errs []error }

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return &multiError{errs: errs}
}

func (m *multiError) Error() string {
	s := ""
	for i, err := range m.errs {
		if i > 0 {
			s += "; "
		}
		s += err.Error()
	}
	return s
}

func (m *multiError) Unwrap() []error { return m.errs }
