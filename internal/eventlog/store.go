// Package eventlog: Store is the durable per-node append log described in
// the design's EventStore contract. It generalizes the teacher's
// WAL+snapshot Store (internal/store/store.go in the teacher repo) from "one
// mutable Value per key" to "one immutable Event per id, indexed by origin
// and by creation order."
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"eventmesh/internal/merr"
)

// Store is the durable, queryable event log for one local node. It holds
// events from every origin it has ever learned about, not just its own.
//
// Safe for concurrent use: reads take an RLock, writes (append, prune,
// snapshot) take a full Lock, matching the teacher's RWMutex discipline.
type Store struct {
	mu      sync.RWMutex
	dataDir string
	wal     *wal

	byID      map[string]Event
	byNode    map[string][]Event // sorted ascending by Timestamp
	tsPresent map[string]map[uint64]struct{}
	watermark map[string]uint64
}

// New opens (or creates) the event store rooted at dataDir. Opening is
// idempotent: calling New again on the same directory just reopens and
// replays. Startup sequence mirrors the teacher's Store.New: load the
// snapshot, open the WAL, replay anything appended after the snapshot.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create event dir: %v", merr.ErrStorageFailed, err)
	}

	s := &Store{
		dataDir:   dataDir,
		byID:      make(map[string]Event),
		byNode:    make(map[string][]Event),
		tsPresent: make(map[string]map[uint64]struct{}),
		watermark: make(map[string]uint64),
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("%w: load snapshot: %v", merr.ErrStorageFailed, err)
	}

	w, err := openWAL(filepath.Join(dataDir, "events.wal"))
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %v", merr.ErrStorageFailed, err)
	}
	s.wal = w

	entries, err := w.readAll()
	if err != nil {
		return nil, fmt.Errorf("%w: replay wal: %v", merr.ErrStorageFailed, err)
	}
	for _, e := range entries {
		s.insert(e)
	}

	return s, nil
}

// insert adds e to every in-memory index if it is not already present,
// advancing the watermark if and only if this closes a contiguous prefix.
// Returns whether e was newly added.
func (s *Store) insert(e Event) bool {
	if _, exists := s.byID[e.ID]; exists {
		return false
	}

	s.byID[e.ID] = e

	list := s.byNode[e.NodeID]
	idx := sort.Search(len(list), func(i int) bool { return list[i].Timestamp >= e.Timestamp })
	list = append(list, Event{})
	copy(list[idx+1:], list[idx:])
	list[idx] = e
	s.byNode[e.NodeID] = list

	present := s.tsPresent[e.NodeID]
	if present == nil {
		present = make(map[uint64]struct{})
		s.tsPresent[e.NodeID] = present
	}
	present[e.Timestamp] = struct{}{}

	wm := s.watermark[e.NodeID]
	if e.Timestamp == wm+1 {
		for {
			next := wm + 1
			if _, ok := present[next]; !ok {
				break
			}
			wm = next
		}
		s.watermark[e.NodeID] = wm
	}

	return true
}

// SaveEvent upserts a single event by id. A no-op (no counter bump, no
// watermark change) if the id already exists.
func (s *Store) SaveEvent(e Event) error {
	return s.SaveEvents([]Event{e})
}

// SaveEvents upserts a batch of events by id, atomically at batch
// granularity: either the whole batch reaches durable storage, or (on
// error) none of it is reflected in the in-memory indices. Duplicate ids
// already present are silently skipped and do not advance counters.
func (s *Store) SaveEvents(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []Event
	for _, e := range events {
		if _, exists := s.byID[e.ID]; !exists {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := s.wal.appendBatch(fresh); err != nil {
		return fmt.Errorf("%w: %v", merr.ErrStorageFailed, err)
	}
	for _, e := range fresh {
		s.insert(e)
	}
	return nil
}

// GetEventsSince returns events for nodeID with Timestamp > afterTimestamp,
// ascending, capped at limit (0 means unlimited).
func (s *Store) GetEventsSince(nodeID string, afterTimestamp uint64, limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byNode[nodeID]
	start := sort.Search(len(list), func(i int) bool { return list[i].Timestamp > afterTimestamp })
	out := list[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]Event(nil), out...)
}

// GetAllEvents returns every event ordered by ascending CreationTimestamp,
// ties broken by (NodeID asc, Timestamp asc) per the design's fixed
// determinism rule.
func (s *Store) GetAllEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e)
	}
	sortDeterministic(out)
	return out
}

// GetEventsInRange returns events with start <= Timestamp <= end, optionally
// filtered to one nodeID (empty string means all nodes), capped at limit (0
// means unlimited). Ordering matches GetAllEvents's determinism rule.
func (s *Store) GetEventsInRange(start, end uint64, nodeID string, limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	if nodeID != "" {
		for _, e := range s.byNode[nodeID] {
			if e.Timestamp >= start && e.Timestamp <= end {
				out = append(out, e)
			}
		}
	} else {
		for _, e := range s.byID {
			if e.Timestamp >= start && e.Timestamp <= end {
				out = append(out, e)
			}
		}
	}
	sortDeterministic(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetEvent returns the event with the given id, if present.
func (s *Store) GetEvent(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// HasEvent reports whether id is already stored.
func (s *Store) HasEvent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// GetEventCount returns the total number of stored events.
func (s *Store) GetEventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// GetEventCountForNode returns the number of stored events whose origin is
// nodeID.
func (s *Store) GetEventCountForNode(nodeID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byNode[nodeID])
}

// GetLatestTimestampForNode returns the highest contiguous timestamp known
// for nodeID — the watermark, not the max of arbitrary received
// timestamps. If the store holds {1,2,4} for a node, this returns 2.
func (s *Store) GetLatestTimestampForNode(nodeID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark[nodeID]
}

// GetLatestTimestampsForAllNodes returns the full watermark map. This IS
// the vector clock: per spec §3, the clock is defined as this map.
func (s *Store) GetLatestTimestampsForAllNodes() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.watermark))
	for k, v := range s.watermark {
		out[k] = v
	}
	return out
}

// RemoveEventsOlderThan deletes every event whose CreationTimestamp is
// strictly less than ts (administrative prune), then rebuilds the
// watermark map from what remains. Per the design's open question, this
// does not consult or pin projection snapshot cursors — that is left to the
// operator.
func (s *Store) RemoveEventsOlderThan(ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Event, 0, len(s.byID))
	for _, e := range s.byID {
		if e.CreationTimestamp >= ts {
			kept = append(kept, e)
		}
	}
	return s.replaceAllLocked(kept)
}

// RemoveEventsForNode deletes every event whose origin is nodeID, then
// rebuilds the watermark map.
func (s *Store) RemoveEventsForNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Event, 0, len(s.byID))
	for _, e := range s.byID {
		if e.NodeID != nodeID {
			kept = append(kept, e)
		}
	}
	return s.replaceAllLocked(kept)
}

// Clear removes every stored event.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceAllLocked(nil)
}

// replaceAllLocked rebuilds every index from scratch and persists the
// result as a fresh snapshot with a truncated WAL, exactly like the
// teacher's Snapshot()+truncate() pair. Caller must hold s.mu.
func (s *Store) replaceAllLocked(events []Event) error {
	s.byID = make(map[string]Event)
	s.byNode = make(map[string][]Event)
	s.tsPresent = make(map[string]map[uint64]struct{})
	s.watermark = make(map[string]uint64)
	for _, e := range events {
		s.insert(e)
	}
	return s.snapshotLocked()
}

// Close closes the underlying WAL file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.close()
}

// sortDeterministic sorts events by (CreationTimestamp asc, NodeID asc,
// Timestamp asc) — the design's fixed tiebreak, and the only permitted
// source of order for deterministic projection rebuilds.
func sortDeterministic(events []Event) {
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

// ─── Snapshot ───────────────────────────────────────────────────────────────

type snapshotFile struct {
	Events []Event `json:"events"`
}

// Snapshot writes the full in-memory event set to disk via the teacher's
// atomic temp-file-then-rename idiom, then truncates the WAL since the
// snapshot now captures everything in it.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() error {
	events := make([]Event, 0, len(s.byID))
	for _, e := range s.byID {
		events = append(events, e)
	}

	path := filepath.Join(s.dataDir, "events.snapshot.json")
	tmp := path + ".tmp"

	data, err := json.Marshal(snapshotFile{Events: events})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	return s.wal.truncate()
}

func (s *Store) loadSnapshot() error {
	path := filepath.Join(s.dataDir, "events.snapshot.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	for _, e := range snap.Events {
		s.insert(e)
	}
	return nil
}
