package projection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Snapshot is the durable record for one projection type: the opaque state
// plus the cursor needed to resume replay after it.
type Snapshot struct {
	ProjectionType      string    `json:"projectionType"`
	State               any       `json:"state"`
	LastProcessedEventID string   `json:"lastProcessedEventId"`
	EventCount          int       `json:"eventCount"`
	SavedAt             time.Time `json:"savedAt"`
	Version             string    `json:"version"`
}

// Metadata is a Snapshot minus its State, for listing without paying the
// cost of decoding every projection's (potentially large) state.
type Metadata struct {
	ProjectionType       string    `json:"projectionType"`
	LastProcessedEventID string    `json:"lastProcessedEventId"`
	EventCount           int       `json:"eventCount"`
	SavedAt              time.Time `json:"savedAt"`
	Version              string    `json:"version"`
}

// Stats summarizes the snapshot store for introspection (cmd/meshctl,
// the HTTP surface).
type Stats struct {
	ProjectionCount int `json:"projectionCount"`
	TotalEventCount int `json:"totalEventCount"`
}

// Store persists one Snapshot per projection type under
// dataDir/projections/<type>.json, using the same atomic temp-then-rename
// idiom as the teacher's SnapshotManager (internal/store/snapshot.go).
type Store struct {
	mu      sync.Mutex
	dataDir string
}

// NewStore opens (creating if necessary) the projection snapshot store
// rooted at dataDir.
func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "projections")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create projection dir: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) path(projectionType string) string {
	return filepath.Join(s.dataDir, "projections", projectionType+".json")
}

// SaveState durably writes a projection's state and cursor.
func (s *Store) SaveState(projectionType string, state any, lastProcessedEventID string, eventCount int, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ProjectionType:       projectionType,
		State:                state,
		LastProcessedEventID: lastProcessedEventID,
		EventCount:           eventCount,
		SavedAt:              time.Now().UTC(),
		Version:              version,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal projection snapshot: %w", err)
	}

	path := s.path(projectionType)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create projection temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write projection snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync projection snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close projection temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadState returns the persisted snapshot for projectionType. If the
// snapshot's Version does not equal currentVersion, LoadState returns
// (Snapshot{}, false, nil): an outdated snapshot is treated as absent so the
// engine falls back to full replay, per the design's versioning rule.
func (s *Store) LoadState(projectionType, currentVersion string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(projectionType))
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read projection snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("corrupt projection snapshot for %q: %w", projectionType, err)
	}
	if snap.Version != currentVersion {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// ClearState removes the persisted snapshot for one projection type.
func (s *Store) ClearState(projectionType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(projectionType))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear projection snapshot: %w", err)
	}
	return nil
}

// ClearAll removes every persisted projection snapshot.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.dataDir, "projections")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list projection dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clear projection file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// HasState reports whether any snapshot (regardless of version) exists for
// projectionType.
func (s *Store) HasState(projectionType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(projectionType))
	return err == nil
}

// ListMetadata returns metadata for every persisted projection snapshot.
func (s *Store) ListMetadata() ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dataDir, "projections")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list projection dir: %w", err)
	}

	var out []Metadata
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		out = append(out, Metadata{
			ProjectionType:       snap.ProjectionType,
			LastProcessedEventID: snap.LastProcessedEventID,
			EventCount:           snap.EventCount,
			SavedAt:              snap.SavedAt,
			Version:              snap.Version,
		})
	}
	return out, nil
}

// GetStats summarizes the store.
func (s *Store) GetStats() (Stats, error) {
	metas, err := s.ListMetadata()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ProjectionCount: len(metas)}
	for _, m := range metas {
		stats.TotalEventCount += m.EventCount
	}
	return stats, nil
}

// Close is a no-op; the store holds no open descriptors between calls.
func (s *Store) Close() error {
	return nil
}
