package clock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store durably persists one Clock per owning nodeId. Layout on disk is one
// JSON file per node under dataDir/clocks/<nodeId>.json, written with the
// same create-temp-then-rename atomicity the teacher's snapshot store uses:
// a crash between Create and Rename leaves the previous file intact.
type Store struct {
	mu      sync.Mutex
	dataDir string
}

// NewStore opens (creating if necessary) the clock store rooted at dataDir.
func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "clocks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clock dir: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) path(nodeID string) string {
	return filepath.Join(s.dataDir, "clocks", nodeID+".json")
}

// Save durably writes clk as the clock owned by nodeID.
func (s *Store) Save(nodeID string, clk Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(nodeID)
	tmp := path + ".tmp"

	data, err := json.Marshal(clk)
	if err != nil {
		return fmt.Errorf("marshal clock: %w", err)
	}

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create clock temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write clock: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync clock: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close clock temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename clock: %w", err)
	}
	return nil
}

// Load returns the persisted clock for nodeID. A missing key returns an
// empty clock, not an error — only a corrupt file is reported as an error.
func (s *Store) Load(nodeID string) (Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(nodeID))
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read clock: %w", err)
	}

	var clk Clock
	if err := json.Unmarshal(data, &clk); err != nil {
		return nil, fmt.Errorf("corrupt clock for node %q: %w", nodeID, err)
	}
	if clk == nil {
		clk = New()
	}
	return clk, nil
}

// Has reports whether a clock has ever been persisted for nodeID.
func (s *Store) Has(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(nodeID))
	return err == nil
}

// Delete removes the persisted clock for nodeID, if any.
func (s *Store) Delete(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(nodeID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete clock: %w", err)
	}
	return nil
}

// Close is a no-op; the store holds no open file descriptors between calls.
// It exists so Store satisfies the same lifecycle shape as the other
// durable stores in the engine.
func (s *Store) Close() error {
	return nil
}
