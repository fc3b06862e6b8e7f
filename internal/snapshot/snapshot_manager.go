// Package snapshot persists finished jobs so clients can keep polling them
// across a restart.
package snapshot

// ============================================================================
// Responsibilities:
// 1. Serialize the registry's terminal jobs as a JSON snapshot file
// 2. Write atomically (temp file + rename) so a crash never leaves a torn file
// 3. Check the schema version on load
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

// SchemaVersion is the snapshot format written by this package.
const SchemaVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

// Manager reads and writes one snapshot file
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager returns a manager for path. An empty path disables persistence:
// Write is a no-op and Load returns an empty snapshot.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write stores data atomically.
func (m *Manager) Write(data types.SnapshotData) error {
	if m.path == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data.SchemaVer = SchemaVersion
	if data.Jobs == nil {
		data.Jobs = make(map[types.JobID]*types.Job)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file is a first boot and yields an
// empty snapshot.
func (m *Manager) Load() (types.SnapshotData, error) {
	empty := types.SnapshotData{Jobs: make(map[types.JobID]*types.Job), SchemaVer: SchemaVersion}
	if m.path == "" {
		return empty, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return types.SnapshotData{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var data types.SnapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return types.SnapshotData{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return types.SnapshotData{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	if data.Jobs == nil {
		data.Jobs = make(map[types.JobID]*types.Job)
	}
	return data, nil
}

// Exists reports whether a snapshot file is present
func (m *Manager) Exists() bool {
	if m.path == "" {
		return false
	}
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the snapshot file path
func (m *Manager) GetPath() string {
	return m.path
}
