// Package sentinelrt is the Sentinel Runtime library: a reconnecting
// WebSocket client used by every Sentinel process, handling
// registration, heartbeats, hook dispatch and the persistent
// layer-keyed memory file.
package sentinelrt

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Memory is the Sentinel's persistent, layer-keyed memory file.
// Learned remediations are the agent's responsibility, not the Hub's:
// the file lives next to the Sentinel process and is replaced
// atomically on flush. A corrupt file is treated as empty, never as a
// fatal error.
type Memory struct {
	path string
	lock *flock.Flock
	data map[string]any
}

// OpenMemory loads (or creates) dir/{layer}_memory.json, taking an
// advisory file lock for the process lifetime so two Sentinel
// instances sharing a layer name never interleave writes.
func OpenMemory(dir, layer string) (*Memory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, layer+"_memory.json")

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, errors.New("memory file " + path + " is locked by another process")
	}

	m := &Memory{path: path, lock: lock, data: make(map[string]any)}
	m.load()
	return m, nil
}

func (m *Memory) load() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		// corrupt file: start empty
		return
	}
	m.data = data
}

func (m *Memory) Get(key string) (any, bool) {
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) Set(key string, value any) {
	if m.data == nil {
		m.data = make(map[string]any)
	}
	m.data[key] = value
}

func (m *Memory) Snapshot() map[string]any {
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Flush writes the memory file atomically: serialize to a temp file in
// the same directory, fsync, then rename over the target. A process
// kill between write and rename leaves the original file untouched.
func (m *Memory) Flush() error {
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".memory-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, m.path)
}

// Close releases the advisory lock. It does not flush; call Flush
// first if pending changes should be persisted.
func (m *Memory) Close() error {
	if m.lock == nil {
		return nil
	}
	if locked := m.lock.Locked(); !locked {
		return nil
	}
	return errors.Join(m.lock.Unlock(), os.Remove(m.lock.Path()))
}
