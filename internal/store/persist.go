package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/wesm/github-mirror/internal/models"
)

// RelationshipsFile holds the serialized Index
const RelationshipsFile = "relationships.json"

// Snapshot is the full persisted state of a store
type Snapshot struct {
	Tables map[string]map[string]models.Entity
	Index  Index
}

// Persister reads and writes snapshots
type Persister interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

func tableFile(kind string) string { return kind + ".json" }

func encodeSnapshot(snap *Snapshot) (map[string][]byte, error) {
	files := map[string][]byte{}
	for _, k := range models.Kinds() {
		rows := snap.Tables[k.Name]
		if rows == nil {
			rows = map[string]models.Entity{}
		}
		data, err := json.Marshal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s table: %w", k.Name, err)
		}
		files[tableFile(k.Name)] = data
	}
	index := snap.Index
	if index == nil {
		index = Index{}
	}
	data, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relationships: %w", err)
	}
	files[RelationshipsFile] = data
	return files, nil
}

func decodeSnapshot(files map[string][]byte) (*Snapshot, error) {
	snap := &Snapshot{Tables: map[string]map[string]models.Entity{}, Index: Index{}}
	for _, k := range models.Kinds() {
		rows := map[string]models.Entity{}
		snap.Tables[k.Name] = rows
		data, ok := files[tableFile(k.Name)]
		if !ok {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s table: %w", k.Name, err)
		}
		for id, msg := range raw {
			e := k.New()
			if err := json.Unmarshal(msg, e); err != nil {
				return nil, fmt.Errorf("failed to decode %s %s: %w", k.Name, id, err)
			}
			rows[id] = e
		}
	}
	if data, ok := files[RelationshipsFile]; ok {
		if err := json.Unmarshal(data, &snap.Index); err != nil {
			return nil, fmt.Errorf("failed to decode relationships: %w", err)
		}
	}
	return snap, nil
}

// JSONDir persists a snapshot as one JSON file per kind plus
// relationships.json inside a directory. A save writes a fresh directory
// and swaps it in, so the files on disk always come from the same pass.
type JSONDir struct {
	Dir string
}

func (d JSONDir) previous() string { return d.Dir + ".old" }

// Load reads every file present in the directory. A missing directory
// yields an empty snapshot, unless a save was interrupted between its two
// renames, in which case the previous directory is read.
func (d JSONDir) Load() (*Snapshot, error) {
	dir := d.Dir
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Stat(d.previous()); err == nil {
			dir = d.previous()
		}
	}

	files := map[string][]byte{}
	names := []string{RelationshipsFile}
	for _, k := range models.Kinds() {
		names = append(names, tableFile(k.Name))
	}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		files[name] = data
	}
	return decodeSnapshot(files)
}

// Save writes every file into a temporary sibling directory, then replaces
// the data directory with it
func (d JSONDir) Save(snap *Snapshot) error {
	files, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	parent := filepath.Dir(d.Dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(d.Dir)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmp)
	if err := os.Chmod(tmp, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	old := d.previous()
	if _, err := os.Stat(d.Dir); err == nil {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("failed to clear %s: %w", old, err)
		}
		if err := os.Rename(d.Dir, old); err != nil {
			return fmt.Errorf("failed to move %s aside: %w", d.Dir, err)
		}
	}
	if err := os.Rename(tmp, d.Dir); err != nil {
		os.Rename(old, d.Dir)
		return fmt.Errorf("failed to replace %s: %w", d.Dir, err)
	}
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("failed to remove %s: %w", old, err)
	}
	return nil
}

// MemoryPersister keeps the encoded files in memory
type MemoryPersister struct {
	mu    sync.Mutex
	files map[string][]byte
	saves int
}

// NewMemoryPersister creates an empty in-memory persister
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{files: map[string][]byte{}}
}

func (m *MemoryPersister) Load() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decodeSnapshot(m.files)
}

func (m *MemoryPersister) Save(snap *Snapshot) error {
	files, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = files
	m.saves++
	return nil
}

// File returns the raw contents of a persisted file
func (m *MemoryPersister) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// Saves returns how many times Save succeeded
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
