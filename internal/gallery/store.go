package gallery

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const metaVersion = 1

// Meta is the JSON sidecar written next to the index blob. It carries what
// staleness checks need without decoding the full blob.
type Meta struct {
	Count        int       `json:"count"`         // indexed entries
	GalleryCount int       `json:"gallery_count"` // gallery files at build time
	Model        string    `json:"model"`
	Dim          int       `json:"dim"`
	BuiltAt      time.Time `json:"built_at"`
	Version      int       `json:"version"`
}

// Store persists the gallery index as a gob blob plus a .meta sidecar.
// Writes go through a temp file and an atomic rename, so a crash mid-write
// leaves the previous index intact rather than a truncated one.
type Store struct {
	path string
}

// NewStore creates a store persisting to the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the index file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a persisted index is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save atomically replaces the persisted index with idx. The meta sidecar is
// written after the rename; losing it in a crash only makes the index look
// stale, which is safe.
func (s *Store) Save(idx *Index) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write index temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace index file: %w", err)
	}

	meta := Meta{
		Count:        len(idx.Entries),
		GalleryCount: idx.GalleryCount,
		Model:        idx.Model,
		Dim:          idx.Dim,
		BuiltAt:      idx.BuiltAt,
		Version:      metaVersion,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal index meta: %w", err)
	}
	if err := os.WriteFile(s.path+".meta", metaData, 0o600); err != nil {
		return fmt.Errorf("failed to write index meta: %w", err)
	}

	return nil
}

// Load reads the persisted index from disk.
func (s *Store) Load() (*Index, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var idx Index
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&idx); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}

	return &idx, nil
}

// LoadMeta reads the meta sidecar.
func (s *Store) LoadMeta() (Meta, error) {
	var meta Meta

	data, err := os.ReadFile(s.path + ".meta")
	if err != nil {
		return meta, fmt.Errorf("failed to read index meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal index meta: %w", err)
	}

	return meta, nil
}

// Remove deletes the persisted index and its sidecar (best-effort).
func (s *Store) Remove() {
	_ = os.Remove(s.path)
	_ = os.Remove(s.path + ".meta")
}
