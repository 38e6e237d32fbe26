package gallery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-finder/internal/embedding"
)

// ErrRebuildInProgress is returned when a rebuild is requested while another
// one is still running. Rebuild requests are dropped, not queued.
var ErrRebuildInProgress = errors.New("index rebuild already in progress")

// BuildResult summarizes a completed rebuild.
type BuildResult struct {
	Indexed  int
	Skipped  int
	Duration time.Duration
}

// Stats describes the index state for the stats endpoint and CLI.
type Stats struct {
	GalleryCount      int           `json:"gallery_count"`
	IndexedCount      int           `json:"indexed_count"`
	IndexPersisted    bool          `json:"index_persisted"`
	IsBuilding        bool          `json:"is_building"`
	NeedsRebuild      bool          `json:"needs_rebuild"`
	LastBuildTime     *time.Time `json:"last_build_time,omitempty"`
	LastBuildDuration int64      `json:"last_build_duration_ms,omitempty"`
	LastSkipped       int        `json:"last_skipped"`
}

// Manager owns the index lifecycle: staleness detection, single-writer
// rebuilds and the published in-memory snapshot. Readers get lock-free
// snapshots; exactly one rebuild runs at a time.
type Manager struct {
	dir       string
	store     *Store
	extractor embedding.Extractor
	model     string
	dim       int

	building atomic.Bool
	snapshot atomic.Pointer[Index]

	mu                sync.Mutex // guards the build bookkeeping below
	galleryCount      int
	lastBuildTime     time.Time
	lastBuildDuration time.Duration
	lastSkipped       int
}

// NewManager creates an index manager over the given gallery directory.
func NewManager(dir string, store *Store, extractor embedding.Extractor, model string, dim int) *Manager {
	return &Manager{
		dir:       dir,
		store:     store,
		extractor: extractor,
		model:     model,
		dim:       dim,
	}
}

// Snapshot returns the current in-memory index, or nil if none has been
// loaded or built yet. The returned index is read-only.
func (m *Manager) Snapshot() *Index {
	return m.snapshot.Load()
}

// LoadPersisted loads the persisted index into memory at startup. An index
// built by a different model is treated as absent so the next staleness
// check forces a rebuild.
func (m *Manager) LoadPersisted() error {
	if !m.store.Exists() {
		return nil
	}

	meta, err := m.store.LoadMeta()
	if err != nil {
		return fmt.Errorf("loading index meta: %w", err)
	}
	if meta.Model != m.model || meta.Dim != m.dim {
		log.Printf("Persisted index was built with %s/%d, current model is %s/%d; discarding",
			meta.Model, meta.Dim, m.model, m.dim)
		m.store.Remove()
		return nil
	}

	idx, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}

	m.snapshot.Store(idx)
	m.mu.Lock()
	m.galleryCount = idx.GalleryCount
	m.lastBuildTime = idx.BuiltAt
	m.mu.Unlock()

	return nil
}

// ShouldRebuild reports whether the index is stale. The check is count-based
// and deliberately cheap: it cannot detect a same-count add/remove swap.
func (m *Manager) ShouldRebuild() bool {
	files, err := ListImageFiles(m.dir)
	if err != nil {
		log.Printf("Could not enumerate gallery %s: %v", m.dir, err)
		return false
	}

	if !m.store.Exists() {
		return len(files) > 0
	}

	m.mu.Lock()
	known := m.galleryCount
	m.mu.Unlock()
	return len(files) != known
}

// RebuildAsync schedules a rebuild on a background goroutine. Returns false
// without doing anything when a rebuild is already running. Never blocks.
func (m *Manager) RebuildAsync() bool {
	if !m.building.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer m.building.Store(false)
		if _, err := m.rebuild(context.Background(), nil); err != nil {
			log.Printf("Index rebuild failed: %v", err)
		}
	}()
	return true
}

// Rebuild runs a rebuild in the calling goroutine, reporting progress through
// onProgress if non-nil. Returns ErrRebuildInProgress if one is running.
func (m *Manager) Rebuild(ctx context.Context, onProgress func(done, total int)) (*BuildResult, error) {
	if !m.building.CompareAndSwap(false, true) {
		return nil, ErrRebuildInProgress
	}
	defer m.building.Store(false)
	return m.rebuild(ctx, onProgress)
}

// rebuild enumerates the gallery, extracts an embedding per image and
// atomically replaces both the persisted index and the in-memory snapshot.
// Images without a detectable face are skipped and counted, never fatal.
// Callers hold the building flag.
func (m *Manager) rebuild(ctx context.Context, onProgress func(done, total int)) (*BuildResult, error) {
	start := time.Now()

	files, err := ListImageFiles(m.dir)
	if err != nil {
		return nil, fmt.Errorf("enumerating gallery: %w", err)
	}

	idx := &Index{
		Entries:      make([]Entry, 0, len(files)),
		Model:        m.model,
		Dim:          m.dim,
		BuiltAt:      start,
		GalleryCount: len(files),
	}

	skipped := 0
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		emb, err := m.extractor.ExtractFile(ctx, filepath.Join(m.dir, name))
		if err != nil {
			if errors.Is(err, embedding.ErrNoFace) {
				log.Printf("Skipping %s: no detectable face", name)
			} else {
				log.Printf("Skipping %s: %v", name, err)
			}
			skipped++
		} else {
			idx.Entries = append(idx.Entries, Entry{Identity: name, Embedding: emb})
		}

		if onProgress != nil {
			onProgress(i+1, len(files))
		}
	}

	if len(files) == 0 {
		// Empty gallery: drop any stale persisted index.
		m.store.Remove()
	} else if err := m.store.Save(idx); err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}

	m.snapshot.Store(idx)

	duration := time.Since(start)
	m.mu.Lock()
	m.galleryCount = len(files)
	m.lastBuildTime = start
	m.lastBuildDuration = duration
	m.lastSkipped = skipped
	m.mu.Unlock()

	log.Printf("Index rebuilt: %d indexed, %d skipped in %v", len(idx.Entries), skipped, duration)
	return &BuildResult{Indexed: len(idx.Entries), Skipped: skipped, Duration: duration}, nil
}

// IsBuilding reports whether a rebuild is currently running.
func (m *Manager) IsBuilding() bool {
	return m.building.Load()
}

// Stats returns the current index statistics.
func (m *Manager) Stats() Stats {
	files, err := ListImageFiles(m.dir)
	if err != nil {
		log.Printf("Could not enumerate gallery %s: %v", m.dir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		GalleryCount:      len(files),
		IndexedCount:      m.Snapshot().Count(),
		IndexPersisted:    m.store.Exists(),
		IsBuilding:        m.building.Load(),
		LastBuildDuration: m.lastBuildDuration.Milliseconds(),
		LastSkipped:       m.lastSkipped,
	}
	if !m.lastBuildTime.IsZero() {
		t := m.lastBuildTime
		stats.LastBuildTime = &t
	}
	stats.NeedsRebuild = !stats.IndexPersisted && stats.GalleryCount > 0 ||
		stats.IndexPersisted && stats.GalleryCount != m.galleryCount

	return stats
}
