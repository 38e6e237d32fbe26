package gallery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/embedding"
)

// fakeExtractor returns canned embeddings keyed by file base name. Files in
// the noFace set fail with ErrNoFace. A non-nil gate blocks every extraction
// until the channel is closed, to keep a rebuild in flight during a test.
type fakeExtractor struct {
	embeddings map[string][]float32
	noFace     map[string]bool
	gate       chan struct{}
}

func (f *fakeExtractor) ExtractFile(ctx context.Context, path string) ([]float32, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	name := filepath.Base(path)
	if f.noFace[name] {
		return nil, embedding.ErrNoFace
	}
	if emb, ok := f.embeddings[name]; ok {
		return emb, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeExtractor) ExtractImage(ctx context.Context, data []byte) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0xFF, 0xD8, 0xFF}, 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestManager(t *testing.T, ext embedding.Extractor) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(filepath.Join(t.TempDir(), "index.bin"))
	return NewManager(dir, store, ext, "vggface", 3), dir
}

func TestShouldRebuildTransitions(t *testing.T) {
	m, dir := newTestManager(t, &fakeExtractor{})

	// Empty gallery, no index: nothing to do.
	if m.ShouldRebuild() {
		t.Error("empty gallery with no index should not need a rebuild")
	}

	// First image lands: rebuild needed immediately.
	writeImages(t, dir, "alice.jpg")
	if !m.ShouldRebuild() {
		t.Error("first image in an empty gallery must trigger staleness")
	}

	if _, err := m.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	// Fresh after a successful rebuild.
	if m.ShouldRebuild() {
		t.Error("index should be fresh right after a rebuild")
	}

	// Count change makes it stale again.
	writeImages(t, dir, "bob.jpg")
	if !m.ShouldRebuild() {
		t.Error("gallery count change must trigger staleness")
	}
}

func TestRebuildSkipsFailedExtractions(t *testing.T) {
	ext := &fakeExtractor{
		embeddings: map[string][]float32{
			"alice.jpg": {1, 0, 0},
			"carol.jpg": {0, 1, 0},
		},
		noFace: map[string]bool{"blurry.jpg": true},
	}
	m, dir := newTestManager(t, ext)
	writeImages(t, dir, "alice.jpg", "blurry.jpg", "carol.jpg")

	result, err := m.Rebuild(context.Background(), nil)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	if result.Indexed != 2 {
		t.Errorf("expected 2 indexed, got %d", result.Indexed)
	}
	if result.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", result.Skipped)
	}
	if m.Snapshot().Count() != 2 {
		t.Errorf("snapshot should hold 2 entries, got %d", m.Snapshot().Count())
	}
}

func TestRebuildIdempotent(t *testing.T) {
	ext := &fakeExtractor{embeddings: map[string][]float32{
		"alice.jpg": {0.5, 0.5, 0},
		"bob.jpg":   {0, 0.5, 0.5},
	}}
	m, dir := newTestManager(t, ext)
	writeImages(t, dir, "alice.jpg", "bob.jpg")

	if _, err := m.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("first Rebuild failed: %v", err)
	}
	first := m.Snapshot()

	if _, err := m.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("second Rebuild failed: %v", err)
	}
	second := m.Snapshot()

	if first == second {
		t.Fatal("rebuild must publish a fresh snapshot, not mutate the old one")
	}
	if len(first.Entries) != len(second.Entries) {
		t.Fatalf("entry count changed: %d vs %d", len(first.Entries), len(second.Entries))
	}
	for i := range first.Entries {
		if first.Entries[i].Identity != second.Entries[i].Identity {
			t.Errorf("entry %d identity changed: %q vs %q", i,
				first.Entries[i].Identity, second.Entries[i].Identity)
		}
		for j := range first.Entries[i].Embedding {
			if first.Entries[i].Embedding[j] != second.Entries[i].Embedding[j] {
				t.Errorf("entry %d embedding changed", i)
				break
			}
		}
	}
}

func TestRebuildSingleWriter(t *testing.T) {
	gate := make(chan struct{})
	ext := &fakeExtractor{gate: gate}
	m, dir := newTestManager(t, ext)
	writeImages(t, dir, "alice.jpg")

	if !m.RebuildAsync() {
		t.Fatal("first RebuildAsync should be scheduled")
	}
	if m.RebuildAsync() {
		t.Error("second RebuildAsync must report busy while the first runs")
	}
	if !m.IsBuilding() {
		t.Error("IsBuilding should be true mid-rebuild")
	}
	if _, err := m.Rebuild(context.Background(), nil); !errors.Is(err, ErrRebuildInProgress) {
		t.Errorf("expected ErrRebuildInProgress, got %v", err)
	}

	close(gate)

	// Wait for the background rebuild to finish and clear the flag.
	deadline := time.Now().Add(5 * time.Second)
	for m.IsBuilding() {
		if time.Now().After(deadline) {
			t.Fatal("rebuild did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if m.Snapshot().Count() != 1 {
		t.Errorf("expected 1 entry after rebuild, got %d", m.Snapshot().Count())
	}
}

func TestRebuildEmptyGalleryRemovesIndex(t *testing.T) {
	ext := &fakeExtractor{}
	m, dir := newTestManager(t, ext)
	writeImages(t, dir, "alice.jpg")

	if _, err := m.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if !m.store.Exists() {
		t.Fatal("index should be persisted")
	}

	if err := os.Remove(filepath.Join(dir, "alice.jpg")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild of empty gallery failed: %v", err)
	}

	if m.store.Exists() {
		t.Error("empty gallery rebuild should remove the persisted index")
	}
	if m.Snapshot().Count() != 0 {
		t.Error("snapshot should be empty after empty rebuild")
	}
}

func TestLoadPersisted(t *testing.T) {
	ext := &fakeExtractor{}
	dir := t.TempDir()
	indexPath := filepath.Join(t.TempDir(), "index.bin")
	writeImages(t, dir, "alice.jpg")

	m1 := NewManager(dir, NewStore(indexPath), ext, "vggface", 3)
	if _, err := m1.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	// A second manager over the same paths picks up the persisted index.
	m2 := NewManager(dir, NewStore(indexPath), ext, "vggface", 3)
	if err := m2.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted failed: %v", err)
	}
	if m2.Snapshot().Count() != 1 {
		t.Errorf("expected 1 entry from persisted index, got %d", m2.Snapshot().Count())
	}
	if m2.ShouldRebuild() {
		t.Error("persisted index matching the gallery should be fresh")
	}
}

func TestLoadPersistedWithSkippedPhotos(t *testing.T) {
	ext := &fakeExtractor{noFace: map[string]bool{"blurry.jpg": true}}
	dir := t.TempDir()
	indexPath := filepath.Join(t.TempDir(), "index.bin")
	writeImages(t, dir, "alice.jpg", "blurry.jpg")

	m1 := NewManager(dir, NewStore(indexPath), ext, "vggface", 3)
	if _, err := m1.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	// Skipped photos still count as seen; a restart must not see the
	// unchanged gallery as stale.
	m2 := NewManager(dir, NewStore(indexPath), ext, "vggface", 3)
	if err := m2.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted failed: %v", err)
	}
	if m2.ShouldRebuild() {
		t.Error("gallery with skipped photos should stay fresh across restarts")
	}
}

func TestLoadPersistedModelMismatch(t *testing.T) {
	ext := &fakeExtractor{}
	dir := t.TempDir()
	indexPath := filepath.Join(t.TempDir(), "index.bin")
	writeImages(t, dir, "alice.jpg")

	m1 := NewManager(dir, NewStore(indexPath), ext, "vggface", 3)
	if _, err := m1.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	m2 := NewManager(dir, NewStore(indexPath), ext, "arcface", 512)
	if err := m2.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted failed: %v", err)
	}
	if m2.Snapshot() != nil {
		t.Error("index built with a different model must be discarded")
	}
	if !m2.ShouldRebuild() {
		t.Error("model mismatch must leave the index stale")
	}
}

func TestStats(t *testing.T) {
	ext := &fakeExtractor{noFace: map[string]bool{"blurry.jpg": true}}
	m, dir := newTestManager(t, ext)
	writeImages(t, dir, "alice.jpg", "blurry.jpg")

	stats := m.Stats()
	if stats.GalleryCount != 2 || stats.IndexPersisted || !stats.NeedsRebuild {
		t.Errorf("unexpected pre-build stats: %+v", stats)
	}

	if _, err := m.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	stats = m.Stats()
	if stats.IndexedCount != 1 || stats.LastSkipped != 1 {
		t.Errorf("unexpected post-build stats: %+v", stats)
	}
	if stats.NeedsRebuild {
		t.Error("stats should report a fresh index after rebuild")
	}
	if stats.LastBuildTime == nil {
		t.Error("last build time should be set after rebuild")
	}
}
