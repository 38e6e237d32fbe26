package match

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/gallery"
)

// staticProvider serves a fixed snapshot.
type staticProvider struct {
	idx *gallery.Index
}

func (p *staticProvider) Snapshot() *gallery.Index { return p.idx }

// stubExtractor returns a fixed embedding or error.
type stubExtractor struct {
	emb []float32
	err error
}

func (s *stubExtractor) ExtractImage(ctx context.Context, data []byte) ([]float32, error) {
	return s.emb, s.err
}

func (s *stubExtractor) ExtractFile(ctx context.Context, path string) ([]float32, error) {
	return s.emb, s.err
}

func indexOf(entries ...gallery.Entry) *gallery.Index {
	return &gallery.Index{Entries: entries, Model: "vggface", Dim: 3}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"scaled", []float32{1, 1, 0}, []float32{5, 5, 0}, 1},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestSearchEmptyGallery(t *testing.T) {
	for _, idx := range []*gallery.Index{nil, indexOf()} {
		e := NewEngine(&staticProvider{idx: idx}, nil, 0)
		res := e.Search([]float32{1, 0, 0}, 0.5)
		if res.Found {
			t.Errorf("empty gallery must never match (idx=%v)", idx)
		}
	}
}

func TestSearchExactMatch(t *testing.T) {
	e := NewEngine(&staticProvider{idx: indexOf(
		gallery.Entry{Identity: "alice.jpg", Embedding: []float32{0.2, 0.4, 0.9}},
	)}, nil, 0)

	res := e.Search([]float32{0.2, 0.4, 0.9}, 0.7)
	if !res.Found {
		t.Fatal("identical embedding must match")
	}
	if res.Identity != "alice.jpg" {
		t.Errorf("wrong identity: %q", res.Identity)
	}
	if math.Abs(res.Confidence-1.0) > 1e-6 {
		t.Errorf("identical embedding should give confidence ~1.0, got %v", res.Confidence)
	}
}

func TestSearchThreshold(t *testing.T) {
	// Query at a known angle: cos ~= 0.2 against the only entry.
	entry := []float32{1, 0, 0}
	query := []float32{0.2, float32(math.Sqrt(1 - 0.04)), 0}

	e := NewEngine(&staticProvider{idx: indexOf(
		gallery.Entry{Identity: "alice.jpg", Embedding: entry},
	)}, nil, 0)

	res := e.Search(query, 0.4)
	if res.Found {
		t.Error("similarity 0.2 must not clear threshold 0.4")
	}
	if math.Abs(res.Similarity-0.2) > 1e-6 {
		t.Errorf("rejected result should still carry the similarity, got %v", res.Similarity)
	}

	if res := e.Search(query, 0.1); !res.Found {
		t.Error("similarity 0.2 should clear threshold 0.1")
	}
}

func TestSearchBestOfMany(t *testing.T) {
	e := NewEngine(&staticProvider{idx: indexOf(
		gallery.Entry{Identity: "far.jpg", Embedding: []float32{0, 1, 0}},
		gallery.Entry{Identity: "close.jpg", Embedding: []float32{0.9, 0.1, 0}},
		gallery.Entry{Identity: "mid.jpg", Embedding: []float32{0.5, 0.5, 0}},
	)}, nil, 0)

	res := e.Search([]float32{1, 0, 0}, 0.5)
	if !res.Found || res.Identity != "close.jpg" {
		t.Errorf("expected close.jpg, got %+v", res)
	}
}

func TestSearchTieBreakFirstWins(t *testing.T) {
	// Two entries identical to the query: first in index order wins.
	e := NewEngine(&staticProvider{idx: indexOf(
		gallery.Entry{Identity: "first.jpg", Embedding: []float32{1, 0, 0}},
		gallery.Entry{Identity: "second.jpg", Embedding: []float32{1, 0, 0}},
	)}, nil, 0)

	res := e.Search([]float32{1, 0, 0}, 0.5)
	if res.Identity != "first.jpg" {
		t.Errorf("tie must keep the first entry, got %q", res.Identity)
	}
}

func TestSearchNegativeSimilarityConfidenceFloor(t *testing.T) {
	e := NewEngine(&staticProvider{idx: indexOf(
		gallery.Entry{Identity: "alice.jpg", Embedding: []float32{1, 0, 0}},
	)}, nil, 0)

	res := e.Search([]float32{-1, 0, 0}, -1)
	if !res.Found {
		t.Fatal("threshold -1 accepts everything")
	}
	if res.Confidence != 0 {
		t.Errorf("confidence must not go negative, got %v", res.Confidence)
	}
	if res.Similarity != -1 {
		t.Errorf("similarity should stay raw, got %v", res.Similarity)
	}
}

func TestSearchImage(t *testing.T) {
	provider := &staticProvider{idx: indexOf(
		gallery.Entry{Identity: "alice.jpg", Embedding: []float32{1, 0, 0}},
	)}

	t.Run("match", func(t *testing.T) {
		e := NewEngine(provider, &stubExtractor{emb: []float32{1, 0, 0}}, 0)
		res, err := e.SearchImage(context.Background(), []byte("jpeg"), 0.7)
		if err != nil {
			t.Fatalf("SearchImage failed: %v", err)
		}
		if !res.Found || res.Identity != "alice.jpg" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("no face passes through", func(t *testing.T) {
		e := NewEngine(provider, &stubExtractor{err: embedding.ErrNoFace}, 0)
		_, err := e.SearchImage(context.Background(), []byte("jpeg"), 0.7)
		if !errors.Is(err, embedding.ErrNoFace) {
			t.Errorf("expected ErrNoFace, got %v", err)
		}
	})

	t.Run("index unavailable", func(t *testing.T) {
		e := NewEngine(&staticProvider{}, &stubExtractor{emb: []float32{1, 0, 0}}, 0)
		_, err := e.SearchImage(context.Background(), []byte("jpeg"), 0.7)
		if !errors.Is(err, ErrIndexUnavailable) {
			t.Errorf("expected ErrIndexUnavailable, got %v", err)
		}
	})
}

func TestSearchHNSWPath(t *testing.T) {
	// Cutoff of 1 forces the HNSW path even for a small gallery.
	idx := indexOf(
		gallery.Entry{Identity: "a.jpg", Embedding: []float32{1, 0, 0}},
		gallery.Entry{Identity: "b.jpg", Embedding: []float32{0, 1, 0}},
		gallery.Entry{Identity: "c.jpg", Embedding: []float32{0, 0, 1}},
	)
	e := NewEngine(&staticProvider{idx: idx}, nil, 1)

	res := e.Search([]float32{0, 0.95, 0.05}, 0.5)
	if !res.Found || res.Identity != "b.jpg" {
		t.Errorf("HNSW path returned %+v, want b.jpg", res)
	}

	// Second search on the same snapshot reuses the graph.
	res = e.Search([]float32{0.99, 0.01, 0}, 0.5)
	if !res.Found || res.Identity != "a.jpg" {
		t.Errorf("HNSW path returned %+v, want a.jpg", res)
	}
}
