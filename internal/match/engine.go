// Package match finds the closest gallery identity for a query embedding.
package match

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-finder/internal/embedding"
	"github.com/kozaktomas/face-finder/internal/gallery"
)

// ErrIndexUnavailable is returned when no gallery index has been built or
// loaded yet. Distinct from a valid query with no match above threshold.
var ErrIndexUnavailable = errors.New("gallery index unavailable")

// Result is the outcome of a single search. Not persisted.
type Result struct {
	Found      bool    `json:"match_found"`
	Identity   string  `json:"identity,omitempty"`
	Similarity float64 `json:"similarity"`
	Confidence float64 `json:"confidence"`
}

// Provider supplies the current gallery snapshot.
type Provider interface {
	Snapshot() *gallery.Index
}

// Engine searches the in-memory gallery snapshot by cosine similarity.
// Small galleries get an exact O(N*D) scan; galleries at or above the
// configured cutoff get an HNSW graph. There is no sublinear structure below
// the cutoff, which is fine for galleries up to a few thousand entries.
type Engine struct {
	provider   Provider
	extractor  embedding.Extractor
	hnswCutoff int

	accel accelCache
}

// NewEngine creates a match engine. hnswCutoff <= 0 disables the HNSW path.
func NewEngine(provider Provider, extractor embedding.Extractor, hnswCutoff int) *Engine {
	return &Engine{
		provider:   provider,
		extractor:  extractor,
		hnswCutoff: hnswCutoff,
	}
}

// Search finds the gallery entry most similar to the query embedding. An
// empty or absent gallery yields a negative result, never an error. Below
// threshold the result is negative too; only the similarity differs, which
// callers may log. Exact ties keep the first entry in index order.
func (e *Engine) Search(query []float32, threshold float64) Result {
	idx := e.provider.Snapshot()
	if idx.Count() == 0 {
		return Result{}
	}

	var bestIdx int
	var bestSim float64
	found := false

	if e.hnswCutoff > 0 && idx.Count() >= e.hnswCutoff {
		bestIdx, bestSim, found = e.accel.search(idx, query)
	}
	if !found {
		bestSim = -2
		for i := range idx.Entries {
			if sim := CosineSimilarity(query, idx.Entries[i].Embedding); sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}
	}

	if bestSim < threshold {
		return Result{Similarity: bestSim}
	}

	confidence := bestSim
	if confidence < 0 {
		confidence = 0
	}
	return Result{
		Found:      true,
		Identity:   idx.Entries[bestIdx].Identity,
		Similarity: bestSim,
		Confidence: confidence,
	}
}

// SearchImage extracts the query embedding from image bytes and searches the
// gallery. embedding.ErrNoFace passes through untouched so callers can tell
// an unusable query apart from a clean miss.
func (e *Engine) SearchImage(ctx context.Context, imageData []byte, threshold float64) (Result, error) {
	if e.provider.Snapshot() == nil {
		return Result{}, ErrIndexUnavailable
	}

	query, err := e.extractor.ExtractImage(ctx, imageData)
	if err != nil {
		return Result{}, err
	}
	return e.Search(query, threshold), nil
}

// SearchFile extracts the query embedding from an image file and searches
// the gallery.
func (e *Engine) SearchFile(ctx context.Context, path string, threshold float64) (Result, error) {
	if e.provider.Snapshot() == nil {
		return Result{}, ErrIndexUnavailable
	}

	query, err := e.extractor.ExtractFile(ctx, path)
	if err != nil {
		return Result{}, err
	}
	return e.Search(query, threshold), nil
}
