package match

import (
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-finder/internal/gallery"
)

// hnswMaxNeighbors is the M parameter of the graph.
const hnswMaxNeighbors = 16

// accelCache holds an HNSW graph built for one specific snapshot. Snapshots
// are immutable, so the graph stays valid as long as the snapshot pointer
// does; a rebuild publishes a new snapshot and the graph is rebuilt lazily on
// the next search.
type accelCache struct {
	mu    sync.Mutex
	idx   *gallery.Index
	graph *hnsw.Graph[int]
}

// search returns the approximate nearest entry index and its exact cosine
// similarity. The third return is false when the graph yields nothing and
// the caller should fall back to the exact scan.
func (c *accelCache) search(idx *gallery.Index, query []float32) (int, float64, bool) {
	c.mu.Lock()
	if c.idx != idx {
		c.graph = buildGraph(idx)
		c.idx = idx
	}
	g := c.graph
	c.mu.Unlock()

	if g == nil {
		return 0, 0, false
	}

	neighbors := g.Search(query, 1)
	if len(neighbors) == 0 {
		return 0, 0, false
	}

	best := neighbors[0].Key
	// The graph orders by its own distance; report the exact similarity.
	return best, CosineSimilarity(query, idx.Entries[best].Embedding), true
}

func buildGraph(idx *gallery.Index) *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	for i := range idx.Entries {
		if len(idx.Entries[i].Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(i, idx.Entries[i].Embedding))
	}
	if g.Len() == 0 {
		return nil
	}
	return g
}
