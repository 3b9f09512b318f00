package retrieval

import (
	"fmt"
	"sort"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	kvector "github.com/kshard/vector"

	"taskforge/internal/embedding"
)

// Hit is one nearest-neighbour result.
type Hit struct {
	ID    string
	Score float64 // cosine similarity
}

// Collection is a vector space keyed by example id.
type Collection interface {
	Add(id string, vec []float32) error
	// Search returns up to k hits ordered by descending score. Equal scores
	// keep insertion order.
	Search(vec []float32, k int) ([]Hit, error)
	Len() int
}

// NewCollection returns an empty collection for backend ("exact" or "hnsw").
func NewCollection(backend string) (Collection, error) {
	switch backend {
	case "exact", "":
		return &ExactCollection{}, nil
	case "hnsw":
		return NewHNSWCollection(), nil
	default:
		return nil, fmt.Errorf("unknown retrieval backend: %s", backend)
	}
}

// =============================================================================
// EXACT
// =============================================================================

// ExactCollection scans every vector. Results are exact and deterministic.
type ExactCollection struct {
	ids  []string
	vecs [][]float32
}

func (c *ExactCollection) Add(id string, vec []float32) error {
	if err := checkDim(c.dim(), vec); err != nil {
		return err
	}
	c.ids = append(c.ids, id)
	c.vecs = append(c.vecs, vec)
	return nil
}

func (c *ExactCollection) Search(vec []float32, k int) ([]Hit, error) {
	if len(c.vecs) == 0 {
		return nil, nil
	}
	if err := checkDim(c.dim(), vec); err != nil {
		return nil, err
	}
	top := embedding.FindTopK(vec, c.vecs, k)
	hits := make([]Hit, len(top))
	for i, r := range top {
		hits[i] = Hit{ID: c.ids[r.Index], Score: r.Similarity}
	}
	return hits, nil
}

func (c *ExactCollection) Len() int { return len(c.vecs) }

func (c *ExactCollection) dim() int {
	if len(c.vecs) == 0 {
		return 0
	}
	return len(c.vecs[0])
}

// =============================================================================
// HNSW
// =============================================================================

// HNSWCollection is an approximate index for large example corpora. The
// graph returns candidates; scores are recomputed as exact cosine.
type HNSWCollection struct {
	index *hnsw.HNSW[vector.VF32]
	ids   []string // key -> id
	order map[string]int
	width int // dimension before padding
}

// NewHNSWCollection creates an empty cosine HNSW index.
func NewHNSWCollection() *HNSWCollection {
	return &HNSWCollection{
		index: hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine())),
		order: make(map[string]int),
	}
}

func (c *HNSWCollection) Add(id string, vec []float32) error {
	if err := checkDim(c.dim(), vec); err != nil {
		return err
	}
	key := uint32(len(c.ids))
	c.ids = append(c.ids, id)
	c.order[id] = int(key)
	c.width = len(vec)
	c.index.Insert(vector.VF32{Key: key, Vec: padTo4(vec)})
	return nil
}

func (c *HNSWCollection) Search(vec []float32, k int) ([]Hit, error) {
	if len(c.ids) == 0 {
		return nil, nil
	}
	if err := checkDim(c.dim(), vec); err != nil {
		return nil, err
	}
	ef := k * 2
	if ef < 100 {
		ef = 100
	}
	vec = padTo4(vec)
	found := c.index.Search(vector.VF32{Vec: vec}, k, ef)

	hits := make([]Hit, 0, len(found))
	for _, item := range found {
		if int(item.Key) >= len(c.ids) {
			continue
		}
		score, err := embedding.CosineSimilarity(vec, item.Vec)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: c.ids[item.Key], Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return c.order[hits[i].ID] < c.order[hits[j].ID]
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (c *HNSWCollection) Len() int { return len(c.ids) }

func (c *HNSWCollection) dim() int { return c.width }

// padTo4 zero-pads vec to a multiple of four, the lane width of the cosine
// kernel. Zero components leave cosine similarity unchanged.
func padTo4(vec []float32) []float32 {
	if len(vec)%4 == 0 {
		return vec
	}
	out := make([]float32, (len(vec)+3)/4*4)
	copy(out, vec)
	return out
}

func checkDim(want int, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector")
	}
	if want != 0 && len(vec) != want {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", want, len(vec))
	}
	return nil
}
