// Package retrieval ranks stored examples against a new task.
//
// Each example lives in two vector spaces under the same id: one for the
// task text and one for the dependency signature. A query runs k-NN in both
// and ranks by a weighted blend, with the task space dominant.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskforge/internal/logging"
	"taskforge/internal/types"
)

const (
	DefaultK          = 10
	DefaultTaskWeight = 0.8
	DefaultDepWeight  = 0.2
)

// Index is an in-memory, read-only view over a fixed set of examples. It is
// built whole and replaced whole; it is never updated in place.
type Index struct {
	docs map[string]types.Example
	task Collection
	dep  Collection
}

// Build indexes examples into fresh collections for backend. An example
// without a dependency embedding is indexed in the task space only.
func Build(backend string, examples []types.Example) (*Index, error) {
	task, err := NewCollection(backend)
	if err != nil {
		return nil, err
	}
	dep, err := NewCollection(backend)
	if err != nil {
		return nil, err
	}
	ix := &Index{docs: make(map[string]types.Example, len(examples)), task: task, dep: dep}
	for _, ex := range examples {
		if _, dup := ix.docs[ex.ID]; dup {
			return nil, fmt.Errorf("duplicate example id %s", ex.ID)
		}
		if err := task.Add(ex.ID, ex.TaskEmbedding); err != nil {
			return nil, fmt.Errorf("example %s: task embedding: %w", ex.ID, err)
		}
		if len(ex.DepEmbedding) > 0 {
			if err := dep.Add(ex.ID, ex.DepEmbedding); err != nil {
				return nil, fmt.Errorf("example %s: dependency embedding: %w", ex.ID, err)
			}
		}
		ix.docs[ex.ID] = ex
	}
	return ix, nil
}

// Len returns the number of indexed examples.
func (ix *Index) Len() int { return len(ix.docs) }

// Scored is an example with its blended score.
type Scored struct {
	Example   types.Example
	TaskScore float64
	DepScore  float64
	Combined  float64
}

// Retrieve returns at most k examples ranked by
// taskWeight*taskScore + depWeight*depScore, where depScore is 0 for
// examples outside the dependency space's top k. Ties keep the task
// space's order. k <= 0 selects DefaultK.
func (ix *Index) Retrieve(taskEmb, depEmb []float32, k int, taskWeight, depWeight float64) ([]types.Example, error) {
	scored, err := ix.RetrieveScored(taskEmb, depEmb, k, taskWeight, depWeight)
	if err != nil {
		return nil, err
	}
	out := make([]types.Example, len(scored))
	for i, s := range scored {
		out[i] = s.Example
	}
	return out, nil
}

// RetrieveScored is Retrieve with the score breakdown.
func (ix *Index) RetrieveScored(taskEmb, depEmb []float32, k int, taskWeight, depWeight float64) ([]Scored, error) {
	if k <= 0 {
		k = DefaultK
	}
	if ix.Len() == 0 {
		return nil, nil
	}

	taskHits, err := ix.task.Search(taskEmb, k)
	if err != nil {
		return nil, &types.RetrievalUnavailableError{Err: fmt.Errorf("task space: %w", err)}
	}

	depScores := make(map[string]float64)
	if len(depEmb) > 0 && ix.dep.Len() > 0 {
		depHits, err := ix.dep.Search(depEmb, k)
		if err != nil {
			return nil, &types.RetrievalUnavailableError{Err: fmt.Errorf("dependency space: %w", err)}
		}
		for _, h := range depHits {
			depScores[h.ID] = h.Score
		}
	}

	out := make([]Scored, 0, len(taskHits))
	for _, h := range taskHits {
		dep := depScores[h.ID]
		out = append(out, Scored{
			Example:   ix.docs[h.ID],
			TaskScore: h.Score,
			DepScore:  dep,
			Combined:  taskWeight*h.Score + depWeight*dep,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Combined > out[j].Combined })
	if len(out) > k {
		out = out[:k]
	}
	logging.RetrievalDebug("retrieved %d of %d examples (k=%d)", len(out), ix.Len(), k)
	return out, nil
}

// =============================================================================
// RETRIEVER
// =============================================================================

// Source lists persisted examples. The example store satisfies it.
type Source interface {
	All(ctx context.Context) ([]types.Example, error)
}

// Embedder embeds text. embedding.EmbeddingEngine satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever owns the current Index and swaps in a rebuilt one on Reload.
type Retriever struct {
	source   Source
	embedder Embedder
	backend  string

	mu sync.RWMutex
	ix *Index
}

// NewRetriever creates a retriever. Call Reload before the first query.
func NewRetriever(source Source, embedder Embedder, backend string) *Retriever {
	empty, _ := Build(backend, nil)
	return &Retriever{source: source, embedder: embedder, backend: backend, ix: empty}
}

// Reload rebuilds the index from the source.
func (r *Retriever) Reload(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Reload")
	defer timer.Stop()

	examples, err := r.source.All(ctx)
	if err != nil {
		return &types.RetrievalUnavailableError{Err: err}
	}
	ix, err := Build(r.backend, examples)
	if err != nil {
		return &types.RetrievalUnavailableError{Err: err}
	}
	r.mu.Lock()
	r.ix = ix
	r.mu.Unlock()
	logging.Retrieval("Index rebuilt with %d examples (backend=%s)", ix.Len(), r.backend)
	return nil
}

// Index returns the current index snapshot.
func (r *Retriever) Index() *Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix
}

// Query holds the texts and weights of a retrieval request.
type Query struct {
	TaskText            string
	DependencySignature string
	K                   int
	TaskWeight          float64
	DepWeight           float64
}

// DefaultQuery returns a query with default k and weights.
func DefaultQuery(taskText, depSignature string) Query {
	return Query{
		TaskText:            taskText,
		DependencySignature: depSignature,
		K:                   DefaultK,
		TaskWeight:          DefaultTaskWeight,
		DepWeight:           DefaultDepWeight,
	}
}

// Search embeds the query texts and retrieves from the current index.
// Every failure is a RetrievalUnavailableError, so callers can fall back to
// generating without examples.
func (r *Retriever) Search(ctx context.Context, q Query) ([]types.Example, error) {
	ix := r.Index()
	if ix.Len() == 0 {
		return nil, nil
	}
	taskEmb, err := r.embedder.Embed(ctx, q.TaskText)
	if err != nil {
		return nil, &types.RetrievalUnavailableError{Err: fmt.Errorf("embed task: %w", err)}
	}
	var depEmb []float32
	if q.DependencySignature != "" {
		depEmb, err = r.embedder.Embed(ctx, q.DependencySignature)
		if err != nil {
			return nil, &types.RetrievalUnavailableError{Err: fmt.Errorf("embed dependencies: %w", err)}
		}
	}
	return ix.Retrieve(taskEmb, depEmb, q.K, q.TaskWeight, q.DepWeight)
}

// SearchOrEmpty is Search that logs and swallows unavailability.
func (r *Retriever) SearchOrEmpty(ctx context.Context, q Query) []types.Example {
	examples, err := r.Search(ctx, q)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("retrieval unavailable, continuing without examples: %v", err)
		return nil
	}
	return examples
}
