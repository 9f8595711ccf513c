package index

import (
	"container/heap"
	"fmt"

	"lograg/internal/domain"
)

// Search returns up to k entries nearest to query, best first. Vectors are L2-normalized at
// ingestion, so the dot product is the cosine similarity. Selection keeps a k-sized min-heap,
// which bounds memory and sorting to k rather than the corpus size.
func (ix *Index) Search(query []float32, k int) ([]domain.SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if k <= 0 {
		return nil, fmt.Errorf("search: k must be positive, got %d", k)
	}
	if len(query) != ix.model.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d",
			domain.ErrModelMismatch, len(query), ix.model.Dimension)
	}

	h := make(minHeap, 0, min(k, len(ix.vectors)))
	for i := range ix.vectors {
		s := dot(ix.vectors[i], query)
		if len(h) < k {
			heap.Push(&h, scored{idx: i, score: s})
			continue
		}
		if better(scored{idx: i, score: s}, h[0]) {
			h[0] = scored{idx: i, score: s}
			heap.Fix(&h, 0)
		}
	}

	results := make([]domain.SearchResult, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		top := heap.Pop(&h).(scored)
		results[i] = domain.SearchResult{Entry: ix.entries[top.idx], Score: top.score}
	}
	return results, nil
}

type scored struct {
	idx   int
	score float64
}

// better orders by score, then by insertion order so equal scores are stable.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.idx < b.idx
}

// minHeap keeps the worst retained candidate at the root.
type minHeap []scored

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
