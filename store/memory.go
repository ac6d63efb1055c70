package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory keeps collections in process memory. It mirrors the Postgres
// store's semantics, including atomic replacement: each collection is an
// immutable snapshot swapped under the lock, so readers never observe a
// partially written set.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Chunk
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Chunk)}
}

func (s *Memory) CreateCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %q already exists", name)
	}
	s.collections[name] = nil
	return nil
}

func (s *Memory) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Memory) UpsertChunks(_ context.Context, name string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q does not exist", name)
	}
	next := make([]Chunk, 0, len(existing)+len(chunks))
	next = append(next, existing...)
	for _, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}
		next = append(next, chunk)
	}
	s.collections[name] = next
	return nil
}

func (s *Memory) QueryTopK(_ context.Context, name string, query []float32, k int) ([]Match, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}
	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	chunks := s.collections[name]
	s.mu.RUnlock()

	matches := make([]Match, 0, len(chunks))
	for i := range chunks {
		score := CosineSimilarity(query, chunks[i].Embedding)
		if score < 0 {
			score = 0
		}
		matches = append(matches, Match{Chunk: chunks[i], Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Memory) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Memory) Replace(_ context.Context, name string, chunks []Chunk) error {
	snapshot := make([]Chunk, len(chunks))
	copy(snapshot, chunks)
	for i := range snapshot {
		if snapshot[i].ID == "" {
			snapshot[i].ID = uuid.NewString()
		}
	}

	s.mu.Lock()
	s.collections[name] = snapshot
	s.mu.Unlock()
	return nil
}

var _ Store = (*Memory)(nil)

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score zero. The Postgres store reports
// the same quantity via 1 - cosine distance, clamped to [0,1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
