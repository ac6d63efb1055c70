package store

import (
	"context"
	"fmt"
	"math"
	"testing"
)

func TestMemoryCreateAndList(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.CreateCollection(ctx, "b"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateCollection(ctx, "a"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateCollection(ctx, "a"); err == nil {
		t.Fatal("expected error for duplicate collection")
	}

	names, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", names)
	}

	if err := s.DeleteCollection(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	names, _ = s.ListCollections(ctx)
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("expected [b] after delete, got %v", names)
	}
}

func TestMemoryUpsertRequiresCollection(t *testing.T) {
	s := NewMemory()
	err := s.UpsertChunks(context.Background(), "missing", []Chunk{{Text: "x"}})
	if err == nil {
		t.Fatal("expected error for unknown collection")
	}
}

func TestMemoryQueryTopKRanksBySimilarity(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	chunks := []Chunk{
		{ID: "orthogonal", Text: "b", Embedding: []float32{0, 1}},
		{ID: "aligned", Text: "a", Embedding: []float32{1, 0}},
		{ID: "diagonal", Text: "c", Embedding: []float32{1, 1}},
	}
	if err := s.Replace(ctx, "c", chunks); err != nil {
		t.Fatalf("replace: %v", err)
	}

	matches, err := s.QueryTopK(ctx, "c", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected top 2, got %d", len(matches))
	}
	if matches[0].ID != "aligned" || matches[1].ID != "diagonal" {
		t.Fatalf("unexpected ranking: %s, %s", matches[0].ID, matches[1].ID)
	}
	if math.Abs(matches[0].Score-1) > 1e-9 {
		t.Fatalf("expected score 1 for an identical vector, got %f", matches[0].Score)
	}
}

func TestMemoryQueryTopKClampsNegativeScores(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Replace(ctx, "c", []Chunk{{ID: "opposite", Embedding: []float32{-1, 0}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	matches, err := s.QueryTopK(ctx, "c", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].Score != 0 {
		t.Fatalf("expected a zero score for opposed vectors, got %v", matches)
	}
}

func TestMemoryQueryUnknownCollection(t *testing.T) {
	s := NewMemory()
	matches, err := s.QueryTopK(context.Background(), "missing", []float32{1}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestMemoryReplaceSwapsWholeSet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first := []Chunk{
		{Text: "old one", Embedding: []float32{1, 0}},
		{Text: "old two", Embedding: []float32{0, 1}},
	}
	if err := s.Replace(ctx, "kb", first); err != nil {
		t.Fatalf("replace: %v", err)
	}

	second := []Chunk{{Text: "new only", Embedding: []float32{1, 1}}}
	if err := s.Replace(ctx, "kb", second); err != nil {
		t.Fatalf("replace: %v", err)
	}

	matches, err := s.QueryTopK(ctx, "kb", []float32{1, 1}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].Text != "new only" {
		t.Fatalf("expected only the replacement set, got %v", matches)
	}
	if matches[0].ID == "" {
		t.Fatal("expected Replace to assign chunk IDs")
	}
}

func TestMemoryReplaceIsAtomicUnderConcurrentReads(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	makeSet := func(label string) []Chunk {
		chunks := make([]Chunk, 8)
		for i := range chunks {
			chunks[i] = Chunk{
				ID:           fmt.Sprintf("%s-%d", label, i),
				DocumentPath: label,
				Text:         fmt.Sprintf("%s chunk %d", label, i),
				Embedding:    []float32{1, 0},
			}
		}
		return chunks
	}

	if err := s.Replace(ctx, "kb", makeSet("old")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			label := "old"
			if i%2 == 1 {
				label = "new"
			}
			if err := s.Replace(ctx, "kb", makeSet(label)); err != nil {
				t.Errorf("replace %q: %v", label, err)
				return
			}
		}
	}()

	// Every read must see one complete set, never a partial or mixed one.
	for i := 0; i < 2000; i++ {
		matches, err := s.QueryTopK(ctx, "kb", []float32{1, 0}, 16)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(matches) != 8 {
			t.Fatalf("observed a partial set of %d chunks", len(matches))
		}
		label := matches[0].DocumentPath
		for _, m := range matches {
			if m.DocumentPath != label {
				t.Fatalf("observed a mixed set: %s alongside %s", label, m.DocumentPath)
			}
		}
	}
	<-done
}

func TestMemoryReplaceDoesNotAliasCaller(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	chunks := []Chunk{{ID: "c1", Text: "original", Embedding: []float32{1}}}
	if err := s.Replace(ctx, "kb", chunks); err != nil {
		t.Fatalf("replace: %v", err)
	}
	chunks[0].Text = "mutated"

	matches, err := s.QueryTopK(ctx, "kb", []float32{1}, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if matches[0].Text != "original" {
		t.Fatal("expected the stored snapshot to be independent of the caller's slice")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected 1, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Fatalf("expected -1, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %f", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Fatalf("expected 0 for empty vectors, got %f", got)
	}
}
