// Package store persists named collections of text chunks and their
// embeddings and serves nearest-neighbour queries over them.
package store

import "context"

// Chunk is one embedded fragment of a source document. Chunks are written
// once during ingestion and never mutated afterwards.
type Chunk struct {
	ID            string
	DocumentPath  string
	DocumentTitle string
	Index         int
	Text          string
	Embedding     []float32
}

// Match is a chunk scored against a query embedding. Score is cosine
// similarity mapped onto [0,1].
type Match struct {
	Chunk
	Score float64
}

// Store is the chunk store contract. A collection name resolves to at most
// one live chunk set; Replace swaps the set under a name atomically, so a
// concurrent QueryTopK sees either the old set or the new one, never a mix.
type Store interface {
	CreateCollection(ctx context.Context, name string) error
	DeleteCollection(ctx context.Context, name string) error
	UpsertChunks(ctx context.Context, name string, chunks []Chunk) error
	// QueryTopK returns up to k chunks ranked by similarity to the query
	// embedding. An unknown or empty collection yields an empty result.
	QueryTopK(ctx context.Context, name string, query []float32, k int) ([]Match, error)
	ListCollections(ctx context.Context) ([]string, error)
	// Replace publishes chunks as the new live set for name, atomically
	// retiring any prior set of the same name.
	Replace(ctx context.Context, name string, chunks []Chunk) error
}
