// Package retrieval narrows a collection down to the chunks worth showing
// the model: dense fetch, near-duplicate elimination, relevance filtering,
// and a lexical rerank over the survivors.
package retrieval

import (
	"context"
	"fmt"
	"log"

	"github.com/fabfab/rainbow-agent/embeddings"
	"github.com/fabfab/rainbow-agent/store"
)

const (
	defaultFetchK              = 50
	defaultRerankLimit         = 30
	defaultRedundancyThreshold = 0.95
	defaultRelevanceThreshold  = 0.76
)

// Candidate is a chunk scored against one query. Similarity is the dense
// score from the chunk store; candidates are transient per query.
type Candidate struct {
	store.Chunk
	Similarity float64
}

type Config struct {
	FetchK              int
	RedundancyThreshold float64
	RelevanceThreshold  float64
	RerankLimit         int
}

func (c Config) withDefaults() Config {
	if c.FetchK <= 0 {
		c.FetchK = defaultFetchK
	}
	if c.RerankLimit <= 0 {
		c.RerankLimit = defaultRerankLimit
	}
	if c.RedundancyThreshold <= 0 {
		c.RedundancyThreshold = defaultRedundancyThreshold
	}
	if c.RelevanceThreshold <= 0 {
		c.RelevanceThreshold = defaultRelevanceThreshold
	}
	return c
}

type Retriever struct {
	store    store.Store
	embedder embeddings.Embedder
	logger   *log.Logger
	cfg      Config
}

func NewRetriever(chunks store.Store, embedder embeddings.Embedder, logger *log.Logger, cfg Config) *Retriever {
	if logger == nil {
		logger = log.Default()
	}

	return &Retriever{
		store:    chunks,
		embedder: embedder,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Retrieve runs the four-stage pipeline for one query against collection.
// An empty result is a valid outcome, never an error.
func (r *Retriever) Retrieve(ctx context.Context, collection, query string) ([]Candidate, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}
	if r.store == nil {
		return nil, fmt.Errorf("chunk store is not configured")
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	matches, err := r.store.QueryTopK(ctx, collection, vectors[0], r.cfg.FetchK)
	if err != nil {
		return nil, fmt.Errorf("dense fetch: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, len(matches))
	for i, match := range matches {
		candidates[i] = Candidate{Chunk: match.Chunk, Similarity: match.Score}
	}

	candidates = dropRedundant(candidates, r.cfg.RedundancyThreshold)
	candidates = dropIrrelevant(candidates, r.cfg.RelevanceThreshold)
	if len(candidates) == 0 {
		return nil, nil
	}

	return rerankLexically(candidates, query, r.cfg.RerankLimit), nil
}

// dropRedundant walks candidates in rank order and removes any whose
// embedding is nearly identical to one already kept, so the higher-ranked
// duplicate survives.
func dropRedundant(candidates []Candidate, threshold float64) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		duplicate := false
		for i := range kept {
			if store.CosineSimilarity(candidate.Embedding, kept[i].Embedding) > threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// dropIrrelevant keeps candidates whose dense similarity meets the
// threshold; the bound is inclusive.
func dropIrrelevant(candidates []Candidate, threshold float64) []Candidate {
	kept := candidates[:0]
	for _, candidate := range candidates {
		if candidate.Similarity >= threshold {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// rerankLexically re-orders candidates by BM25 score against the query and
// keeps the top limit. When no index can be built over the survivors, the
// dense ordering stands.
func rerankLexically(candidates []Candidate, query string, limit int) []Candidate {
	texts := make([]string, len(candidates))
	for i := range candidates {
		texts[i] = candidates[i].Text
	}

	idx := buildBM25Index(texts)
	if idx == nil {
		if len(candidates) > limit {
			return candidates[:limit]
		}
		return candidates
	}

	order := idx.score(query)
	reranked := make([]Candidate, 0, limit)
	for _, pos := range order {
		reranked = append(reranked, candidates[pos])
		if len(reranked) == limit {
			break
		}
	}
	return reranked
}
