// Package ingestion loads source documents, splits them into overlapping
// chunks, embeds them, and publishes the result as a named collection.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/fabfab/rainbow-agent/embeddings"
	"github.com/fabfab/rainbow-agent/knowledge"
	"github.com/fabfab/rainbow-agent/store"
)

const (
	defaultChunkSize    = 1536
	defaultChunkOverlap = 20
)

type Service struct {
	store     store.Store
	embedder  embeddings.Embedder
	graph     *knowledge.Graph
	logger    *log.Logger
	batchSize int
}

func NewService(chunks store.Store, embedder embeddings.Embedder, graph *knowledge.Graph, logger *log.Logger, batchSize int) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		store:     chunks,
		embedder:  embedder,
		graph:     graph,
		logger:    logger,
		batchSize: batchSize,
	}
}

type Request struct {
	SourcePath   string
	Collection   string
	ChunkSize    int
	ChunkOverlap int
}

type Summary struct {
	Documents int
	Chunks    int
	Skipped   int
}

// Ingest runs the full pipeline for one collection. The previously
// published collection of the same name stays readable until the new chunk
// set is complete; any failure after loading aborts without touching it.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	if s.embedder == nil {
		return Summary{}, fmt.Errorf("embedder not configured")
	}
	if s.store == nil {
		return Summary{}, fmt.Errorf("chunk store not configured")
	}
	if strings.TrimSpace(req.Collection) == "" {
		return Summary{}, fmt.Errorf("collection name is required")
	}

	size := req.ChunkSize
	if size == 0 {
		size = defaultChunkSize
	}
	overlap := req.ChunkOverlap
	if req.ChunkSize == 0 && req.ChunkOverlap == 0 {
		overlap = defaultChunkOverlap
	}
	if size <= 0 {
		return Summary{}, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return Summary{}, fmt.Errorf("chunk overlap must satisfy 0 <= overlap < size, got %d", overlap)
	}

	docs, skipped, err := loadDocuments(req.SourcePath)
	if err != nil {
		return Summary{}, &Error{Stage: StageLoad, Err: err}
	}
	if skipped > 0 {
		s.logger.Printf("skipped %d unreadable documents under %s", skipped, req.SourcePath)
	}

	type pendingChunk struct {
		doc   *Document
		index int
		text  string
	}

	pending := make([]pendingChunk, 0)
	perDocument := make(map[string]int, len(docs))
	for i := range docs {
		doc := &docs[i]
		fragments := SplitText(doc.Text, size, overlap)
		perDocument[doc.Path] = len(fragments)
		for idx, fragment := range fragments {
			pending = append(pending, pendingChunk{doc: doc, index: idx, text: fragment})
		}
	}

	chunks := make([]store.Chunk, 0, len(pending))
	if len(pending) > 0 {
		texts := make([]string, len(pending))
		for i, p := range pending {
			texts[i] = p.text
		}

		vectors, err := embeddings.EmbedBatched(ctx, s.embedder, texts, s.batchSize)
		if err != nil {
			return Summary{}, &Error{Stage: StageEmbed, Err: err}
		}

		for i, p := range pending {
			chunks = append(chunks, store.Chunk{
				ID:            uuid.NewString(),
				DocumentPath:  p.doc.Path,
				DocumentTitle: p.doc.Title,
				Index:         p.index,
				Text:          p.text,
				Embedding:     vectors[i],
			})
		}
	}

	if err := s.store.Replace(ctx, req.Collection, chunks); err != nil {
		return Summary{}, &Error{Stage: StageStore, Err: err}
	}

	s.syncGraph(ctx, req.Collection, docs, perDocument)

	s.logger.Printf("ingested collection %q: %d documents, %d chunks (%d skipped)",
		req.Collection, len(docs), len(chunks), skipped)

	return Summary{Documents: len(docs), Chunks: len(chunks), Skipped: skipped}, nil
}

// syncGraph mirrors the collection into the knowledge graph. Graph failures
// are logged, never fatal: the published collection is already live.
func (s *Service) syncGraph(ctx context.Context, collection string, docs []Document, perDocument map[string]int) {
	if s.graph == nil {
		return
	}

	nodes := make([]knowledge.Document, 0, len(docs))
	for i := range docs {
		nodes = append(nodes, knowledge.Document{
			Path:       docs[i].Path,
			Title:      docs[i].Title,
			ChunkCount: perDocument[docs[i].Path],
		})
	}

	if err := s.graph.SyncCollection(ctx, collection, nodes); err != nil {
		s.logger.Printf("knowledge graph sync failed for %q: %v", collection, err)
	}
}
