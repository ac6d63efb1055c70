package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	statusStaging = "staging"
	statusLive    = "live"
)

// Postgres stores chunks in pgvector-backed tables. Collection replacement
// is staged under a fresh collection row and flipped to live in a single
// transaction, so readers resolve either the old or the new collection id.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) CreateCollection(ctx context.Context, name string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rag_collections (id, name, status, published_at)
		VALUES ($1, $2, $3, NOW())
	`, uuid.New(), name, statusLive)
	if err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	return nil
}

func (s *Postgres) DeleteCollection(ctx context.Context, name string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM rag_collections WHERE name = $1 AND status = $2",
		name, statusLive,
	); err != nil {
		return fmt.Errorf("delete collection %q: %w", name, err)
	}
	return nil
}

func (s *Postgres) UpsertChunks(ctx context.Context, name string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	id, err := s.liveCollectionID(ctx, name)
	if err != nil {
		return err
	}
	if id == uuid.Nil {
		return fmt.Errorf("collection %q does not exist", name)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = insertChunks(ctx, tx, id, chunks); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk upsert: %w", err)
	}
	return nil
}

func (s *Postgres) QueryTopK(ctx context.Context, name string, query []float32, k int) ([]Match, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}
	if k <= 0 {
		k = 10
	}

	id, err := s.liveCollectionID(ctx, name)
	if err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_path, document_title, chunk_index, content, embedding,
		       (embedding <=> $2::vector) AS distance
		FROM rag_chunks
		WHERE collection_id = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3
	`, id, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query top-k chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var (
			m        Match
			vec      pgvector.Vector
			distance float64
		)
		if err := rows.Scan(&m.ID, &m.DocumentPath, &m.DocumentTitle, &m.Index, &m.Text, &vec, &distance); err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}
		m.Embedding = vec.Slice()
		m.Score = 1 - distance
		if m.Score < 0 {
			m.Score = 0
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk matches: %w", err)
	}

	return matches, nil
}

func (s *Postgres) ListCollections(ctx context.Context) ([]string, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	rows, err := s.pool.Query(ctx,
		"SELECT name FROM rag_collections WHERE status = $1 ORDER BY name",
		statusLive,
	)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Postgres) Replace(ctx context.Context, name string, chunks []Chunk) (err error) {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	stagingID := uuid.New()
	if _, err = s.pool.Exec(ctx, `
		INSERT INTO rag_collections (id, name, status)
		VALUES ($1, $2, $3)
	`, stagingID, name, statusStaging); err != nil {
		return fmt.Errorf("stage collection %q: %w", name, err)
	}
	defer func() {
		if err != nil {
			// Best effort; a leftover staging row is never visible to readers.
			_, _ = s.pool.Exec(context.WithoutCancel(ctx),
				"DELETE FROM rag_collections WHERE id = $1", stagingID)
		}
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = insertChunks(ctx, tx, stagingID, chunks); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx,
		"DELETE FROM rag_collections WHERE name = $1 AND status = $2",
		name, statusLive,
	); err != nil {
		return fmt.Errorf("retire previous collection %q: %w", name, err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE rag_collections
		SET status = $2, published_at = NOW()
		WHERE id = $1
	`, stagingID, statusLive); err != nil {
		return fmt.Errorf("publish collection %q: %w", name, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit collection replace: %w", err)
	}
	return nil
}

func (s *Postgres) liveCollectionID(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM rag_collections WHERE name = $1 AND status = $2",
		name, statusLive,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve collection %q: %w", name, err)
	}
	return id, nil
}

func insertChunks(ctx context.Context, tx pgx.Tx, collectionID uuid.UUID, chunks []Chunk) error {
	for i := range chunks {
		chunk := &chunks[i]
		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, collection_id, document_path, document_title, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, collectionID, chunk.DocumentPath, chunk.DocumentTitle, chunk.Index, chunk.Text,
			pgvector.NewVector(chunk.Embedding),
		); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", chunk.Index, chunk.DocumentPath, err)
		}
	}
	return nil
}

var _ Store = (*Postgres)(nil)
