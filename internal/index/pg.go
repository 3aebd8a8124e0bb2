package index

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/embedding"
	"github.com/starford/dossier/internal/models"
)

// PG is a ChunkIndex backed by Postgres with the pgvector extension.
type PG struct {
	pool     *pgxpool.Pool
	embedder embedding.Embedder
	dims     int
	count    atomic.Int64
}

// OpenPG connects to Postgres, prepares the schema and counts existing chunks.
func OpenPG(ctx context.Context, dsn string, dims int, e embedding.Embedder) (*PG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("index: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index: ping postgres: %w", err)
	}
	p := &PG{pool: pool, embedder: e, dims: dims}
	if err := p.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	var n int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM source_chunks`).Scan(&n); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index: count chunks: %w", err)
	}
	p.count.Store(n)
	return p, nil
}

func (p *PG) initialize(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS source_chunks (
				seq           BIGSERIAL PRIMARY KEY,
				chunk_id      TEXT NOT NULL UNIQUE,
				source_id     TEXT NOT NULL,
				source_name   TEXT NOT NULL DEFAULT '',
				page_number   INTEGER NOT NULL DEFAULT 0,
				section_label TEXT NOT NULL DEFAULT '',
				text          TEXT NOT NULL,
				embedding     vector(%d) NOT NULL
			)`, p.dims),
		`CREATE INDEX IF NOT EXISTS source_chunks_source_idx ON source_chunks (source_id)`,
		`CREATE INDEX IF NOT EXISTS source_chunks_embedding_idx ON source_chunks
			USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("index: init postgres schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *PG) Close() {
	p.pool.Close()
}

// Len returns the number of stored chunks.
func (p *PG) Len() int {
	return int(p.count.Load())
}

const upsertChunkSQL = `
	INSERT INTO source_chunks (chunk_id, source_id, source_name, page_number, section_label, text, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (chunk_id) DO UPDATE SET
		source_id     = excluded.source_id,
		source_name   = excluded.source_name,
		page_number   = excluded.page_number,
		section_label = excluded.section_label,
		text          = excluded.text,
		embedding     = excluded.embedding`

// Index inserts chunks in order within one batch. Known chunk ids are updated in place.
func (p *PG) Index(ctx context.Context, chunks []models.SourceChunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		vec := c.Embedding
		if len(vec) == 0 {
			var err error
			if vec, err = p.embedder.Embed(ctx, c.Text); err != nil {
				return fmt.Errorf("index: embed chunk %s: %w", c.ChunkID, err)
			}
		}
		batch.Queue(upsertChunkSQL,
			c.ChunkID, c.SourceID, c.SourceName, c.PageNumber, c.SectionLabel, c.Text, pgvector.NewVector(vec))
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("index: insert chunks: %w", err)
	}
	return p.recount(ctx)
}

// RemoveSource deletes every chunk owned by sourceID.
func (p *PG) RemoveSource(ctx context.Context, sourceID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM source_chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("index: remove source: %w", err)
	}
	return p.recount(ctx)
}

func (p *PG) recount(ctx context.Context) error {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM source_chunks`).Scan(&n); err != nil {
		return fmt.Errorf("index: count chunks: %w", err)
	}
	p.count.Store(n)
	return nil
}

// Query ranks chunks by cosine distance; seq keeps ties in ingestion order.
func (p *PG) Query(ctx context.Context, text string, k int, exclude map[string]struct{}) ([]models.RetrievedPassage, error) {
	if p.Len() == 0 {
		return nil, apperr.ErrEmptyIndex
	}
	if k <= 0 {
		return []models.RetrievedPassage{}, nil
	}
	q, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}
	excluded := make([]string, 0, len(exclude))
	for id := range exclude {
		excluded = append(excluded, id)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, source_id, source_name, page_number, section_label, text,
		       1 - (embedding <=> $1) AS score
		FROM source_chunks
		WHERE NOT (source_id = ANY($2))
		ORDER BY embedding <=> $1, seq
		LIMIT $3`, pgvector.NewVector(q), excluded, k)
	if err != nil {
		return nil, fmt.Errorf("index: query similar: %w", err)
	}
	defer rows.Close()

	out := make([]models.RetrievedPassage, 0, k)
	for rows.Next() {
		var r models.RetrievedPassage
		if err := rows.Scan(&r.ChunkID, &r.SourceID, &r.SourceName, &r.PageNumber, &r.SectionLabel, &r.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("index: scan passage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
