package corpus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/askdoc/askdoc/internal/index"
	"github.com/askdoc/askdoc/pkg/chunker"
)

// PostgresStore persists the corpus snapshot in Postgres using pgvector
// columns. Replacement runs in one transaction, so readers of the tables
// never observe a half-written corpus.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// The embedding column is dimension-free on purpose: the dimension is
// fixed per corpus, not per deployment, and the snapshot is rewritten
// whole on every ingest.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS corpus_meta (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			pages INTEGER NOT NULL,
			size_bytes BIGINT NOT NULL,
			embedding_model TEXT NOT NULL,
			metric TEXT NOT NULL,
			built_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS corpus_chunks (
			chunk_id INTEGER PRIMARY KEY,
			text TEXT NOT NULL,
			page INTEGER NOT NULL,
			char_start INTEGER NOT NULL,
			char_end INTEGER NOT NULL,
			embedding vector NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, c *Corpus) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM corpus_chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM corpus_meta"); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO corpus_meta (id, filename, pages, size_bytes, embedding_model, metric, built_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.Document.ID, c.Document.Filename, c.Document.Pages, c.Document.SizeBytes,
		c.EmbeddingModel, string(c.Metric), c.BuiltAt,
	); err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}

	for i, ch := range c.Chunks {
		embedding := pgvector.NewVector(c.Vectors[i])
		if _, err := tx.Exec(ctx,
			`INSERT INTO corpus_chunks (chunk_id, text, page, char_start, char_end, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			ch.ID, ch.Text, ch.Page, ch.Start, ch.End, embedding,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Load(ctx context.Context) (*Corpus, error) {
	var (
		doc     Document
		model   string
		metric  string
		builtAt time.Time
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, filename, pages, size_bytes, embedding_model, metric, built_at FROM corpus_meta`).
		Scan(&doc.ID, &doc.Filename, &doc.Pages, &doc.SizeBytes, &model, &metric, &builtAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load corpus meta: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT chunk_id, text, page, char_start, char_end, embedding
		 FROM corpus_chunks ORDER BY chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var (
		chunks  []chunker.Chunk
		vectors [][]float32
	)
	for rows.Next() {
		var ch chunker.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&ch.ID, &ch.Text, &ch.Page, &ch.Start, &ch.End, &vec); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, ch)
		vectors = append(vectors, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	c, err := New(doc, chunks, vectors, model, index.Metric(metric))
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	c.BuiltAt = builtAt
	return c, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM corpus_chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM corpus_meta"); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
