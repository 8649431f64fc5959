package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/askdoc/askdoc/internal/index"
	"github.com/askdoc/askdoc/pkg/chunker"
)

// SQLiteStore keeps the corpus snapshot in a single database file under
// the data directory. It is the default store for local runs and the CLI.
// Embeddings are stored as JSON-encoded float32 slices.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "index.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS corpus_meta (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			pages INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			embedding_model TEXT NOT NULL,
			metric TEXT NOT NULL,
			built_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS corpus_chunks (
			chunk_id INTEGER PRIMARY KEY,
			text TEXT NOT NULL,
			page INTEGER NOT NULL,
			char_start INTEGER NOT NULL,
			char_end INTEGER NOT NULL,
			embedding BLOB NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, c *Corpus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM corpus_chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM corpus_meta"); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO corpus_meta (id, filename, pages, size_bytes, embedding_model, metric, built_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Document.ID, c.Document.Filename, c.Document.Pages, c.Document.SizeBytes,
		c.EmbeddingModel, string(c.Metric), c.BuiltAt,
	); err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO corpus_chunks (chunk_id, text, page, char_start, char_end, embedding)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range c.Chunks {
		blob, err := json.Marshal(c.Vectors[i])
		if err != nil {
			return fmt.Errorf("encode embedding for chunk %d: %w", ch.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Text, ch.Page, ch.Start, ch.End, blob); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context) (*Corpus, error) {
	var (
		doc     Document
		model   string
		metric  string
		builtAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, pages, size_bytes, embedding_model, metric, built_at FROM corpus_meta`).
		Scan(&doc.ID, &doc.Filename, &doc.Pages, &doc.SizeBytes, &model, &metric, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load corpus meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
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
		var blob []byte
		if err := rows.Scan(&ch.ID, &ch.Text, &ch.Page, &ch.Start, &ch.End, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal(blob, &vec); err != nil {
			return nil, fmt.Errorf("decode embedding for chunk %d: %w", ch.ID, err)
		}
		chunks = append(chunks, ch)
		vectors = append(vectors, vec)
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

func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM corpus_chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM corpus_meta"); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
