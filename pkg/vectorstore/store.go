// Package vectorstore implements the local vector store on SQLite with the
// sqlite-vec extension. Curriculum embeddings ship precomputed inside VKPs,
// so the store only holds and searches them.
package vectorstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver for database/sql

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension.
	vec.Auto()
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
    subject     TEXT NOT NULL,
    chunk_id    TEXT NOT NULL,
    text        TEXT NOT NULL,
    source_file TEXT NOT NULL DEFAULT '',
    topic       TEXT NOT NULL DEFAULT '',
    embedding   BLOB NOT NULL,
    PRIMARY KEY (subject, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_chunks_subject ON chunks (subject);
`

// Store implements ports.VectorStore over a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ ports.VectorStore = (*Store)(nil)

// New opens (or creates) the vector database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock errors
	// between the install path and concurrent reads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating vector schema: %w", err)
	}

	slog.Info("Vector store opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// TopK returns the k nearest chunks for a subject by cosine distance.
// Ties break on chunk id so identical inputs return identical results.
func (s *Store) TopK(ctx context.Context, subject string, queryVec []float32, k int) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, text, source_file, topic,
		       vec_distance_cosine(embedding, ?) AS distance
		FROM chunks
		WHERE subject = ?
		ORDER BY distance ASC, chunk_id ASC
		LIMIT ?`,
		encodeEmbedding(queryVec), subject, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search failed: %v", ports.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []models.RetrievedChunk
	for rows.Next() {
		var c models.RetrievedChunk
		var distance float64
		if err := rows.Scan(&c.ChunkID, &c.Text, &c.SourceFile, &c.Topic, &distance); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		// Cosine distance is 1 - similarity.
		c.Similarity = 1.0 - distance
		out = append(out, c)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces chunks for a subject.
func (s *Store) Upsert(ctx context.Context, subject string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	if err := insertChunks(ctx, tx, subject, chunks); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReplaceSubject atomically swaps the full chunk set for a subject.
func (s *Store) ReplaceSubject(ctx context.Context, subject string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE subject = ?`, subject); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clearing subject %s: %w", subject, err)
	}
	if err := insertChunks(ctx, tx, subject, chunks); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace: %w", err)
	}
	slog.Info("Vector subject replaced", "subject", subject, "chunks", len(chunks))
	return nil
}

// DeleteSubject removes all chunks for a subject.
func (s *Store) DeleteSubject(ctx context.Context, subject string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE subject = ?`, subject); err != nil {
		return fmt.Errorf("deleting subject %s: %w", subject, err)
	}
	return nil
}

// CountChunks returns the chunk count for a subject.
func (s *Store) CountChunks(ctx context.Context, subject string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE subject = ?`, subject).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Health verifies the database responds and the vec extension is loaded.
func (s *Store) Health(ctx context.Context) error {
	var version string
	if err := s.db.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&version); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrUnavailable, err)
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, subject string, chunks []models.Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (subject, chunk_id, text, source_file, topic, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, subject, c.ID, c.Text, c.SourceFile,
			c.Topic, encodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// encodeEmbedding packs a float32 vector into the little-endian blob
// layout sqlite-vec expects.
func encodeEmbedding(v []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		// Should never happen with bytes.Buffer
		return nil
	}
	return buf.Bytes()
}
