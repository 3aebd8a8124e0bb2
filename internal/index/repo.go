package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/starford/dossier/internal/models"
)

// SourceRow represents a row in the sources table.
type SourceRow struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Checksum   string    `json:"checksum"`
	Pages      int       `json:"pages"`
	ChunkCount int       `json:"chunk_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReplaceSource stores a source and swaps its chunks within a transaction.
func (db *DB) ReplaceSource(src SourceRow, chunks []models.SourceChunk) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if src.UpdatedAt.IsZero() {
		src.UpdatedAt = time.Now()
	}
	_, err = tx.Exec(`
		INSERT INTO sources (path, name, checksum, pages, chunk_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name        = excluded.name,
			checksum    = excluded.checksum,
			pages       = excluded.pages,
			chunk_count = excluded.chunk_count,
			updated_at  = excluded.updated_at
	`, src.Path, src.Name, src.Checksum, src.Pages, len(chunks), src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert source: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM chunks WHERE source_id = ?`, src.Path); err != nil {
		return fmt.Errorf("index: clear chunks: %w", err)
	}
	if len(chunks) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO chunks (chunk_id, source_id, source_name, page_number, section_label, text, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("index: prepare chunk insert: %w", err)
		}
		defer stmt.Close()
		for _, c := range chunks {
			if _, err := stmt.Exec(c.ChunkID, src.Path, c.SourceName, c.PageNumber, c.SectionLabel, c.Text, encodeVector(c.Embedding)); err != nil {
				return fmt.Errorf("index: insert chunk: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteSource removes a source and, through the foreign key, its chunks.
func (db *DB) DeleteSource(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM sources WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete source: %w", err)
	}
	return nil
}

// AllChecksums returns path → checksum for every stored source.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ListSources returns all stored sources ordered by path.
func (db *DB) ListSources() ([]SourceRow, error) {
	rows, err := db.conn.Query(`SELECT path, name, checksum, pages, chunk_count, updated_at FROM sources ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: list sources: %w", err)
	}
	defer rows.Close()
	var out []SourceRow
	for rows.Next() {
		var s SourceRow
		if err := rows.Scan(&s.Path, &s.Name, &s.Checksum, &s.Pages, &s.ChunkCount, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Chunks returns every stored chunk in insertion order.
func (db *DB) Chunks() ([]models.SourceChunk, error) {
	rows, err := db.conn.Query(`
		SELECT chunk_id, source_id, source_name, page_number, section_label, text, embedding
		FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("index: chunks: %w", err)
	}
	defer rows.Close()
	var out []models.SourceChunk
	for rows.Next() {
		var (
			c    models.SourceChunk
			blob []byte
		)
		if err := rows.Scan(&c.ChunkID, &c.SourceID, &c.SourceName, &c.PageNumber, &c.SectionLabel, &c.Text, &blob); err != nil {
			return nil, err
		}
		c.Embedding = decodeVector(blob)
		out = append(out, c)
	}
	return out, rows.Err()
}

// encodeVector packs a float32 vector as little-endian bytes.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
