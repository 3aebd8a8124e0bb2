package index

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/embedding"
	"github.com/starford/dossier/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "dossier-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func chunk(id, source, text string) models.SourceChunk {
	return models.SourceChunk{ChunkID: id, SourceID: source, SourceName: source, Text: text}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM sources`).Scan(&count); err != nil {
		t.Fatalf("sources table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		t.Fatalf("chunks table missing: %v", err)
	}
}

func TestReplaceSourceAndChunks(t *testing.T) {
	db := testDB(t)
	c := chunk("c1", "a.pdf", "alpha")
	c.PageNumber = 4
	c.Embedding = []float32{0.5, -1, 2}
	if err := db.ReplaceSource(SourceRow{Path: "a.pdf", Name: "a.pdf", Checksum: "x"}, []models.SourceChunk{c}); err != nil {
		t.Fatalf("ReplaceSource: %v", err)
	}
	got, err := db.Chunks()
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "c1" || got[0].PageNumber != 4 {
		t.Fatalf("chunks = %+v", got)
	}
	if len(got[0].Embedding) != 3 || got[0].Embedding[2] != 2 {
		t.Errorf("embedding round trip = %v", got[0].Embedding)
	}

	// Replacing swaps the chunk set.
	if err := db.ReplaceSource(SourceRow{Path: "a.pdf", Name: "a.pdf", Checksum: "y"}, []models.SourceChunk{chunk("c2", "a.pdf", "beta")}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.Chunks()
	if len(got) != 1 || got[0].ChunkID != "c2" {
		t.Errorf("after replace chunks = %+v", got)
	}
	sums, _ := db.AllChecksums()
	if sums["a.pdf"] != "y" {
		t.Errorf("checksum = %q, want y", sums["a.pdf"])
	}
}

func TestDeleteSourceCascades(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceSource(SourceRow{Path: "a.pdf"}, []models.SourceChunk{chunk("c1", "a.pdf", "alpha")})
	if err := db.DeleteSource("a.pdf"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	got, _ := db.Chunks()
	if len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}
	srcs, _ := db.ListSources()
	if len(srcs) != 0 {
		t.Errorf("expected no sources, got %+v", srcs)
	}
}

func TestListSources_ChunkCount(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceSource(SourceRow{Path: "b.md", Name: "b.md"}, []models.SourceChunk{chunk("1", "b.md", "x"), chunk("2", "b.md", "y")})
	_ = db.ReplaceSource(SourceRow{Path: "a.md", Name: "a.md"}, nil)
	srcs, err := db.ListSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 2 || srcs[0].Path != "a.md" || srcs[1].ChunkCount != 2 {
		t.Errorf("sources = %+v", srcs)
	}
}

func TestMemory_EmptyIndex(t *testing.T) {
	m := NewMemory(embedding.NewHashing(32))
	_, err := m.Query(context.Background(), "anything", 5, nil)
	if !errors.Is(err, apperr.ErrEmptyIndex) {
		t.Fatalf("err = %v, want ErrEmptyIndex", err)
	}
}

func TestMemory_RanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(embedding.NewHashing(256))
	_ = m.Index(ctx, []models.SourceChunk{
		chunk("c1", "a.pdf", "shipping labels and logistics"),
		chunk("c2", "b.pdf", "dissolution testing of tablets"),
	})
	got, err := m.Query(ctx, "tablet dissolution testing", 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ChunkID != "c2" {
		t.Fatalf("ranking = %+v", got)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %f < %f", got[0].Score, got[1].Score)
	}
}

func TestMemory_TiesKeepIngestionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(embedding.NewHashing(64))
	same := []float32{1, 0, 0}
	var chunks []models.SourceChunk
	for _, id := range []string{"z", "a", "m"} {
		c := chunk(id, id+".pdf", "t")
		c.Embedding = same
		chunks = append(chunks, c)
	}
	_ = m.Index(ctx, chunks)

	// A query embedding of another length scores every chunk 0.
	for run := 0; run < 3; run++ {
		got, _ := m.Query(ctx, "query", 3, nil)
		if got[0].ChunkID != "z" || got[1].ChunkID != "a" || got[2].ChunkID != "m" {
			t.Fatalf("run %d order = %v,%v,%v", run, got[0].ChunkID, got[1].ChunkID, got[2].ChunkID)
		}
	}
}

func TestMemory_ExcludeAndLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(embedding.NewHashing(64))
	_ = m.Index(ctx, []models.SourceChunk{
		chunk("c1", "a.pdf", "one"), chunk("c2", "b.pdf", "two"), chunk("c3", "a.pdf", "three"),
	})
	got, _ := m.Query(ctx, "one", 10, map[string]struct{}{"a.pdf": {}})
	if len(got) != 1 || got[0].ChunkID != "c2" {
		t.Errorf("excluded query = %+v", got)
	}
	got, _ = m.Query(ctx, "one", 2, nil)
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestMemory_RemoveSource(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(embedding.NewHashing(64))
	_ = m.Index(ctx, []models.SourceChunk{chunk("c1", "a.pdf", "one"), chunk("c2", "b.pdf", "two")})
	_ = m.RemoveSource(ctx, "a.pdf")
	if m.Len() != 1 {
		t.Fatalf("Len = %d", m.Len())
	}
	// Re-indexing a removed id appends it again.
	_ = m.Index(ctx, []models.SourceChunk{chunk("c1", "a.pdf", "one")})
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_ = db.ReplaceSource(SourceRow{Path: "a.pdf"}, []models.SourceChunk{chunk("c1", "a.pdf", "alpha text"), chunk("c2", "a.pdf", "beta text")})
	m := NewMemory(embedding.NewHashing(64))
	if err := Load(ctx, db, m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}
