package index

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/starford/dossier/internal/embedding"
	"github.com/starford/dossier/internal/models"
)

// Runs only when DOSSIER_TEST_PG_DSN points at a Postgres with pgvector installed.
func TestPG_IndexAndQuery(t *testing.T) {
	dsn := os.Getenv("DOSSIER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DOSSIER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	p, err := OpenPG(ctx, dsn, 64, embedding.NewHashing(64))
	if err != nil {
		t.Fatalf("OpenPG: %v", err)
	}
	defer p.Close()
	t.Cleanup(func() { _ = p.RemoveSource(ctx, "pg-test.pdf") })

	err = p.Index(ctx, []models.SourceChunk{
		chunk("pg-test-1", "pg-test.pdf", "dissolution testing of tablets"),
		chunk("pg-test-2", "pg-test.pdf", "shipping labels"),
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	got, err := p.Query(ctx, "tablet dissolution", 1, map[string]struct{}{"other.pdf": {}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "pg-test-1" {
		t.Errorf("got %+v", got)
	}
}

func TestUpsertChunkSQL_UpdatesEveryColumn(t *testing.T) {
	_, set, ok := strings.Cut(upsertChunkSQL, "DO UPDATE SET")
	if !ok {
		t.Fatal("no upsert clause")
	}
	for _, col := range []string{"source_id", "source_name", "page_number", "section_label", "text", "embedding"} {
		if !strings.Contains(set, col+" ") || !strings.Contains(set, "excluded."+col) {
			t.Errorf("column %s not updated on conflict", col)
		}
	}
}

func TestPG_ReindexReplacesMetadata(t *testing.T) {
	dsn := os.Getenv("DOSSIER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DOSSIER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	p, err := OpenPG(ctx, dsn, 64, embedding.NewHashing(64))
	if err != nil {
		t.Fatalf("OpenPG: %v", err)
	}
	defer p.Close()
	t.Cleanup(func() { _ = p.RemoveSource(ctx, "pg-meta.pdf") })

	c := chunk("pg-meta-1", "pg-meta.pdf", "container closure integrity")
	c.PageNumber, c.SectionLabel = 2, "Old"
	if err := p.Index(ctx, []models.SourceChunk{c}); err != nil {
		t.Fatal(err)
	}
	c.SourceName, c.PageNumber, c.SectionLabel = "pg-meta v2.pdf", 5, "Packaging"
	if err := p.Index(ctx, []models.SourceChunk{c}); err != nil {
		t.Fatal(err)
	}
	got, err := p.Query(ctx, "container closure integrity", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SourceName != "pg-meta v2.pdf" || got[0].PageNumber != 5 || got[0].SectionLabel != "Packaging" {
		t.Errorf("got %+v", got)
	}
}
