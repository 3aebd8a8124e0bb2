package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/dossier/internal/embedding"
	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/storage"
	"github.com/starford/dossier/internal/testutil"
)

type env struct {
	dir   string
	store *storage.FS
	db    *index.DB
	mem   *index.Memory
	in    *Ingester
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir, store := testutil.TestSources(t)
	db := testutil.TestDB(t)
	emb := embedding.NewHashing(64)
	mem := index.NewMemory(emb)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return env{dir: dir, store: store, db: db, mem: mem, in: New(store, db, mem, emb, logger)}
}

func TestExtract_Text(t *testing.T) {
	pages, err := Extract("notes.txt", []byte("  plain body \n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].Text != "plain body" || pages[0].Number != 0 {
		t.Errorf("pages = %+v", pages)
	}
}

func TestExtract_MarkdownLabels(t *testing.T) {
	src := "intro line\n# Stability\nshelf life data\n## Storage\nkeep cold\n"
	pages, err := Extract("guide.md", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := []Page{{Text: "intro line"}, {Label: "Stability", Text: "shelf life data"}, {Label: "Storage", Text: "keep cold"}}
	if len(pages) != len(want) {
		t.Fatalf("pages = %+v", pages)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Errorf("pages[%d] = %+v, want %+v", i, pages[i], want[i])
		}
	}
}

func TestExtract_Rejects(t *testing.T) {
	if _, err := Extract("image.png", []byte("x")); err == nil {
		t.Error("expected unsupported type error")
	}
	if _, err := Extract("broken.pdf", []byte("not a pdf at all")); err == nil {
		t.Error("expected error for malformed pdf")
	}
}

func TestChunker_SplitCoversText(t *testing.T) {
	var words []string
	for i := range 100 {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	text := strings.Join(words, " ")
	c := Chunker{Size: 50, Overlap: 10}
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	seen := make(map[string]bool)
	for _, ch := range chunks {
		if n := len([]rune(ch)); n > c.Size {
			t.Errorf("chunk of %d runes exceeds size", n)
		}
		for _, f := range strings.Fields(ch) {
			seen[f] = true
		}
	}
	for _, w := range words {
		if !seen[w] {
			t.Errorf("word %s lost", w)
		}
	}
}

func TestChunker_ShortText(t *testing.T) {
	c := DefaultChunker()
	if got := c.Split("   "); got != nil {
		t.Errorf("blank split = %v", got)
	}
	if got := c.Split("short"); len(got) != 1 || got[0] != "short" {
		t.Errorf("short split = %v", got)
	}
}

func TestChunker_StableIDs(t *testing.T) {
	pages := []Page{{Number: 3, Text: "alpha beta"}}
	a := DefaultChunker().Chunks("a.pdf", "a.pdf", pages)
	b := DefaultChunker().Chunks("a.pdf", "a.pdf", pages)
	if len(a) != 1 || a[0].ChunkID != b[0].ChunkID || a[0].PageNumber != 3 {
		t.Errorf("chunks = %+v / %+v", a, b)
	}
}

func TestIngestFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.store.Write("guides/a.txt", []byte("Sterile filtration of the drug product.")); err != nil {
		t.Fatal(err)
	}

	row, err := e.in.IngestFile(ctx, "guides/a.txt")
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if row.Name != "a.txt" || row.ChunkCount != 1 || row.Pages != 1 {
		t.Errorf("row = %+v", row)
	}
	if e.mem.Len() != 1 {
		t.Errorf("index len = %d", e.mem.Len())
	}
	hits, err := e.mem.Query(ctx, "sterile filtration", 3, nil)
	if err != nil || len(hits) != 1 || hits[0].SourceName != "a.txt" {
		t.Fatalf("hits = %+v, err = %v", hits, err)
	}

	// Re-ingesting replaces, it does not duplicate.
	if err := e.store.Write("guides/a.txt", []byte("Different content entirely.")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.in.IngestFile(ctx, "guides/a.txt"); err != nil {
		t.Fatal(err)
	}
	if e.mem.Len() != 1 {
		t.Errorf("index len after re-ingest = %d", e.mem.Len())
	}
	stored, err := e.db.Chunks()
	if err != nil || len(stored) != 1 || stored[0].Text != "Different content entirely." {
		t.Errorf("stored = %+v, err = %v", stored, err)
	}
}

func TestLoad(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_ = e.store.Write("a.txt", []byte("first"))
	_ = e.store.Write("b.txt", []byte("second"))
	if _, err := e.in.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	fresh := index.NewMemory(embedding.NewHashing(64))
	in := New(e.store, e.db, fresh, embedding.NewHashing(64), nil)
	if err := in.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if fresh.Len() != 2 {
		t.Errorf("loaded = %d, want 2", fresh.Len())
	}
}

func TestSync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_ = e.store.Write("a.txt", []byte("first"))
	_ = e.store.Write("b.md", []byte("# B\nsecond"))
	_ = e.store.Write("ignored.png", []byte("binary"))

	res, err := e.in.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 2 || res.Removed != 0 {
		t.Errorf("first sync = %+v", res)
	}

	res, _ = e.in.Sync(ctx)
	if res.Indexed != 0 {
		t.Errorf("unchanged files re-ingested: %+v", res)
	}

	_ = e.store.Delete("a.txt")
	res, _ = e.in.Sync(ctx)
	if res.Removed != 1 {
		t.Errorf("stale not removed: %+v", res)
	}
	sources, _ := e.db.ListSources()
	if len(sources) != 1 || sources[0].Path != "b.md" {
		t.Errorf("sources = %+v", sources)
	}
	if e.mem.Len() != 1 {
		t.Errorf("index len = %d", e.mem.Len())
	}
}

func TestWatch_IngestsAndRemoves(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		events []string
	)
	hasEvent := func(want string) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, ev := range events {
				if ev == want {
					return true
				}
			}
			return false
		}
	}
	go e.in.Watch(ctx, e.store.Root(), func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(e.dir, "new.txt"), []byte("watched content"), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return e.mem.Len() == 1 })
	testutil.Eventually(t, 2*time.Second, hasEvent("created:new.txt"))

	if err := os.Remove(filepath.Join(e.dir, "new.txt")); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return e.mem.Len() == 0 })
	testutil.Eventually(t, 2*time.Second, hasEvent("deleted:new.txt"))
}
