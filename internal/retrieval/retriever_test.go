package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

type stubIndex struct {
	passages []models.RetrievedPassage
	err      error
	gotText  string
	gotK     int
}

func (s *stubIndex) Index(context.Context, []models.SourceChunk) error { return nil }
func (s *stubIndex) RemoveSource(context.Context, string) error        { return nil }
func (s *stubIndex) Len() int                                          { return len(s.passages) }

func (s *stubIndex) Query(_ context.Context, text string, k int, exclude map[string]struct{}) ([]models.RetrievedPassage, error) {
	s.gotText, s.gotK = text, k
	if s.err != nil {
		return nil, s.err
	}
	var out []models.RetrievedPassage
	for _, p := range s.passages {
		if _, skip := exclude[p.SourceID]; skip {
			continue
		}
		out = append(out, p)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func passage(id, source string, score float64) models.RetrievedPassage {
	return models.RetrievedPassage{ChunkID: id, SourceID: source, SourceName: source, Score: score}
}

func TestRetrieve_PerSourceCap(t *testing.T) {
	idx := &stubIndex{passages: []models.RetrievedPassage{
		passage("a1", "A.pdf", 0.99), passage("a2", "A.pdf", 0.98), passage("a3", "A.pdf", 0.97),
		passage("a4", "A.pdf", 0.96), passage("b1", "B.pdf", 0.5), passage("c1", "C.pdf", 0.4),
	}}
	r := New(idx, Config{TopK: 4, PerSourceCap: 2, Overfetch: 3}, nil)
	got, err := r.Retrieve(context.Background(), "Stability", "")
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]int{}
	for _, p := range got {
		counts[p.SourceID]++
	}
	if counts["A.pdf"] > 2 {
		t.Errorf("A.pdf passages = %d, want <= 2", counts["A.pdf"])
	}
	want := []string{"a1", "a2", "b1", "c1"}
	if len(got) != len(want) {
		t.Fatalf("got %d passages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ChunkID != id {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ChunkID, id)
		}
	}
	if idx.gotK != 12 {
		t.Errorf("index queried with k=%d, want 12", idx.gotK)
	}
}

func TestRetrieve_EmptyIndexDegrades(t *testing.T) {
	r := New(&stubIndex{err: apperr.ErrEmptyIndex}, DefaultConfig(), nil)
	got, err := r.Retrieve(context.Background(), "Introduction", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %+v, want empty non-nil slice", got)
	}
}

func TestRetrieve_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	r := New(&stubIndex{err: boom}, DefaultConfig(), nil)
	if _, err := r.Retrieve(context.Background(), "x", ""); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRetrieve_QueryIncludesContext(t *testing.T) {
	idx := &stubIndex{}
	r := New(idx, DefaultConfig(), nil)
	_, _ = r.Retrieve(context.Background(), "Introduction", "Drug Substance > Stability")
	if idx.gotText != "Introduction (Drug Substance > Stability)" {
		t.Errorf("query = %q", idx.gotText)
	}
}

func TestRetrieve_ExcludedSources(t *testing.T) {
	idx := &stubIndex{passages: []models.RetrievedPassage{passage("a1", "A.pdf", 0.9), passage("b1", "B.pdf", 0.8)}}
	cfg := DefaultConfig()
	cfg.Exclude = []string{"A.pdf"}
	got, _ := New(idx, cfg, nil).Retrieve(context.Background(), "x", "")
	if len(got) != 1 || got[0].ChunkID != "b1" {
		t.Errorf("got %+v", got)
	}
}

func TestCapPerSource_ReRanksByScore(t *testing.T) {
	in := []models.RetrievedPassage{passage("x", "A", 0.2), passage("y", "B", 0.9), passage("z", "A", 0.5)}
	got := CapPerSource(in, 1, 5)
	if len(got) != 2 || got[0].ChunkID != "y" || got[1].ChunkID != "x" {
		t.Errorf("got %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.PerSourceCap = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero per-source cap")
	}
}
