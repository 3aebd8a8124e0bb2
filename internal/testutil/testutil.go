// Package testutil provides shared test helpers: temp stores and a scripted model.
package testutil

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/dossier/internal/index"
	"github.com/starford/dossier/internal/llm"
	"github.com/starford/dossier/internal/storage"
)

// TestDB creates a temporary SQLite chunk store that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "dossier-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSources creates a temporary sources directory with a storage.Provider.
func TestSources(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

var titleRe = regexp.MustCompile(`(?m)^Section title: (.*)$`)

// SectionTitle extracts the section title from a generation prompt.
func SectionTitle(prompt string) string {
	m := titleRe.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Cite returns the local marker the prompt assigned to the first passage from source,
// or "[P99]" when the source is absent.
func Cite(prompt, source string) string {
	re := regexp.MustCompile(`(?m)^(\[P\d+\]) ` + regexp.QuoteMeta(source) + `[,:( ]`)
	if m := re.FindStringSubmatch(prompt); m != nil {
		return m[1]
	}
	return "[P99]"
}

// Reply produces a completion for a prompt.
type Reply func(prompt string) (string, error)

// ScriptedLLM answers prompts by section title. Unknown titles get a plain,
// citation-free paragraph.
type ScriptedLLM struct {
	Replies map[string]Reply
	Delays  map[string]time.Duration

	mu      sync.Mutex
	prompts []string
	order   []string
}

// Complete implements llm.Client.
func (s *ScriptedLLM) Complete(ctx context.Context, prompt string, _ llm.Options) (string, error) {
	title := SectionTitle(prompt)
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if d := s.Delays[title]; d > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d):
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.order = append(s.order, title)
	s.mu.Unlock()

	if r, ok := s.Replies[title]; ok {
		return r(prompt)
	}
	return fmt.Sprintf("Generated text for %s.", title), nil
}

// Prompts returns every prompt received.
func (s *ScriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// CompletionOrder returns section titles in the order their replies were produced.
func (s *ScriptedLLM) CompletionOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Eventually polls cond until it returns true or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
