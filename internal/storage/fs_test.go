package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/checksum"
)

func tempSources(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempSources(t)
	content := []byte("Batch release notes\n")
	if err := s.Write("notes.txt", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("notes.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempSources(t)
	if err := s.Write("guidance/ich/q6a.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("guidance/ich/q6a.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempSources(t)
	_ = s.Write("del.txt", []byte("bye"))
	if err := s.Delete("del.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.txt"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempSources(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestMove_Errors(t *testing.T) {
	s := tempSources(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("b.md", []byte("b"))

	if err := s.Move("missing.md", "c.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing source: err = %v, want ErrNotFound", err)
	}
	if err := s.Move("a.md", "b.md"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("existing target: err = %v, want ErrAlreadyExists", err)
	}
	if err := s.Move("a.md", "../a.md"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("escaping target: err = %v, want ErrInvalidInput", err)
	}
	if got, _ := s.Read("b.md"); string(got) != "b" {
		t.Errorf("target overwritten: %q", got)
	}
}

func TestDelete_Missing(t *testing.T) {
	s := tempSources(t)
	if err := s.Delete("nope.txt"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList_SupportedOnly(t *testing.T) {
	s := tempSources(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.txt", []byte("bb"))
	_ = s.Write("c.pdf", []byte("%PDF-1.4"))
	_ = s.Write("image.png", []byte("png"))
	_ = s.Write(".hidden/d.md", []byte("d"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(items), items)
	}
	for _, it := range items {
		if it.Path == "sub/b.txt" && it.Size != 2 {
			t.Errorf("size = %d, want 2", it.Size)
		}
		if it.Path == "a.md" && it.Checksum != checksum.Sum([]byte("a")) {
			t.Errorf("checksum of a.md = %s", it.Checksum)
		}
	}
}

func TestSupported(t *testing.T) {
	for name, want := range map[string]bool{
		"a.pdf": true, "b.PDF": true, "c.txt": true, "d.md": true, "e.docx": false, "f": false,
	} {
		if got := Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempSources(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempSources(t)
	_ = s.Write("atomic.txt", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.txt", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.txt")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".dossier-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/dossier-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "dossier-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
