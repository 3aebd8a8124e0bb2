package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/checksum"
	"github.com/starford/dossier/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the sources directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute sources directory.
func (f *FS) Root() string { return f.root }

// resolve maps a slash-separated source id onto the file system. Ids that are
// absolute or climb out of the root are rejected.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("storage: absolute path %s: %w", rel, apperr.ErrInvalidInput)
	}
	abs := filepath.Join(f.root, filepath.FromSlash(filepath.Clean(rel)))
	inside, err := filepath.Rel(f.root, abs)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path %s escapes sources root: %w", rel, apperr.ErrInvalidInput)
	}
	return abs, nil
}

// hidden reports whether a directory entry name is a dot-file or dot-directory.
func hidden(name string) bool { return strings.HasPrefix(name, ".") }

// List walks dir and returns metadata for every supported file, skipping
// hidden entries. Files are digested as they are streamed.
func (f *FS) List(dir string) ([]models.SourceMetadata, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []models.SourceMetadata
	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && p != base && hidden(d.Name()):
			return filepath.SkipDir
		case d.IsDir(), hidden(d.Name()), !Supported(d.Name()):
			return nil
		}
		meta, err := f.describe(p, d)
		if err != nil {
			return err
		}
		out = append(out, meta)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("storage: list: %w", walkErr)
	}
	return out, nil
}

func (f *FS) describe(abs string, d fs.DirEntry) (models.SourceMetadata, error) {
	info, err := d.Info()
	if err != nil {
		return models.SourceMetadata{}, err
	}
	fh, err := os.Open(abs)
	if err != nil {
		return models.SourceMetadata{}, err
	}
	defer fh.Close()
	sum, err := checksum.SumReader(fh)
	if err != nil {
		return models.SourceMetadata{}, err
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return models.SourceMetadata{}, err
	}
	return models.SourceMetadata{
		Path:      filepath.ToSlash(rel),
		Checksum:  sum,
		Size:      info.Size(),
		UpdatedAt: info.ModTime().UTC(),
	}, nil
}

// Read returns the raw bytes of a source file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write stores content at path. Readers never observe a half-written file:
// the bytes land in a hidden sibling first and are renamed into place.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	return replaceFile(abs, content)
}

func replaceFile(abs string, content []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".dossier-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err = os.Rename(tmp.Name(), abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Delete removes a source file. A missing file reports apperr.ErrNotFound.
func (f *FS) Delete(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", path, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// Move renames a source within the root. The target must not exist yet.
func (f *FS) Move(oldPath, newPath string) error {
	from, err := f.resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := f.resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: move %s: %w", oldPath, apperr.ErrNotFound)
	}
	if _, err := os.Stat(to); err == nil {
		return fmt.Errorf("storage: move to %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	return nil
}
