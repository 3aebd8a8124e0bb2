// Package storage defines the source-file registry over a directory tree.
package storage

import (
	"path/filepath"
	"strings"

	"github.com/starford/dossier/internal/models"
)

// Provider is the interface for source file operations. Paths are relative to the root.
type Provider interface {
	// List returns metadata for every supported source file under dir.
	List(dir string) ([]models.SourceMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}

// Supported reports whether the file name has an extension the ingester can extract.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}
