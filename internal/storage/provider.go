// Package storage provides access to tree source files under the forest root.
package storage

import "github.com/starford/arbor/internal/models"

// Provider is the interface for tree source file operations.
type Provider interface {
	// List returns every .tree file under dir (relative to the forest root).
	List(dir string) ([]models.TreeFile, error)
	// Read returns the raw bytes of the file at path. Path may be relative to
	// the forest root or an absolute path inside it.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
}
