// Package screenshot persists captured frames for status replies and the
// task journal. Files are stored flat under one directory and referenced by
// name so journal rows stay small.
package screenshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vigil-run/vigil/internal/models"
)

// Store writes screenshot files into a single directory.
type Store struct {
	dir string
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create screenshots directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Save writes a full-resolution JPEG and an optional thumbnail for the given
// owner id and role, returning the file references. Names follow
// "<id>_<role>.jpg" and "<id>_<role>_thumb.jpg".
func (s *Store) Save(id, role string, full, thumb []byte) (models.ScreenshotRefs, error) {
	refs := models.ScreenshotRefs{Full: fmt.Sprintf("%s_%s.jpg", id, role)}
	if err := os.WriteFile(filepath.Join(s.dir, refs.Full), full, 0640); err != nil {
		return models.ScreenshotRefs{}, fmt.Errorf("failed to write screenshot: %w", err)
	}
	if len(thumb) > 0 {
		refs.Thumb = fmt.Sprintf("%s_%s_thumb.jpg", id, role)
		if err := os.WriteFile(filepath.Join(s.dir, refs.Thumb), thumb, 0640); err != nil {
			return models.ScreenshotRefs{}, fmt.Errorf("failed to write thumbnail: %w", err)
		}
	}
	return refs, nil
}

// Path resolves a stored reference to an absolute path.
func (s *Store) Path(ref string) string {
	return filepath.Join(s.dir, ref)
}
