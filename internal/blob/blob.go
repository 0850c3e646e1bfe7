// Package blob stores uploaded statement files between the upload request
// and the worker that processes them.
package blob

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the addressed file does not exist.
var ErrNotFound = errors.New("file not found")

// FileStore saves, reads and deletes uploaded files by URI.
type FileStore interface {
	// Save writes r under a name derived from name and returns its URI.
	Save(ctx context.Context, name string, r io.Reader) (string, error)

	// Read returns the full contents behind uri.
	Read(ctx context.Context, uri string) ([]byte, error)

	// Delete removes uri. Deleting a missing file is not an error.
	Delete(ctx context.Context, uri string) error
}

// SafeName reduces an uploaded filename to a plain base name.
func SafeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." || base == "_" {
		return "upload.pdf"
	}
	return base
}
