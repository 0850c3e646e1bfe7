package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Local keeps files in a directory on the local disk. URIs are absolute paths.
type Local struct {
	dir string
}

// NewLocal creates the directory if needed and returns a Local store.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("blob.NewLocal: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("blob.NewLocal: create %s: %w", abs, err)
	}
	return &Local{dir: abs}, nil
}

// Save implements FileStore.
func (l *Local) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	path := filepath.Join(l.dir, uuid.New().String()+"-"+SafeName(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("Save: create: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("Save: write: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("Save: close: %w", err)
	}
	return path, nil
}

// Read implements FileStore.
func (l *Local) Read(ctx context.Context, uri string) ([]byte, error) {
	path, err := l.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	return data, nil
}

// Delete implements FileStore.
func (l *Local) Delete(ctx context.Context, uri string) error {
	path, err := l.resolve(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// resolve rejects paths outside the store directory.
func (l *Local) resolve(uri string) (string, error) {
	path := filepath.Clean(uri)
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	if !strings.HasPrefix(path, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside %s", uri, l.dir)
	}
	return path, nil
}

var _ FileStore = (*Local)(nil)
