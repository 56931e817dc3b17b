package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/maauso/videogen-lro/internal/operation"
)

// Compile-time check that LocalStorage implements Store.
var _ Store = (*LocalStorage)(nil)

// LocalStorage stores artifacts on local disk under a root directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new LocalStorage instance.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "videogen")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStorage{root: root}, nil
}

// Root returns the storage root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Save writes the artifact to <root>/<prefix>/<filename>. The file is written to
// a temporary name first and renamed into place.
func (s *LocalStorage) Save(ctx context.Context, prefix string, artifact operation.Artifact) (Object, error) {
	select {
	case <-ctx.Done():
		return Object{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	key, err := objectKey(prefix, artifact.Filename)
	if err != nil {
		return Object{}, err
	}
	dest, err := s.resolve(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return Object{}, fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload_*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, bytes.NewReader(artifact.Data)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return Object{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Object{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return Object{}, fmt.Errorf("rename object: %w", err)
	}

	return Object{
		Key:         key,
		Path:        dest,
		ContentType: artifact.ContentType,
		Size:        int64(len(artifact.Data)),
	}, nil
}

// Open returns a reader for a stored object.
func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p) // #nosec G304 - path is confined to the storage root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Delete removes a stored object.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// resolve maps a key to a path inside the root.
func (s *LocalStorage) resolve(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return p, nil
}

// objectKey joins prefix and filename into a slash-separated key.
func objectKey(prefix, filename string) (string, error) {
	name := path.Base(filepath.ToSlash(filename))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidKey, filename)
	}
	prefix = strings.Trim(filepath.ToSlash(prefix), "/")
	if prefix == "" {
		return name, nil
	}
	return path.Clean(prefix + "/" + name), nil
}
