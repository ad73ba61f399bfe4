package backends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/socdl/socdl/pkg/storage"
)

func init() {
	storage.Register("filesystem", func() storage.Backend { return NewFileSystem() })
}

// FileSystem stores blobs as files under a base directory. It is the
// default backend for both the cache index and archived artifacts.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates an uninitialized filesystem backend.
func NewFileSystem() *FileSystem {
	return &FileSystem{}
}

// Init validates the base path and creates it if needed. Options:
// "path" (required).
func (fs *FileSystem) Init(options map[string]string) error {
	basePath := options["path"]
	if basePath == "" {
		return fmt.Errorf("%w: filesystem backend requires a path", storage.ErrInvalidConfig)
	}

	if strings.HasPrefix(basePath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		basePath = filepath.Join(home, basePath[2:])
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return fmt.Errorf("resolve base path %s: %w", basePath, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create base path %s: %w", abs, err)
	}

	fs.basePath = abs

	return nil
}

// resolve maps a key to an absolute path, rejecting traversal outside the
// base directory.
func (fs *FileSystem) resolve(key string) (string, error) {
	if fs.basePath == "" {
		return "", storage.ErrBackendNotReady
	}

	full := filepath.Join(fs.basePath, filepath.FromSlash(key))

	rel, err := filepath.Rel(fs.basePath, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: key %q escapes base path", storage.ErrInvalidConfig, key)
	}

	return full, nil
}

// Save writes the stream to a temp file and renames it into place, so a
// crashed write never leaves a truncated blob under the final key.
func (fs *FileSystem) Save(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".socdl-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place: %w", err)
	}

	return nil
}

// Load opens the file stored under key.
func (fs *FileSystem) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}

	return f, nil
}

// Delete removes the file stored under key.
func (fs *FileSystem) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrKeyNotFound
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}

	return nil
}

// Exists reports whether a file is stored under key.
func (fs *FileSystem) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := fs.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}

	return true, nil
}

// List returns the keys under the base directory that start with prefix.
func (fs *FileSystem) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if fs.basePath == "" {
		return nil, storage.ErrBackendNotReady
	}

	var keys []string

	err := filepath.Walk(fs.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(fs.basePath, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", fs.basePath, err)
	}

	return keys, nil
}

// Close is a no-op for the filesystem backend.
func (fs *FileSystem) Close() error {
	return nil
}
