package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore keeps objects as files under Root, for single-node setups and
// the CLI. Keys use forward slashes like object storage keys.
type FileStore struct {
	Root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("file store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &FileStore{Root: root}, nil
}

func (s *FileStore) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(objectKey)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectKey)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return data, nil
}

func (s *FileStore) WriteObject(ctx context.Context, objectKey string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(objectKey)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", objectKey, err)
	}
	return nil
}

func (s *FileStore) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := s.resolve(objectKey)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", objectKey, err)
}

// DeleteObjects removes the given keys and any directories they leave empty
// below Root.
func (s *FileStore) DeleteObjects(ctx context.Context, objectKeys ...string) error {
	var errs []error
	for _, key := range objectKeys {
		if err := ctx.Err(); err != nil {
			return err
		}
		full, err := s.resolve(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove object %s: %w", key, err))
			continue
		}
		s.pruneEmptyDirs(filepath.Dir(full))
	}
	return errors.Join(errs...)
}

func (s *FileStore) pruneEmptyDirs(dir string) {
	root := filepath.Clean(s.Root)
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *FileStore) resolve(objectKey string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(objectKey))
	if cleaned == "/" {
		return "", errors.New("object key is required")
	}
	return filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}
