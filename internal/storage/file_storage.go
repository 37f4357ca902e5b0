package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage errors
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrFileNotFound  = errors.New("file not found")
)

// FileStorage defines the interface for attachment byte storage. Storage
// refs are opaque, relative paths owned by this package; callers never
// construct them.
type FileStorage interface {
	Save(filename string, content io.Reader) (string, error)
	Get(storageRef string) (io.ReadCloser, error)
	Delete(storageRef string) error
	DeleteMany(storageRefs []string) int
	List() ([]string, error)
}

// localStorage implements FileStorage using the local filesystem
type localStorage struct {
	basePath string
}

// NewLocalStorage creates a new localStorage instance
func NewLocalStorage(basePath string) (FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &localStorage{basePath: basePath}, nil
}

// validateRef ensures a storage ref resolves inside basePath
func (s *localStorage) validateRef(storageRef string) (string, error) {
	cleanPath := filepath.Clean(storageRef)

	if filepath.IsAbs(cleanPath) || strings.Contains(cleanPath, "..") {
		return "", ErrPathTraversal
	}

	fullPath := filepath.Join(s.basePath, cleanPath)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid storage ref: %w", err)
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return absPath, nil
}

// Save stores attachment bytes under a collision-resistant name and returns
// the storage ref. The name is derived from a fresh UUID, never from the
// untrusted original filename; only a sanitized extension is carried over.
func (s *localStorage) Save(filename string, content io.Reader) (string, error) {
	uniqueName := uuid.New().String() + safeExtension(filename)

	// Shard into subdirectories by the first two characters of the UUID
	subDir := uniqueName[:2]
	if err := os.MkdirAll(filepath.Join(s.basePath, subDir), 0755); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	storageRef := filepath.Join(subDir, uniqueName)
	fullPath := filepath.Join(s.basePath, storageRef)

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return storageRef, nil
}

// Get retrieves the bytes behind a storage ref
func (s *localStorage) Get(storageRef string) (io.ReadCloser, error) {
	fullPath, err := s.validateRef(storageRef)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the bytes behind a storage ref. A missing file is treated
// as success so that cascade deletes stay idempotent.
func (s *localStorage) Delete(storageRef string) error {
	fullPath, err := s.validateRef(storageRef)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// DeleteMany deletes a set of storage refs, never aborting on a single
// failure. It returns the number of refs deleted without error.
func (s *localStorage) DeleteMany(storageRefs []string) int {
	deleted := 0
	for _, ref := range storageRefs {
		if err := s.Delete(ref); err == nil {
			deleted++
		}
	}
	return deleted
}

// List walks the storage root and returns every stored ref. An absent root
// yields an empty list.
func (s *localStorage) List() ([]string, error) {
	refs := []string{}
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		refs = append(refs, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list storage: %w", err)
	}
	return refs, nil
}

// safeExtension extracts a filesystem-safe extension from a client-supplied
// filename. Anything suspicious collapses to ".bin".
func safeExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" || ext == "." || len(ext) > 10 {
		return ".bin"
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ".bin"
		}
	}
	return ext
}
