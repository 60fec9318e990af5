// Package storage keeps run artifacts (audit trails, KPI reports) on the
// local filesystem and optionally mirrors them to S3-compatible storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore saves named artifacts and returns where they ended up
type ArtifactStore interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

func validateName(name string) error {
	if name == "" {
		return errors.New("artifact name is required")
	}
	if filepath.IsAbs(name) || strings.Contains(filepath.ToSlash(name), "../") || name == ".." {
		return fmt.Errorf("artifact name %q must be relative", name)
	}
	return nil
}

// LocalStore writes artifacts below a root directory
type LocalStore struct {
	Root string
}

// NewLocalStore creates a store rooted at dir
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Root: dir}
}

// Save writes data to Root/name, creating directories as needed
func (s *LocalStore) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return path, nil
}

// Tee saves to every store. The location of the first store is returned;
// failures of the others are joined into the error.
type Tee []ArtifactStore

// Save writes to all stores
func (t Tee) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	var (
		location string
		errs     []error
	)
	for i, s := range t {
		loc, err := s.Save(ctx, name, data, contentType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			location = loc
		}
	}
	return location, errors.Join(errs...)
}

var (
	_ ArtifactStore = (*LocalStore)(nil)
	_ ArtifactStore = Tee(nil)
)
