package fs

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/pavel-fokin/static-assets/internal/assets"
)

// stagingDir holds uploads in progress. List ignores directories, so it
// never shows up as an asset.
const stagingDir = ".staging"

// stagingPattern is independent of the asset name so that names close to
// NAME_MAX still fit once CreateTemp appends its random suffix.
const stagingPattern = ".upload-*"

// Storage implements assets.Storage over a single flat directory
type Storage struct {
	root string
}

// NewStorage creates the asset root if it does not exist yet
func NewStorage(root string) (*Storage, error) {
	// Resolve the root once so every path below is absolute
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset root: %w", err)
	}

	// Create the root and its staging directory if they don't exist
	if err := os.MkdirAll(filepath.Join(root, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset root: %w", err)
	}

	return &Storage{root: root}, nil
}

// List enumerates the regular files directly under the root
func (s *Storage) List() ([]*assets.Asset, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, unavailable("list", "", err)
	}

	list := make([]*assets.Asset, 0, len(entries))
	for _, entry := range entries {
		// Skip directories, symlinks and other non-regular entries
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			if errors.Is(err, iofs.ErrNotExist) {
				continue
			}
			return nil, unavailable("stat", entry.Name(), err)
		}
		list = append(list, toAsset(info))
	}

	return list, nil
}

// Write streams content into the staging directory and renames it into
// place once fully copied. Concurrent writers of one name are
// last-writer-wins. Readers see either the old or the new file.
func (s *Storage) Write(name string, content io.Reader) (*assets.Asset, error) {
	name, err := s.clean(name)
	if err != nil {
		return nil, err
	}

	// Create staging file
	tmp, err := os.CreateTemp(filepath.Join(s.root, stagingDir), stagingPattern)
	if err != nil {
		return nil, unavailable("create", name, err)
	}
	tmpPath := tmp.Name()

	// Copy content to staging file, cleaning up if copy fails
	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, unavailable("write", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, unavailable("write", name, err)
	}

	// Move it into place, replacing any existing asset
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		os.Remove(tmpPath)
		return nil, unavailable("rename", name, err)
	}

	info, err := os.Stat(s.path(name))
	if err != nil {
		return nil, unavailable("stat", name, err)
	}

	return toAsset(info), nil
}

// Read opens an asset. The caller closes the returned reader.
func (s *Storage) Read(name string) (*assets.Asset, io.ReadCloser, error) {
	name, err := s.clean(name)
	if err != nil {
		return nil, nil, err
	}

	// Open file
	file, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil, notFound(name)
		}
		return nil, nil, unavailable("open", name, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, unavailable("stat", name, err)
	}
	// Directories are not assets
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, nil, notFound(name)
	}

	return toAsset(info), file, nil
}

// Delete removes an asset
func (s *Storage) Delete(name string) error {
	name, err := s.clean(name)
	if err != nil {
		return err
	}

	// Check the asset exists and is a regular file
	info, err := os.Lstat(s.path(name))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return notFound(name)
		}
		return unavailable("stat", name, err)
	}
	if !info.Mode().IsRegular() {
		return notFound(name)
	}

	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return notFound(name)
		}
		return unavailable("delete", name, err)
	}

	return nil
}

// clean re-applies name sanitization so no caller can escape the root
func (s *Storage) clean(name string) (string, error) {
	clean := assets.SanitizeName(name)
	if clean == "" || clean == stagingDir {
		return "", notFound(name)
	}
	return clean, nil
}

func (s *Storage) path(name string) string {
	return filepath.Join(s.root, name)
}

func toAsset(info iofs.FileInfo) *assets.Asset {
	return &assets.Asset{
		Name:      info.Name(),
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}
}

func notFound(name string) error {
	return fmt.Errorf("%q: %w", name, assets.ErrNotFound)
}

// unavailable wraps an I/O failure without the absolute path of the root
func unavailable(op, name string, err error) error {
	var pathErr *iofs.PathError
	var linkErr *os.LinkError
	switch {
	case errors.As(err, &pathErr):
		err = pathErr.Err
	case errors.As(err, &linkErr):
		err = linkErr.Err
	}
	if name == "" {
		return fmt.Errorf("%w: %s: %w", assets.ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s %q: %w", assets.ErrStorageUnavailable, op, name, err)
}
