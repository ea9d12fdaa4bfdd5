package storage

import (
	"encoding/base32"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnsafePath indicates a username or filename that would escape its namespace.
var ErrUnsafePath = errors.New("storage: unsafe path component")

// OutputDirName is the per-namespace subdirectory for analyzer-derived images.
const OutputDirName = "output"

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DiskStore maps verified identities to per-user filesystem namespaces and
// owns the stored image blobs under them.
type DiskStore struct {
	root string
}

// NewDiskStore constructs a store rooted at the given directory.
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// Root returns the storage root directory.
func (s *DiskStore) Root() string {
	return s.root
}

// Namespace resolves the directory holding all images for a username.
func (s *DiskStore) Namespace(username string) (string, error) {
	if err := checkComponent(username); err != nil {
		return "", err
	}
	return filepath.Join(s.root, username), nil
}

// EnsureNamespace creates the namespace directory if absent. Idempotent:
// a directory created by a concurrent caller is treated as success.
func (s *DiskStore) EnsureNamespace(username string) (string, error) {
	ns, err := s.Namespace(username)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(ns, 0o755); err != nil {
		return "", fmt.Errorf("create namespace %s: %w", username, err)
	}
	return ns, nil
}

// NewImageID returns a short, collision-resistant, non-sequential identifier.
func (s *DiskStore) NewImageID() string {
	id := uuid.New()
	return strings.ToLower(idEncoding.EncodeToString(id[:]))
}

// ImagePath resolves the full path of a stored image.
func (s *DiskStore) ImagePath(username, filename string) (string, error) {
	if err := checkComponent(username); err != nil {
		return "", err
	}
	if err := checkComponent(filename); err != nil {
		return "", err
	}
	return filepath.Join(s.root, username, filename), nil
}

// OutputPath resolves the derivative-output path for an image and ensures the
// output subdirectory exists.
func (s *DiskStore) OutputPath(username, filename string) (string, error) {
	if err := checkComponent(username); err != nil {
		return "", err
	}
	if err := checkComponent(filename); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, username, OutputDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir for %s: %w", username, err)
	}
	return filepath.Join(dir, filename), nil
}

// WriteImage persists image bytes under the username's namespace and returns
// the full path written.
func (s *DiskStore) WriteImage(username, filename string, data []byte) (string, error) {
	path, err := s.ImagePath(username, filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image %s: %w", filename, err)
	}
	return path, nil
}

// DeleteImage removes a stored image blob. The upload ledger is not touched.
func (s *DiskStore) DeleteImage(username, filename string) error {
	path, err := s.ImagePath(username, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete image %s: %w", filename, err)
	}
	return nil
}

func checkComponent(name string) error {
	if name == "" ||
		name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) ||
		strings.Contains(name, "..") {
		return ErrUnsafePath
	}
	return nil
}
