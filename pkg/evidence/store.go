// Package evidence provides content-addressed storage for evidence
// artifacts attached to atonement events. Blobs are keyed by their
// SHA-256 digest, so storing the same artifact twice is a no-op and a
// reference recorded in an event payload can always be verified against
// the bytes it names.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RefPrefix is the scheme prefix carried by every evidence reference.
const RefPrefix = "sha256:"

// Store is the contract for content-addressed evidence storage.
type Store interface {
	// Put persists the artifact and returns its reference ("sha256:<hex>").
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves an artifact by its reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether an artifact is present.
	Exists(ctx context.Context, ref string) (bool, error)
	// Delete removes an artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, ref string) error
}

// Ref computes the evidence reference for a blob without storing it.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return RefPrefix + hex.EncodeToString(sum[:])
}

// parseRef validates a "sha256:<hex>" reference and returns the hex digest.
func parseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok {
		return "", fmt.Errorf("invalid evidence ref %q: missing %s prefix", ref, RefPrefix)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("invalid evidence ref %q: %w", ref, err)
	}
	return digest, nil
}

// FileStore is a filesystem-backed Store. Writes go to a temp file and
// are renamed into place, so a crash never leaves a partial blob behind
// a valid reference.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure evidence dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) blobPath(digest string) string {
	return filepath.Join(s.baseDir, digest+".blob")
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(data)
	path := s.blobPath(ref[len(RefPrefix):])

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit evidence blob: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.blobPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("evidence not found: %s", ref)
		}
		return nil, fmt.Errorf("read evidence blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.blobPath(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat evidence blob: %w", err)
}

func (s *FileStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(s.blobPath(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete evidence blob: %w", err)
	}
	return nil
}

// copyAll is a small helper shared by the remote stores.
func copyAll(r io.ReadCloser) ([]byte, error) {
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read evidence body: %w", err)
	}
	return data, nil
}
