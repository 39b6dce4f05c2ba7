package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore is the durable attachment storage primitive. Put persists
// the bytes under path and returns a URL collaborators can serve.
type BlobStore interface {
	Put(path string, data []byte) (url string, err error)
}

// FSBlobStore stores blobs on the local filesystem under a root dir,
// served by the HTTP layer under baseURL.
type FSBlobStore struct {
	root    string
	baseURL string
}

// NewFSBlobStore creates a filesystem blob store.
func NewFSBlobStore(root, baseURL string) *FSBlobStore {
	return &FSBlobStore{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Put writes data to <root>/<path>, creating parent dirs as needed.
// The path is cleaned and confined to the root.
func (s *FSBlobStore) Put(path string, data []byte) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return s.baseURL + clean, nil
}
