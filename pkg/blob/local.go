package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a storage path would resolve outside the
// store's base directory.
var ErrPathEscape = errors.New("storage path escapes base directory")

// localStore writes blobs under a base directory and returns URLs served by
// the application's own /files route, with a random token in the query
// mirroring the shape of hosted download URLs. Dev fallback only.
type localStore struct {
	baseDir string
	baseURL string
}

func newLocalStore(baseDir, baseURL string) (*localStore, error) {
	if baseDir == "" {
		baseDir = "uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &localStore{baseDir: baseDir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// resolve maps a storage path onto the base directory, refusing any path
// that would land outside it. Storage paths are client-influenced, so this
// is the last line of defense under the handler-level checks.
func (s *localStore) resolve(path string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return full, nil
}

func (s *localStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", err
	}
	tok := make([]byte, 16)
	if _, err := rand.Read(tok); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/files/%s?token=%s", s.baseURL, path, hex.EncodeToString(tok)), nil
}

func (s *localStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
