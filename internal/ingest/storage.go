package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Storage writes fetched artifacts content-addressed by SHA-256: raw HTML
// under raw/<product>/<hash of html>.html and extracted Markdown under
// md/<product>/<hash of markdown>.md. Identical content lands on the same
// path, so rewrites are naturally idempotent.
type Storage struct {
	root string
}

// NewStorage roots a store at dataDir.
func NewStorage(dataDir string) *Storage {
	return &Storage{root: dataDir}
}

// HashHex returns the lowercase hex SHA-256 of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HTMLPath returns the relative path for a raw HTML artifact.
func (s *Storage) HTMLPath(product, hash string) string {
	return filepath.Join("raw", product, hash+".html")
}

// MarkdownPath returns the relative path for a Markdown artifact.
func (s *Storage) MarkdownPath(product, hash string) string {
	return filepath.Join("md", product, hash+".md")
}

// WriteHTML stores raw HTML and returns its hash and relative path.
func (s *Storage) WriteHTML(product string, data []byte) (hash, relPath string, err error) {
	hash = HashHex(data)
	relPath = s.HTMLPath(product, hash)
	if err := s.write(relPath, data); err != nil {
		return "", "", err
	}
	return hash, relPath, nil
}

// WriteMarkdown stores extracted Markdown and returns its hash and relative
// path.
func (s *Storage) WriteMarkdown(product, markdown string) (hash, relPath string, err error) {
	hash = HashHex([]byte(markdown))
	relPath = s.MarkdownPath(product, hash)
	if err := s.write(relPath, []byte(markdown)); err != nil {
		return "", "", err
	}
	return hash, relPath, nil
}

// Exists reports whether a relative artifact path is already on disk.
func (s *Storage) Exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(s.root, relPath))
	return err == nil
}

// Read returns an artifact's bytes.
func (s *Storage) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, relPath))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", relPath, err)
	}
	return data, nil
}

func (s *Storage) write(relPath string, data []byte) error {
	abs := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", relPath, err)
	}
	return nil
}
