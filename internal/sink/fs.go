// Package sink persists successful page bodies plus sidecar metadata.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/listinglab/pagepull/internal/fetch"
)

// hashPrefixLen is how much of the content hash goes into the filename.
// Enough to keep retried fetches of the same page from colliding.
const hashPrefixLen = 12

// FileSystemSink saves page content and metadata to disk.
type FileSystemSink struct {
	root   string
	hasher fetch.Hasher
	logger *zap.Logger
}

// NewFileSystemSink returns a sink rooted at dir.
func NewFileSystemSink(root string, hasher fetch.Hasher, logger *zap.Logger) (*FileSystemSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSystemSink{
		root:   root,
		hasher: hasher,
		logger: logger,
	}, nil
}

// Save writes the page body and a sibling metadata JSON file, returning
// the content file path.
func (s *FileSystemSink) Save(ctx context.Context, doc fetch.Document) (string, error) {
	if len(doc.Body) == 0 {
		return "", fmt.Errorf("empty page body")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}

	hash, err := s.hasher.Hash(doc.Body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}

	name := ObjectName(doc, hash)
	target := filepath.Join(s.root, doc.Website, name+".html")
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("create content dir for %s: %w", target, err)
	}
	if err := os.WriteFile(target, doc.Body, 0o600); err != nil {
		return "", fmt.Errorf("write content to %s: %w", target, err)
	}

	meta := fetch.DocumentMeta{
		PageNumber:    doc.PageNumber,
		URL:           doc.URL,
		Timestamp:     doc.FetchedAt,
		ContentLength: len(doc.Body),
		ContentHash:   hash,
		Website:       doc.Website,
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	metaPath := filepath.Join(s.root, doc.Website, name+".json")
	if err := os.WriteFile(metaPath, payload, 0o600); err != nil {
		return "", fmt.Errorf("write metadata %s: %w", metaPath, err)
	}

	s.logger.Debug("page saved",
		zap.String("website", doc.Website),
		zap.Int("page", doc.PageNumber),
		zap.String("path", target),
	)
	return target, nil
}

// ObjectName builds the hash-qualified base name shared by the content
// file and its metadata sibling.
func ObjectName(doc fetch.Document, hash string) string {
	if len(hash) > hashPrefixLen {
		hash = hash[:hashPrefixLen]
	}
	return fmt.Sprintf("%s_page_%d_%s", doc.Website, doc.PageNumber, hash)
}
