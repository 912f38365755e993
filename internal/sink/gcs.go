package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/listinglab/pagepull/internal/fetch"
)

// GCSSink persists pages into a Google Cloud Storage bucket, one content
// object plus one metadata object per page.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
	hasher fetch.Hasher
}

// NewGCSSink builds a sink writing into the named bucket.
func NewGCSSink(ctx context.Context, bucket, prefix string, hasher fetch.Hasher) (*GCSSink, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSSink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		hasher: hasher,
	}, nil
}

// Save uploads the content and metadata objects and returns the gs:// URI
// of the content object.
func (s *GCSSink) Save(ctx context.Context, doc fetch.Document) (string, error) {
	if len(doc.Body) == 0 {
		return "", fmt.Errorf("empty page body")
	}
	hash, err := s.hasher.Hash(doc.Body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}

	name := ObjectName(doc, hash)
	contentPath := path.Join(s.prefix, doc.Website, name+".html")
	if err := s.put(ctx, contentPath, "text/html; charset=utf-8", doc.Body); err != nil {
		return "", fmt.Errorf("upload content: %w", err)
	}

	meta := fetch.DocumentMeta{
		PageNumber:    doc.PageNumber,
		URL:           doc.URL,
		Timestamp:     doc.FetchedAt,
		ContentLength: len(doc.Body),
		ContentHash:   hash,
		Website:       doc.Website,
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	metaPath := path.Join(s.prefix, doc.Website, name+".json")
	if err := s.put(ctx, metaPath, "application/json", payload); err != nil {
		return "", fmt.Errorf("upload metadata: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, contentPath), nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func (s *GCSSink) put(ctx context.Context, objectPath, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", objectPath, err)
	}
	return nil
}
