package results

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"credal-eval/internal/crossval"
	"credal-eval/internal/storage"

	"github.com/gocarina/gocsv"
)

// ObjectSink keeps the whole table in memory and re-uploads it after every
// row, since object stores have no append.
type ObjectSink struct {
	mu       sync.Mutex
	provider storage.Provider
	bucket   string
	key      string
	rows     []Row
}

func NewObjectSink(provider storage.Provider, loc storage.Location) (*ObjectSink, error) {
	if !loc.IsObject() {
		return nil, fmt.Errorf("object sink needs an s3:// location, got %q", loc)
	}
	if provider == nil {
		return nil, fmt.Errorf("no object storage configured for %s", loc)
	}
	return &ObjectSink{provider: provider, bucket: loc.Bucket, key: loc.Key}, nil
}

func (s *ObjectSink) Write(ctx context.Context, summary crossval.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = append(s.rows, rowOf(summary))

	var buf bytes.Buffer
	if err := gocsv.Marshal(&s.rows, &buf); err != nil {
		return fmt.Errorf("error encoding result table: %w", err)
	}
	if err := s.provider.PutObject(ctx, s.bucket, s.key, &buf); err != nil {
		slog.Error("error uploading result table", "bucket", s.bucket, "key", s.key, "error", err)
		return fmt.Errorf("error uploading result table: %w", err)
	}
	return nil
}

func (s *ObjectSink) Close() error {
	return nil
}
