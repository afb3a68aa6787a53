package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BucketStore writes artifacts into a gocloud bucket (s3://, gs://, file://,
// mem://). Uploads stay invisible until the writer is closed.
type BucketStore struct {
	bucket *blob.Bucket
	url    string
}

// OpenBucketStore opens the bucket at url.
func OpenBucketStore(ctx context.Context, url string) (*BucketStore, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("storage: open bucket: %w", err)
	}
	return &BucketStore{bucket: b, url: url}, nil
}

// NewBucketStore wraps an already opened bucket.
func NewBucketStore(b *blob.Bucket, url string) *BucketStore {
	return &BucketStore{bucket: b, url: url}
}

// Bucket exposes the underlying bucket.
func (s *BucketStore) Bucket() *blob.Bucket {
	return s.bucket
}

// Location returns the bucket url joined with key, query string dropped.
func (s *BucketStore) Location(key string) string {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return ""
	}
	base := s.url
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	if strings.HasSuffix(base, "/") {
		return base + cleanKey
	}
	return base + "/" + cleanKey
}

func (s *BucketStore) Create(ctx context.Context, key string) (Artifact, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	w, err := s.bucket.NewWriter(wctx, cleanKey, &blob.WriterOptions{ContentType: "video/mp4"})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("storage: open writer: %w", err)
	}
	return &blobArtifact{w: w, cancel: cancel, location: s.Location(cleanKey)}, nil
}

// Ping asks the provider whether the bucket is reachable.
func (s *BucketStore) Ping(ctx context.Context) error {
	ok, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("storage: bucket check: %w", err)
	}
	if !ok {
		return errors.New("storage: bucket is not accessible")
	}
	return nil
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}

type blobArtifact struct {
	w        *blob.Writer
	cancel   context.CancelFunc
	location string
	done     bool
}

func (a *blobArtifact) Write(p []byte) (int, error) {
	return a.w.Write(p)
}

func (a *blobArtifact) Commit() (string, error) {
	if a.done {
		return "", errors.New("storage: artifact already finished")
	}
	a.done = true
	defer a.cancel()
	if err := a.w.Close(); err != nil {
		return "", fmt.Errorf("storage: commit blob: %w", err)
	}
	return a.location, nil
}

// Abort cancels the writer context before closing, which discards the upload.
func (a *blobArtifact) Abort() error {
	if a.done {
		return nil
	}
	a.done = true
	a.cancel()
	_ = a.w.Close()
	return nil
}

// Open returns a BucketStore when storageURL is set and a FileStore rooted at
// outputDir otherwise.
func Open(ctx context.Context, storageURL, outputDir string) (Store, error) {
	if strings.TrimSpace(storageURL) != "" {
		return OpenBucketStore(ctx, storageURL)
	}
	if strings.TrimSpace(outputDir) == "" {
		outputDir = "."
	}
	return NewFileStore(outputDir)
}

var _ Store = (*BucketStore)(nil)
