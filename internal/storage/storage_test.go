package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gocloud.dev/blob"
)

func TestFileStoreCommitPublishesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	art, err := store.Create(context.Background(), "clips/out.mp4")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := art.Write([]byte("video-bytes")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	final := filepath.Join(dir, "clips", "out.mp4")
	if _, err := os.Stat(final); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("final path visible before commit: %v", err)
	}

	loc, err := art.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if loc != final {
		t.Fatalf("location = %q, want %q", loc, final)
	}
	data, err := os.ReadFile(final)
	if err != nil || string(data) != "video-bytes" {
		t.Fatalf("read final = %q, %v", data, err)
	}
	assertNoTempFiles(t, filepath.Join(dir, "clips"))
}

func TestFileStoreAbortRemovesPartial(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	art, err := store.Create(context.Background(), "out.mp4")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, _ = art.Write([]byte("partial"))
	if err := art.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("aborted artifact must not exist: %v", err)
	}
	assertNoTempFiles(t, dir)
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	for _, key := range []string{"", "  ", "../out.mp4", "a/../../out.mp4", ".."} {
		if _, err := store.Create(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Create(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestBucketStoreCommitAndAbort(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("OpenBucket() error = %v", err)
	}
	defer bucket.Close()
	store := NewBucketStore(bucket, "mem://")

	art, err := store.Create(ctx, "videos/a.mp4")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := art.Write([]byte("frames")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	loc, err := art.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if loc != "mem://videos/a.mp4" {
		t.Fatalf("location = %q", loc)
	}
	r, err := bucket.NewReader(ctx, "videos/a.mp4", nil)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "frames" {
		t.Fatalf("blob = %q, want frames", data)
	}

	aborted, err := store.Create(ctx, "videos/b.mp4")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, _ = aborted.Write([]byte("partial"))
	if err := aborted.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	exists, err := bucket.Exists(ctx, "videos/b.mp4")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatalf("aborted blob must not exist")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "", t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("Open(\"\") = %T, want *FileStore", s)
	}
	s, err = Open(ctx, "mem://", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	bs, ok := s.(*BucketStore)
	if !ok {
		t.Fatalf("Open(mem://) = %T, want *BucketStore", s)
	}
	bs.Close()
}

func TestStorePing(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := fs.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := fs.Ping(ctx); err == nil {
		t.Fatalf("Ping() on a removed directory must fail")
	}

	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("OpenBucket() error = %v", err)
	}
	defer bucket.Close()
	if err := NewBucketStore(bucket, "mem://").Ping(ctx); err != nil {
		t.Fatalf("bucket Ping() error = %v", err)
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".mp4" {
			t.Fatalf("leftover temp file %q", e.Name())
		}
	}
}
