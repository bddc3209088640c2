package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"textvault/internal/storage"
)

func newTestStore(t *testing.T, compression string) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "blobs"), Options{Compression: compression})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return s
}

func readAll(t *testing.T, s *Store, key string) []byte {
	t.Helper()
	rc, err := s.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	return data
}

func TestStore_WriteRead(t *testing.T) {
	for _, compression := range []string{CompressionNone, CompressionZstd} {
		t.Run(compression, func(t *testing.T) {
			s := newTestStore(t, compression)
			payload := []byte("hello\nworld")

			loc, err := s.Write(context.Background(), "abcdef.txt", bytes.NewReader(payload))
			if err != nil {
				t.Fatalf("Write returned error: %v", err)
			}
			if !strings.HasPrefix(loc.Path, filepath.Join(s.root, "ab")) {
				t.Fatalf("expected sharded path, got %s", loc.Path)
			}

			if got := readAll(t, s, "abcdef.txt"); !bytes.Equal(got, payload) {
				t.Fatalf("expected %q, got %q", payload, got)
			}
		})
	}
}

func TestStore_CreatesRootDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "dir")
	if _, err := New(root, Options{}); err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected root dir to exist, err=%v", err)
	}
}

func TestStore_ReadMissing(t *testing.T) {
	s := newTestStore(t, "")
	_, err := s.Read(context.Background(), "missing.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_OverwriteIsIdempotent(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	payload := []byte("same bytes")

	for i := 0; i < 2; i++ {
		if _, err := s.Write(ctx, "key.txt", bytes.NewReader(payload)); err != nil {
			t.Fatalf("Write #%d returned error: %v", i, err)
		}
	}
	if got := readAll(t, s, "key.txt"); !bytes.Equal(got, payload) {
		t.Fatalf("unexpected content %q", got)
	}

	objects, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objects))
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestStore_FailedWriteLeavesNothing(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	if _, err := s.Write(ctx, "broken.txt", io.MultiReader(strings.NewReader("partial"), failingReader{})); err == nil {
		t.Fatal("expected write error")
	}
	if _, err := s.Read(ctx, "broken.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("partial object must not be visible, got %v", err)
	}
	assertNoTempFiles(t, s.root)
}

func TestStore_CancelledWriteLeavesNothing(t *testing.T) {
	s := newTestStore(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Write(ctx, "cancel.txt", strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := s.Read(context.Background(), "cancel.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cancelled object must not be visible, got %v", err)
	}
	assertNoTempFiles(t, s.root)
}

func TestStore_ReadsAcrossCompressionModes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	plain, err := New(root, Options{Compression: CompressionNone})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := plain.Write(context.Background(), "plain.txt", strings.NewReader("plain")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	compressed, err := New(root, Options{Compression: CompressionZstd})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if got := readAll(t, compressed, "plain.txt"); string(got) != "plain" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	s := newTestStore(t, CompressionZstd)
	ctx := context.Background()

	for _, key := range []string{"aa1.txt", "bb2.txt"} {
		if _, err := s.Write(ctx, key, strings.NewReader(key)); err != nil {
			t.Fatalf("Write %s returned error: %v", key, err)
		}
	}

	objects, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	keys := map[string]bool{}
	for _, o := range objects {
		keys[o.Key] = true
		if o.ModTime.IsZero() {
			t.Fatalf("expected mod time for %s", o.Key)
		}
	}
	if len(keys) != 2 || !keys["aa1.txt"] || !keys["bb2.txt"] {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := s.Delete(ctx, "aa1.txt"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := s.Delete(ctx, "aa1.txt"); err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}
	if _, err := s.Read(ctx, "aa1.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_StatReflectsRewrite(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	const key = "cc3.txt"

	if _, err := s.Stat(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before write, got %v", err)
	}
	if _, err := s.Write(ctx, key, strings.NewReader("v1")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(s.root, shard(key), key), old, old); err != nil {
		t.Fatalf("Chtimes returned error: %v", err)
	}
	info, err := s.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat returned error: %v", err)
	}
	if info.Key != key || info.Size != 2 || !info.ModTime.Equal(old) {
		t.Fatalf("unexpected info %+v", info)
	}

	// 重写同一 key 会刷新修改时间，孤儿清理据此跳过正在重新上传的对象
	if _, err := s.Write(ctx, key, strings.NewReader("v1")); err != nil {
		t.Fatalf("rewrite returned error: %v", err)
	}
	info, err = s.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat returned error: %v", err)
	}
	if !info.ModTime.After(old.Add(time.Hour)) {
		t.Fatalf("expected fresh mod time after rewrite, got %s", info.ModTime)
	}
}

func TestStore_StatPrefersNewerCompressionForm(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	plain, err := New(root, Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	zst, err := New(root, Options{Compression: CompressionZstd})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := context.Background()
	const key = "dd4.txt"

	if _, err := plain.Write(ctx, key, strings.NewReader("same")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(root, shard(key), key), old, old); err != nil {
		t.Fatalf("Chtimes returned error: %v", err)
	}
	if _, err := zst.Write(ctx, key, strings.NewReader("same")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	info, err := plain.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat returned error: %v", err)
	}
	if !info.ModTime.After(old) {
		t.Fatalf("expected zstd form mod time, got %s", info.ModTime)
	}
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	s := newTestStore(t, "")
	for _, key := range []string{"", "a", "../etc/passwd", ".hidden.txt", `a\b.txt`, "x.txt.tmp"} {
		if _, err := s.Write(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}

func TestNew_RejectsUnknownCompression(t *testing.T) {
	if _, err := New(t.TempDir(), Options{Compression: "lzma"}); err == nil {
		t.Fatal("expected error for unknown compression")
	}
}

func assertNoTempFiles(t *testing.T, root string) {
	t.Helper()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			t.Errorf("unexpected file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
}
