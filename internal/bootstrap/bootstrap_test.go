package bootstrap

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"textvault/internal/config"
	"textvault/internal/service"
)

func boltConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.IndexDriver = "bolt"
	cfg.BoltPath = filepath.Join(dir, "nested", "index.db")
	cfg.StorageDir = filepath.Join(dir, "blobs")
	cfg.StorageCompression = "zstd"
	cfg.HashAlgorithm = "blake3"
	return cfg
}

func TestNew_BoltAndLocal(t *testing.T) {
	app, err := New(context.Background(), boltConfig(t), nil, Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	res, err := app.Service.Submit(ctx, service.SubmitInput{DisplayName: "a.txt", Content: []byte("wired")})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	file, err := app.Service.Resolve(ctx, res.Record.ID)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	defer file.Content.Close()
	body, _ := io.ReadAll(file.Content)
	if string(body) != "wired" {
		t.Fatalf("unexpected content %q", body)
	}
}

func TestNew_UnsupportedDrivers(t *testing.T) {
	cfg := boltConfig(t)
	cfg.StorageDriver = "ftp"
	if _, err := New(context.Background(), cfg, nil, Options{}); err == nil || !strings.Contains(err.Error(), "ftp") {
		t.Fatalf("expected storage driver error, got %v", err)
	}

	cfg = boltConfig(t)
	cfg.IndexDriver = "mysql"
	if _, err := New(context.Background(), cfg, nil, Options{}); err == nil || !strings.Contains(err.Error(), "mysql") {
		t.Fatalf("expected index driver error, got %v", err)
	}
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	app, err := New(context.Background(), boltConfig(t), nil, Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}
