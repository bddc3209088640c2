package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"textvault/internal/api"
	"textvault/internal/client"
	"textvault/internal/config"
	"textvault/internal/repository"
	boltrepo "textvault/internal/repository/bolt"
	"textvault/internal/service"
	"textvault/internal/storage/local"

	"github.com/google/uuid"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	repo, err := boltrepo.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := local.New(filepath.Join(dir, "blobs"), local.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	svc := service.NewFileService(repo, store)
	srv := httptest.NewServer(api.NewRouter(config.Default(), api.NewFileHandler(svc, 0, nil), nil))
	t.Cleanup(srv.Close)
	return srv
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRun_UploadStatDownload(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()
	content := []byte("line one\nline two\n")
	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, content, 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	out, err := runCommand(t, "--addr", srv.URL, "upload", src)
	if err != nil {
		t.Fatalf("upload returned error: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 || fields[1] != "created" {
		t.Fatalf("unexpected upload output %q", out)
	}
	id := fields[0]
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("upload printed non-uuid id %q", id)
	}

	out, err = runCommand(t, "--addr", srv.URL, "upload", src)
	if err != nil {
		t.Fatalf("second upload returned error: %v", err)
	}
	if out != id+"\tdeduplicated\n" {
		t.Fatalf("expected dedup hit for %s, got %q", id, out)
	}

	out, err = runCommand(t, "--addr", srv.URL, "stat", id)
	if err != nil {
		t.Fatalf("stat returned error: %v", err)
	}
	var record repository.FileRecord
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("decode stat output %q: %v", out, err)
	}
	if record.ID != id || record.DisplayName != "notes.txt" || record.SizeBytes != int64(len(content)) {
		t.Fatalf("unexpected record %+v", record)
	}

	out, err = runCommand(t, "--addr", srv.URL, "download", id)
	if err != nil {
		t.Fatalf("download returned error: %v", err)
	}
	if out != string(content) {
		t.Fatalf("expected %q on stdout, got %q", content, out)
	}

	dst := filepath.Join(dir, "copy.txt")
	if _, err := runCommand(t, "--addr", srv.URL, "download", id, "-o", dst); err != nil {
		t.Fatalf("download -o returned error: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("expected %q in %s, got %q", content, dst, got)
	}
}

func TestRun_AddrFromEnv(t *testing.T) {
	srv := newTestServer(t)
	t.Setenv(AddrEnv, srv.URL)

	src := filepath.Join(t.TempDir(), "env.txt")
	if err := os.WriteFile(src, []byte("via env"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if _, err := runCommand(t, "upload", src); err != nil {
		t.Fatalf("upload returned error: %v", err)
	}
}

func TestRun_Errors(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()
	pdf := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	_, err := runCommand(t, "--addr", srv.URL, "download", uuid.NewString())
	if !client.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	_, err = runCommand(t, "--addr", srv.URL, "stat", uuid.NewString())
	if !client.IsNotFound(err) {
		t.Fatalf("expected not found error for stat, got %v", err)
	}
	_, err = runCommand(t, "--addr", srv.URL, "upload", pdf)
	if !client.IsInvalidInput(err) {
		t.Fatalf("expected rejected upload, got %v", err)
	}

	cases := [][]string{
		{"--addr", srv.URL},
		{"--addr", srv.URL, "upload"},
		{"--addr", srv.URL, "delete", "x"},
		{"--addr", "ftp://example.com", "stat", "x"},
		{"--addr", srv.URL, "upload", filepath.Join(dir, "missing.txt")},
	}
	for _, args := range cases {
		if _, err := runCommand(t, args...); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}
