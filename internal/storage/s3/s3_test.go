package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestStorage_ObjectKey(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"", "abc.txt"},
		{"blobs", "blobs/abc.txt"},
	}
	for _, tc := range cases {
		s := &Storage{prefix: tc.prefix}
		if got := s.objectKey("abc.txt"); got != tc.want {
			t.Errorf("prefix %q: expected %s, got %s", tc.prefix, tc.want, got)
		}
	}
}

func TestIsNoSuchKey(t *testing.T) {
	if !isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatal("expected NoSuchKey to match")
	}
	if !isNoSuchKey(fmt.Errorf("stat: %w", minio.ErrorResponse{Code: "NoSuchKey"})) {
		t.Fatal("expected wrapped NoSuchKey to match")
	}
	if isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}) {
		t.Fatal("AccessDenied must not match")
	}
	if isNoSuchKey(errors.New("network down")) {
		t.Fatal("plain error must not match")
	}
}

func TestObjectSize(t *testing.T) {
	cases := []struct {
		name string
		r    io.Reader
		want int64
	}{
		{"bytes reader", bytes.NewReader([]byte("hello")), 5},
		{"strings reader", strings.NewReader("hello world"), 11},
		{"bytes buffer", bytes.NewBufferString("abc"), 3},
		{"unknown length", io.MultiReader(strings.NewReader("a"), strings.NewReader("b")), -1},
	}
	for _, tc := range cases {
		if got := objectSize(tc.r); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}

	// 已部分读取的 reader 报告剩余长度
	r := bytes.NewReader([]byte("hello"))
	if _, err := r.Read(make([]byte, 2)); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got := objectSize(r); got != 3 {
		t.Fatalf("expected remaining length 3, got %d", got)
	}
}

func TestStorage_Uninitialized(t *testing.T) {
	var s *Storage
	ctx := context.Background()
	if _, err := s.Read(ctx, "x.txt"); err == nil {
		t.Fatal("expected error from nil storage")
	}
	if _, err := s.Stat(ctx, "x.txt"); err == nil {
		t.Fatal("expected Stat error from nil storage")
	}
}
