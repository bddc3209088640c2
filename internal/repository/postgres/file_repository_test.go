package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"textvault/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("unexpected dest %T", d)
		}
	}
	return nil
}

func TestScanFileRecord(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, err := scanFileRecord(fakeRow{values: []any{"id-1", "hash", "a.txt", int64(11), created}})
	if err != nil {
		t.Fatalf("scanFileRecord returned error: %v", err)
	}
	want := repository.FileRecord{ID: "id-1", ContentHash: "hash", DisplayName: "a.txt", SizeBytes: 11, CreatedAt: created}
	if *rec != want {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestIsDuplicateHash(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"hash constraint", &pgconn.PgError{Code: "23505", ConstraintName: "files_content_hash_key"}, true},
		{"wrapped", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "files_content_hash_key"}), true},
		{"primary key", &pgconn.PgError{Code: "23505", ConstraintName: "files_pkey"}, false},
		{"other code", &pgconn.PgError{Code: "40001", ConstraintName: "files_content_hash_key"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDuplicateHash(tc.err); got != tc.want {
				t.Fatalf("isDuplicateHash = %v, want %v", got, tc.want)
			}
		})
	}
}
