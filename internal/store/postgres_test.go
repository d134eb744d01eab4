package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslateMissingRef(t *testing.T) {
	fkViolation := &pgconn.PgError{Code: "23503", ConstraintName: "prompt_likes_prompt_id_fkey"}
	if err := translateMissingRef(fkViolation); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("translateMissingRef(23503) = %v, want sql.ErrNoRows", err)
	}

	wrapped := fmt.Errorf("insert like: %w", fkViolation)
	if err := translateMissingRef(wrapped); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("translateMissingRef(wrapped 23503) = %v, want sql.ErrNoRows", err)
	}

	unique := &pgconn.PgError{Code: "23505"}
	if err := translateMissingRef(unique); errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("translateMissingRef(23505) should not map to sql.ErrNoRows")
	}

	plain := errors.New("connection reset")
	if err := translateMissingRef(plain); err != plain {
		t.Fatalf("translateMissingRef(plain) = %v, want passthrough", err)
	}
}

func TestTranslateUnique(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "profiles_pkey"}
	if err := translateUnique(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("translateUnique(23505) = %v, want ErrDuplicate", err)
	}

	other := &pgconn.PgError{Code: "23503"}
	if err := translateUnique(other); errors.Is(err, ErrDuplicate) {
		t.Fatalf("translateUnique(23503) should not map to ErrDuplicate")
	}
}
