package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"meditoken/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWriteErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "duplicate token number",
			err:  &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "tokens_clinic_number_key"},
			want: store.ErrDuplicateToken,
		},
		{
			name: "other unique violation",
			err:  &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "staff_accounts_pkey"},
			want: store.ErrStoreWriteFailed,
		},
		{
			name: "check violation",
			err:  &pgconn.PgError{Code: "23514"},
			want: store.ErrStoreWriteFailed,
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: store.ErrStoreUnavailable,
		},
		{
			name: "domain error passes through",
			err:  fmt.Errorf("wrapped: %w", store.ErrInvalidState),
			want: store.ErrInvalidState,
		},
		{
			name: "unknown failure",
			err:  errors.New("boom"),
			want: store.ErrStoreWriteFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := writeError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("writeError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestReadErrorKeepsContextCause(t *testing.T) {
	err := readError(context.Canceled)
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled to remain visible, got %v", err)
	}
	if readError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestConstraintName(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "doctor_clinic_mappings_doctor_id_fkey"})
	if got := constraintName(err); got != "doctor_clinic_mappings_doctor_id_fkey" {
		t.Fatalf("unexpected constraint %q", got)
	}
	if got := constraintName(errors.New("other")); got != "" {
		t.Fatalf("expected empty constraint, got %q", got)
	}
}
