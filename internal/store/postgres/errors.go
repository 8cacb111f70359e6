package postgres

import (
	"context"
	"errors"
	"fmt"

	"meditoken/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var domainErrors = []error{
	store.ErrInvalidInput,
	store.ErrTokenNotFound,
	store.ErrInvalidState,
	store.ErrDuplicateToken,
	store.ErrTenantNotFound,
	store.ErrDoctorNotFound,
	store.ErrAccountNotFound,
}

// readError classifies a failed read. Cancelled or expired contexts stay
// visible through errors.Is alongside ErrStoreUnavailable.
func readError(err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
}

// writeError classifies a failed write. Connection failures before the
// statement reached the server are reported as unavailable rather than
// as a failed write.
func writeError(err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "tokens_clinic_number_key" {
			return fmt.Errorf("%w: %s", store.ErrDuplicateToken, pgErr.Detail)
		}
		return fmt.Errorf("%w: %w", store.ErrStoreWriteFailed, err)
	}
	if pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %w", store.ErrStoreWriteFailed, err)
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return pgErr.ConstraintName
	}
	return ""
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
