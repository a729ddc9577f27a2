package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/ctedash/internal/store"
)

// PostgreSQL SQLSTATE codes the store classifies.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"

	// Class 22 covers values the column cannot hold (22001 value too long,
	// 22003 numeric overflow, 22007 bad datetime, 22021 bad encoding).
	classDataException       = "22"
	classIntegrityConstraint = "23"
)

// mapError converts driver errors to store sentinels. Data exceptions and
// integrity violations are about the row, not the store, and map to
// store.ErrConstraintViolation. Anything that is not a missing row, a row
// problem or a serialization failure is reported as store.ErrUnavailable,
// including statement timeouts.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation, pgErr.Code == codeCheckViolation:
			return fmt.Errorf("%w: %s (%s)", store.ErrConstraintViolation, pgErr.ConstraintName, pgErr.Code)
		case pgErr.Code == codeSerializationFailure, pgErr.Code == codeDeadlockDetected:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Code)
		case strings.HasPrefix(pgErr.Code, classDataException), strings.HasPrefix(pgErr.Code, classIntegrityConstraint):
			return fmt.Errorf("%w: %s: %s", store.ErrConstraintViolation, pgErr.Code, pgErr.Message)
		}
		return fmt.Errorf("%w: %s: %s", store.ErrUnavailable, pgErr.Code, pgErr.Message)
	}

	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
