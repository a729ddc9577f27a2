// Package store defines the persistence contract for CT-e records.
//
// Adapters live in subpackages (postgres, memory). The ingest core only
// talks to the interfaces declared here and classifies failures with
// errors.Is against the sentinels below.
package store

import (
	"context"
	"errors"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

var (
	// ErrNotFound is returned by lookups when no record has the key.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable wraps I/O failures, operation timeouts and any other
	// error that leaves the transaction unusable.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConstraintViolation reports a unique-key conflict detected by
	// the storage layer.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrConflict reports a serialization failure or deadlock between
	// concurrent transactions. The transaction may be retried.
	ErrConflict = errors.New("transaction conflict")
)

// Retryable reports whether err may succeed when the work is repeated in a
// fresh transaction.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrConstraintViolation)
}

// Store is a CT-e record store.
type Store interface {
	// Begin opens a transaction. Every write goes through a Tx.
	Begin(ctx context.Context) (Tx, error)

	// Get returns the committed record with the given key, or ErrNotFound.
	Get(ctx context.Context, numero int64) (cte.Record, error)

	// Summary computes the dashboard projection over committed records.
	Summary(ctx context.Context) (cte.Summary, error)
}

// Tx is a store transaction. Reads observe the transaction's own prior
// writes. A Tx is not safe for concurrent use.
type Tx interface {
	// FindByNumero returns the record with the given key, or ErrNotFound.
	FindByNumero(ctx context.Context, numero int64) (cte.Record, error)

	// Insert stores a new record and returns its id. A duplicate key fails
	// with ErrConstraintViolation.
	Insert(ctx context.Context, rec cte.Record) (int64, error)

	// Update writes the fields in changes.Set to the record with the given
	// key and bumps updated_at.
	Update(ctx context.Context, numero int64, changes cte.Patch) error

	Savepoint(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
