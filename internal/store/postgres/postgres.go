// Package postgres implements the CT-e store on PostgreSQL using pgx.
//
// Every batch runs in one REPEATABLE READ transaction. Lookups lock the
// row (SELECT ... FOR UPDATE) so two batches touching the same CT-e
// serialise; the loser sees a serialization failure, reported as
// store.ErrConflict.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/store"
)

// Table is the table holding CT-e records.
const Table = "dashboard_baker"

//go:embed schema.sql
var schemaSQL string

// Pool is the subset of *pgxpool.Pool used by the store.
type Pool interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Pool = (*pgxpool.Pool)(nil)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool      Pool
	opTimeout time.Duration
	isoLevel  pgx.TxIsoLevel
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithOpTimeout bounds every individual statement. Zero disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// WithIsoLevel overrides the transaction isolation level.
func WithIsoLevel(level pgx.TxIsoLevel) Option {
	return func(s *Store) { s.isoLevel = level }
}

// New returns a store over pool.
func New(pool Pool, opts ...Option) *Store {
	s := &Store{
		pool:      pool,
		opTimeout: 5 * time.Second,
		isoLevel:  pgx.RepeatableRead,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the table and its indices if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate %s: %w", Table, mapError(err))
	}
	return nil
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	pgTx, err := s.pool.BeginTx(opCtx, pgx.TxOptions{IsoLevel: s.isoLevel})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", mapError(err))
	}
	return &tx{tx: pgTx, store: s}, nil
}

// Get reads a committed record outside any batch transaction.
func (s *Store) Get(ctx context.Context, numero int64) (cte.Record, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	rec, err := scanRecord(s.pool.QueryRow(opCtx, selectByNumero, numero))
	if err != nil {
		return cte.Record{}, fmt.Errorf("get %d: %w", numero, mapError(err))
	}
	return rec, nil
}

type tx struct {
	tx    pgx.Tx
	store *Store
}

func (t *tx) FindByNumero(ctx context.Context, numero int64) (cte.Record, error) {
	opCtx, cancel := t.store.opContext(ctx)
	defer cancel()

	rec, err := scanRecord(t.tx.QueryRow(opCtx, selectByNumero+" FOR UPDATE", numero))
	if err != nil {
		return cte.Record{}, fmt.Errorf("find %d: %w", numero, mapError(err))
	}
	return rec, nil
}

func (t *tx) Insert(ctx context.Context, rec cte.Record) (int64, error) {
	opCtx, cancel := t.store.opContext(ctx)
	defer cancel()

	args := make([]any, 0, len(insertColumns))
	for _, f := range cte.Fields() {
		args = append(args, fieldArg(&rec, f.Field))
	}
	args = append(args, rec.OrigemDados)

	var id int64
	if err := t.tx.QueryRow(opCtx, insertSQL, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %d: %w", rec.NumeroCTE, mapError(err))
	}
	return id, nil
}

func (t *tx) Update(ctx context.Context, numero int64, changes cte.Patch) error {
	sets := make([]string, 0, changes.Set.Len()+1)
	args := []any{numero}
	for _, f := range changes.Set.Fields() {
		if f == cte.NumeroCTE {
			continue
		}
		args = append(args, fieldArg(&changes.Values, f))
		sets = append(sets, fmt.Sprintf("%s = $%d", f, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	opCtx, cancel := t.store.opContext(ctx)
	defer cancel()

	sql := "UPDATE " + Table + " SET " + strings.Join(sets, ", ") + " WHERE numero_cte = $1"
	tag, err := t.tx.Exec(opCtx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %d: %w", numero, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %d: %w", numero, store.ErrNotFound)
	}
	return nil
}

func (t *tx) exec(ctx context.Context, what, sql string) error {
	opCtx, cancel := t.store.opContext(ctx)
	defer cancel()
	if _, err := t.tx.Exec(opCtx, sql); err != nil {
		return fmt.Errorf("%s: %w", what, mapError(err))
	}
	return nil
}

func (t *tx) Savepoint(ctx context.Context, name string) error {
	return t.exec(ctx, "savepoint", "SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (t *tx) Release(ctx context.Context, name string) error {
	return t.exec(ctx, "release savepoint", "RELEASE SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (t *tx) RollbackTo(ctx context.Context, name string) error {
	return t.exec(ctx, "rollback to savepoint", "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize())
}

func (t *tx) Commit(ctx context.Context) error {
	opCtx, cancel := t.store.opContext(ctx)
	defer cancel()
	if err := t.tx.Commit(opCtx); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	opCtx, cancel := t.store.opContext(ctx)
	defer cancel()
	if err := t.tx.Rollback(opCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", mapError(err))
	}
	return nil
}
