// Package memory is an in-process CT-e store with the same transactional
// semantics as the postgres adapter. Transactions are serialised: Begin
// blocks until the previous transaction commits or rolls back.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/store"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpBegin    Op = "begin"
	OpFind     Op = "find"
	OpInsert   Op = "insert"
	OpUpdate   Op = "update"
	OpCommit   Op = "commit"
	OpRollback Op = "rollback"
)

// FaultFunc is consulted before every operation. A non-nil return fails
// the operation with that error and leaves state untouched.
type FaultFunc func(op Op, numero int64) error

// Store keeps committed records in a map keyed by numero_cte.
type Store struct {
	gate chan struct{}

	mu      sync.RWMutex
	records map[int64]cte.Record
	nextID  int64

	now   func() time.Time
	fault FaultFunc
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFault installs a fault injection hook.
func WithFault(f FaultFunc) Option {
	return func(s *Store) { s.fault = f }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		gate:    make(chan struct{}, 1),
		records: make(map[int64]cte.Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed stores records directly, bypassing transactions.
func (s *Store) Seed(records ...cte.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.nextID++
		r = r.Clone()
		r.ID = s.nextID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
			r.UpdatedAt = r.CreatedAt
		}
		s.records[r.NumeroCTE] = r
	}
}

// All returns a copy of every committed record ordered by numero_cte.
func (s *Store) All() []cte.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cte.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumeroCTE < out[j].NumeroCTE })
	return out
}

func (s *Store) check(op Op, numero int64) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, numero)
}

func (s *Store) Get(_ context.Context, numero int64) (cte.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[numero]
	if !ok {
		return cte.Record{}, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) Summary(_ context.Context) (cte.Summary, error) {
	return cte.Summarize(s.All()), nil
}

// Begin waits for exclusive access and opens a transaction over a private
// copy of the committed state.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := s.check(OpBegin, 0); err != nil {
		return nil, err
	}
	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: begin: %v", store.ErrUnavailable, ctx.Err())
	}

	s.mu.RLock()
	work := cloneRecords(s.records)
	nextID := s.nextID
	s.mu.RUnlock()

	return &tx{store: s, work: work, nextID: nextID}, nil
}

func cloneRecords(in map[int64]cte.Record) map[int64]cte.Record {
	out := make(map[int64]cte.Record, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

type savepoint struct {
	name   string
	work   map[int64]cte.Record
	nextID int64
}

type tx struct {
	store      *Store
	work       map[int64]cte.Record
	nextID     int64
	savepoints []savepoint
	done       bool
}

var errTxDone = fmt.Errorf("%w: transaction already closed", store.ErrUnavailable)

func (t *tx) FindByNumero(_ context.Context, numero int64) (cte.Record, error) {
	if t.done {
		return cte.Record{}, errTxDone
	}
	if err := t.store.check(OpFind, numero); err != nil {
		return cte.Record{}, err
	}
	r, ok := t.work[numero]
	if !ok {
		return cte.Record{}, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (t *tx) Insert(_ context.Context, rec cte.Record) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	if err := t.store.check(OpInsert, rec.NumeroCTE); err != nil {
		return 0, err
	}
	if _, exists := t.work[rec.NumeroCTE]; exists {
		return 0, fmt.Errorf("%w: numero_cte %d already stored", store.ErrConstraintViolation, rec.NumeroCTE)
	}
	t.nextID++
	rec = rec.Clone()
	rec.ID = t.nextID
	rec.CreatedAt = t.store.now()
	rec.UpdatedAt = rec.CreatedAt
	t.work[rec.NumeroCTE] = rec
	return rec.ID, nil
}

func (t *tx) Update(_ context.Context, numero int64, changes cte.Patch) error {
	if t.done {
		return errTxDone
	}
	if err := t.store.check(OpUpdate, numero); err != nil {
		return err
	}
	cur, ok := t.work[numero]
	if !ok {
		return store.ErrNotFound
	}
	merged, _ := cur.Merge(changes, cte.MergeOverwrite)
	merged.UpdatedAt = t.store.now()
	t.work[numero] = merged
	return nil
}

func (t *tx) Savepoint(_ context.Context, name string) error {
	if t.done {
		return errTxDone
	}
	t.savepoints = append(t.savepoints, savepoint{name: name, work: cloneRecords(t.work), nextID: t.nextID})
	return nil
}

func (t *tx) find(name string) int {
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

func (t *tx) Release(_ context.Context, name string) error {
	i := t.find(name)
	if i < 0 {
		return fmt.Errorf("%w: savepoint %q does not exist", store.ErrUnavailable, name)
	}
	t.savepoints = t.savepoints[:i]
	return nil
}

// RollbackTo restores the state captured by the savepoint. The savepoint
// stays defined, as in SQL.
func (t *tx) RollbackTo(_ context.Context, name string) error {
	i := t.find(name)
	if i < 0 {
		return fmt.Errorf("%w: savepoint %q does not exist", store.ErrUnavailable, name)
	}
	sp := t.savepoints[i]
	t.work = cloneRecords(sp.work)
	t.nextID = sp.nextID
	t.savepoints = t.savepoints[:i+1]
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	defer t.close()
	if err := t.store.check(OpCommit, 0); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.records = t.work
	t.store.nextID = t.nextID
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	defer t.close()
	return t.store.check(OpRollback, 0)
}

func (t *tx) close() {
	t.done = true
	t.work = nil
	t.savepoints = nil
	<-t.store.gate
}
