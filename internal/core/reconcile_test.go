package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/store"
	"github.com/JonMunkholm/ctedash/internal/store/memory"
)

// coerce builds coerced rows from text cells. Data rows start at row 2.
func coerce(t *testing.T, header []string, rows ...[]string) []CoerceResult {
	t.Helper()
	h, err := NormalizeHeaders(header)
	require.NoError(t, err)
	out := make([]CoerceResult, len(rows))
	for i, r := range rows {
		cells := make([]Cell, len(r))
		for j, v := range r {
			cells[j] = TextCell(v)
		}
		out[i] = CoerceRow(i+2, cells, h)
	}
	return out
}

func acmeRecord() cte.Record {
	name := "ACME"
	return cte.Record{
		NumeroCTE:        100,
		DestinatarioNome: &name,
		ValorTotal:       decimal.RequireFromString("1234.50"),
		DataEmissao:      cte.DatePtr(2025, time.February, 1),
		OrigemDados:      "seed",
	}
}

var insertHeader = []string{"numero_cte", "destinatario_nome", "data_emissao"}

type ReconcileSuite struct {
	suite.Suite
	store *memory.Store
}

func TestReconcileSuite(t *testing.T) {
	suite.Run(t, new(ReconcileSuite))
}

func (s *ReconcileSuite) SetupTest() {
	s.store = memory.New()
}

func (s *ReconcileSuite) opts(mode Mode) Options {
	return Options{Mode: mode, Merge: cte.MergeOverwrite, Origin: "importacao:test"}
}

func (s *ReconcileSuite) run(ctx context.Context, rows []CoerceResult, opts Options) *Report {
	return s.runOn(ctx, s.store, rows, opts)
}

func (s *ReconcileSuite) runOn(ctx context.Context, st store.Store, rows []CoerceResult, opts Options) *Report {
	rep := NewReport("batch-1", opts, nil)
	NewReconciler(st, nil).Run(ctx, rows, opts, rep)
	rep.finish()

	s.Require().True(rep.Counters.Balanced(), "counters %+v", rep.Counters)
	s.Require().Equal(len(rows), rep.Counters.Received)
	return rep
}

func (s *ReconcileSuite) stored(numero int64) cte.Record {
	rec, err := s.store.Get(context.Background(), numero)
	s.Require().NoError(err)
	return rec
}

func (s *ReconcileSuite) withFault(f memory.FaultFunc) *memory.Store {
	s.store = memory.New(memory.WithFault(f))
	return s.store
}

func (s *ReconcileSuite) hasTrace(rep *Report, event string, rowIndex int) bool {
	for _, ev := range rep.Trace {
		if ev.Event == event && ev.RowIndex == rowIndex {
			return true
		}
	}
	return false
}

func (s *ReconcileSuite) TestInsert() {
	rows := coerce(s.T(),
		[]string{"numero_cte", "destinatario_nome", "valor_total", "data_emissao"},
		[]string{"100", "ACME", "1.234,50", "01/02/2025"},
	)

	rep := s.run(context.Background(), rows, s.opts(ModeInsertOnly))

	s.Equal(StatusCompleted, rep.Status)
	s.Equal(1, rep.Counters.AcceptedInserts)
	rec := s.stored(100)
	s.True(rec.ValorTotal.Equal(decimal.RequireFromString("1234.50")))
	s.True(rec.DataEmissao.Equal(cte.NewDate(2025, time.February, 1)))
	s.Equal("ACME", *rec.DestinatarioNome)
	s.Equal("importacao:test", rec.OrigemDados)
	s.True(s.hasTrace(rep, TraceTxCommit, 0))
}

func (s *ReconcileSuite) TestUpdateMerge() {
	s.store.Seed(acmeRecord())
	rows := coerce(s.T(), []string{"numero_cte", "data_baixa"}, []string{"100", "15/02/2025"})

	rep := s.run(context.Background(), rows, s.opts(ModeUpdateOnly))

	s.Equal(1, rep.Counters.AcceptedUpdates)
	rec := s.stored(100)
	s.Equal("ACME", *rec.DestinatarioNome)
	s.True(rec.DataBaixa.Equal(cte.NewDate(2025, time.February, 15)))
	s.Equal("seed", rec.OrigemDados, "updates keep the provenance tag")

	entry, ok := rep.Row(2)
	s.Require().True(ok)
	s.Require().Len(entry.Changes, 1)
	s.Equal(cte.DataBaixa, entry.Changes[0].Field)
	s.Nil(entry.Changes[0].Old)
}

func (s *ReconcileSuite) TestMonotonicRejectLeavesStoreUnchanged() {
	rec := acmeRecord()
	rec.DataBaixa = cte.DatePtr(2025, time.February, 15)
	s.store.Seed(rec)
	before := s.store.All()

	rows := coerce(s.T(), []string{"numero_cte", "data_baixa"}, []string{"100", "31/01/2025"})
	rep := s.run(context.Background(), rows, s.opts(ModeUpdateOnly))

	s.Equal(StatusCompleted, rep.Status)
	s.Equal(1, rep.Counters.Rejected)
	entry, _ := rep.Row(2)
	s.Require().Len(entry.Diagnostics, 1)
	s.Equal(KindMonotonicViolation, entry.Diagnostics[0].Kind)
	s.Equal("data_baixa", entry.Diagnostics[0].Field)
	s.Equal(before, s.store.All())
}

func (s *ReconcileSuite) TestDuplicateInBatch() {
	rows := coerce(s.T(), insertHeader,
		[]string{"200", "ACME", "01/02/2025"},
		[]string{"200", "Other", "02/02/2025"},
	)

	rep := s.run(context.Background(), rows, s.opts(ModeUpsert))

	s.Equal(1, rep.Counters.AcceptedInserts)
	s.Equal(1, rep.Counters.Rejected)
	second, _ := rep.Row(3)
	s.Equal(OutcomeRejected, second.Outcome)
	s.Equal(KindDuplicateInBatch, second.Diagnostics[0].Kind)
	s.Contains(second.Diagnostics[0].Detail, "row 2")
	s.Equal("ACME", *s.stored(200).DestinatarioNome)
}

func (s *ReconcileSuite) TestDuplicateOfRejectedRowIsStillDuplicate() {
	rows := coerce(s.T(), []string{"numero_cte", "destinatario_nome", "data_emissao", "valor_total"},
		[]string{"300", "ACME", "01/02/2025", "abc"},
		[]string{"300", "ACME", "01/02/2025", "10"},
	)

	rep := s.run(context.Background(), rows, s.opts(ModeUpsert))

	s.Equal(2, rep.Counters.Rejected)
	second, _ := rep.Row(3)
	s.Equal(KindDuplicateInBatch, second.Diagnostics[0].Kind)
}

func (s *ReconcileSuite) TestUpsertIsIdempotent() {
	rows := coerce(s.T(), insertHeader, []string{"100", "ACME", "01/02/2025"})

	first := s.run(context.Background(), rows, s.opts(ModeUpsert))
	s.Equal(1, first.Counters.AcceptedInserts)
	after := s.store.All()

	second := s.run(context.Background(), rows, s.opts(ModeUpsert))
	s.Equal(0, second.Counters.AcceptedInserts)
	s.Equal(1, second.Counters.AcceptedUpdates)
	entry, _ := second.Row(2)
	s.Empty(entry.Changes)
	s.Equal(KindUnchanged, entry.Diagnostics[0].Kind)
	s.Equal(after, s.store.All())
}

func (s *ReconcileSuite) TestModeSkips() {
	s.store.Seed(acmeRecord())

	rows := coerce(s.T(), insertHeader, []string{"100", "ACME", "01/02/2025"})
	rep := s.run(context.Background(), rows, s.opts(ModeInsertOnly))
	s.Equal(1, rep.Counters.Skipped)
	entry, _ := rep.Row(2)
	s.Equal(KindAlreadyExists, entry.Diagnostics[0].Kind)

	rows = coerce(s.T(), []string{"numero_cte", "observacao"}, []string{"999", "x"})
	rep = s.run(context.Background(), rows, s.opts(ModeUpdateOnly))
	s.Equal(1, rep.Counters.Skipped)
	entry, _ = rep.Row(2)
	s.Equal(KindNotFound, entry.Diagnostics[0].Kind)
}

func (s *ReconcileSuite) TestRequiredFieldsByMode() {
	s.store.Seed(acmeRecord())
	rows := coerce(s.T(), []string{"numero_cte", "observacao"},
		[]string{"100", "pago"},
		[]string{"101", "novo"},
		[]string{"", "sem chave"},
	)

	rep := s.run(context.Background(), rows, s.opts(ModeUpsert))

	s.Equal(1, rep.Counters.AcceptedUpdates)
	s.Equal(2, rep.Counters.Rejected)

	insert, _ := rep.Row(3)
	s.Require().Len(insert.Diagnostics, 2)
	s.Equal(KindRequiredFieldBlank, insert.Diagnostics[0].Kind)
	s.Equal("destinatario_nome", insert.Diagnostics[0].Field)

	keyless, _ := rep.Row(4)
	s.Nil(keyless.NumeroCTE)
	s.Equal("numero_cte", keyless.Diagnostics[0].Field)
	s.Equal("pago", *s.stored(100).Observacao)
}

func (s *ReconcileSuite) TestFillEmpty() {
	s.store.Seed(acmeRecord())
	rows := coerce(s.T(), []string{"numero_cte", "destinatario_nome", "veiculo_placa"},
		[]string{"100", "Other", "ABC1D23"},
	)
	opts := s.opts(ModeUpdateOnly)
	opts.Merge = cte.MergeFillEmpty

	rep := s.run(context.Background(), rows, opts)

	s.Equal(1, rep.Counters.AcceptedUpdates)
	rec := s.stored(100)
	s.Equal("ACME", *rec.DestinatarioNome)
	s.Equal("ABC1D23", *rec.VeiculoPlaca)
	entry, _ := rep.Row(2)
	s.Require().Len(entry.Changes, 1)
	s.Equal(cte.VeiculoPlaca, entry.Changes[0].Field)
}

func (s *ReconcileSuite) TestDryRunWritesNothing() {
	rows := coerce(s.T(), insertHeader, []string{"100", "ACME", "01/02/2025"})
	opts := s.opts(ModeUpsert)
	opts.DryRun = true

	rep := s.run(context.Background(), rows, opts)

	s.Equal(StatusCompleted, rep.Status)
	s.Equal(1, rep.Counters.AcceptedInserts)
	s.Empty(s.store.All())
	s.True(s.hasTrace(rep, TraceTxRollback, 0))
	s.False(s.hasTrace(rep, TraceTxCommit, 0))
}

func (s *ReconcileSuite) TestAtomicRetryOnConflict() {
	conflicts := 0
	s.withFault(func(op memory.Op, numero int64) error {
		if op == memory.OpInsert && numero == 2 && conflicts == 0 {
			conflicts++
			return fmt.Errorf("%w: serialization failure", store.ErrConflict)
		}
		return nil
	})
	rows := coerce(s.T(), insertHeader,
		[]string{"1", "A", "01/02/2025"},
		[]string{"2", "B", "01/02/2025"},
	)

	rep := s.run(context.Background(), rows, s.opts(ModeUpsert))

	s.Equal(StatusCompleted, rep.Status)
	s.Equal(2, rep.Attempts)
	s.Equal(2, rep.Counters.AcceptedInserts)
	s.True(s.hasTrace(rep, TraceBatchRetry, 0))
	s.Len(s.store.All(), 2)
}

func (s *ReconcileSuite) TestAtomicConflictTwiceFails() {
	s.withFault(func(op memory.Op, numero int64) error {
		if op == memory.OpInsert && numero == 2 {
			return store.ErrConflict
		}
		return nil
	})
	rows := coerce(s.T(), insertHeader,
		[]string{"1", "A", "01/02/2025"},
		[]string{"2", "B", "01/02/2025"},
		[]string{"3", "C", "01/02/2025"},
	)

	rep := s.run(context.Background(), rows, s.opts(ModeUpsert))

	s.Equal(StatusFailed, rep.Status)
	s.Equal(KindConflict, rep.Kind)
	s.Equal(maxAttempts, rep.Attempts)
	s.Equal(3, rep.Counters.Cancelled)
	s.Empty(s.store.All())
}

func (s *ReconcileSuite) TestStoreUnavailableIsFatal() {
	for _, isolation := range []bool{false, true} {
		s.Run(fmt.Sprintf("isolation=%t", isolation), func() {
			s.withFault(func(op memory.Op, numero int64) error {
				if op == memory.OpFind && numero == 2 {
					return fmt.Errorf("%w: connection reset", store.ErrUnavailable)
				}
				return nil
			})
			rows := coerce(s.T(), insertHeader,
				[]string{"1", "A", "01/02/2025"},
				[]string{"2", "B", "01/02/2025"},
				[]string{"3", "C", "01/02/2025"},
			)
			opts := s.opts(ModeUpsert)
			opts.RowIsolation = isolation

			rep := s.run(context.Background(), rows, opts)

			s.Equal(StatusFailed, rep.Status)
			s.Equal(KindStoreUnavailable, rep.Kind)
			s.Equal(1, rep.Attempts)
			s.Equal(3, rep.Counters.Cancelled)
			first, _ := rep.Row(2)
			s.Equal(KindCancelled, first.Diagnostics[0].Kind)
			s.Empty(s.store.All())
		})
	}
}

func (s *ReconcileSuite) TestRowIsolationRejectsFailingRow() {
	s.withFault(func(op memory.Op, numero int64) error {
		if op == memory.OpInsert && numero == 2 {
			return store.ErrConstraintViolation
		}
		return nil
	})
	rows := coerce(s.T(), insertHeader,
		[]string{"1", "A", "01/02/2025"},
		[]string{"2", "B", "01/02/2025"},
		[]string{"3", "C", "01/02/2025"},
	)
	opts := s.opts(ModeUpsert)
	opts.RowIsolation = true

	rep := s.run(context.Background(), rows, opts)

	s.Equal(StatusCompleted, rep.Status)
	s.Equal(2, rep.Counters.AcceptedInserts)
	s.Equal(1, rep.Counters.Rejected)
	failed, _ := rep.Row(3)
	s.Equal(KindConstraintViolation, failed.Diagnostics[0].Kind)
	s.True(s.hasTrace(rep, TraceRowRetry, 3))
	s.True(s.hasTrace(rep, TraceSavepoint, 2))

	all := s.store.All()
	s.Require().Len(all, 2)
	s.Equal(int64(1), all[0].NumeroCTE)
	s.Equal(int64(3), all[1].NumeroCTE)
}

func (s *ReconcileSuite) TestRowIsolationRetrySucceeds() {
	failures := 0
	s.withFault(func(op memory.Op, numero int64) error {
		if op == memory.OpUpdate && failures == 0 {
			failures++
			return store.ErrConflict
		}
		return nil
	})
	s.store.Seed(acmeRecord())
	rows := coerce(s.T(), []string{"numero_cte", "observacao"}, []string{"100", "retry"})
	opts := s.opts(ModeUpdateOnly)
	opts.RowIsolation = true

	rep := s.run(context.Background(), rows, opts)

	s.Equal(1, rep.Counters.AcceptedUpdates)
	s.Equal(1, rep.Attempts)
	s.Equal("retry", *s.stored(100).Observacao)
}

func (s *ReconcileSuite) TestCancelBetweenRows() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.withFault(func(op memory.Op, numero int64) error {
		if op == memory.OpFind && numero == 2 {
			cancel()
		}
		return nil
	})
	rows := coerce(s.T(), insertHeader,
		[]string{"1", "A", "01/02/2025"},
		[]string{"2", "B", "01/02/2025"},
		[]string{"3", "C", "01/02/2025"},
	)

	rep := s.run(ctx, rows, s.opts(ModeUpsert))

	s.Equal(StatusCancelled, rep.Status)
	s.Equal(3, rep.Counters.Cancelled)
	for _, e := range rep.Rows {
		s.Equal(KindCancelled, e.Diagnostics[len(e.Diagnostics)-1].Kind)
		s.Equal("batch cancelled", e.Diagnostics[len(e.Diagnostics)-1].Detail)
	}
	s.Empty(s.store.All())
}

func (s *ReconcileSuite) TestCancelledBeforeStart() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows := coerce(s.T(), insertHeader, []string{"1", "A", "01/02/2025"})

	rep := s.run(ctx, rows, s.opts(ModeUpsert))

	s.Equal(StatusCancelled, rep.Status)
	s.Equal(1, rep.Counters.Cancelled)
	s.False(s.hasTrace(rep, TraceTxBegin, 0))
}

func (s *ReconcileSuite) TestCommitConflictRetries() {
	commits := 0
	s.withFault(func(op memory.Op, _ int64) error {
		if op == memory.OpCommit {
			commits++
			if commits == 1 {
				return store.ErrConflict
			}
		}
		return nil
	})
	rows := coerce(s.T(), insertHeader, []string{"1", "A", "01/02/2025"})

	rep := s.run(context.Background(), rows, s.opts(ModeUpsert))

	s.Equal(StatusCompleted, rep.Status)
	s.Equal(2, rep.Attempts)
	s.Len(s.store.All(), 1)
}

func (s *ReconcileSuite) TestEmptyBatch() {
	rep := s.run(context.Background(), nil, s.opts(ModeUpsert))

	s.Equal(StatusCompleted, rep.Status)
	s.Equal(0, rep.Counters.Received)
	s.NotNil(rep.Rows)
}
