package core

// service.go is the entry point of the ingest pipeline.
//
// Ingest runs one batch end to end:
//
//	limiter slot -> read table -> normalise header -> coerce rows
//	  -> reconcile -> report
//
// Everything a caller needs is in the returned *Report. Go errors are
// reserved for requests that never became a batch (bad mode, no free slot).

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/logging"
	"github.com/JonMunkholm/ctedash/internal/store"
)

// DefaultBatchTimeout bounds a batch when Settings.BatchTimeout is zero.
const DefaultBatchTimeout = 10 * time.Minute

// DefaultOriginPrefix prefixes the origem_dados tag of ingested records.
const DefaultOriginPrefix = "importacao"

// MaxOriginLen is the size of the origem_dados column. Origins are cut to
// at most this many bytes on a rune boundary.
const MaxOriginLen = 50

// Settings configures a Service.
type Settings struct {
	MaxFileSize   int64
	BatchTimeout  time.Duration
	OriginPrefix  string
	DefaultMode   Mode
	RowIsolation  bool
	Limits        Limits
	MaxConcurrent int
	MaxWait       time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxFileSize:   DefaultMaxFileSize,
		BatchTimeout:  DefaultBatchTimeout,
		OriginPrefix:  DefaultOriginPrefix,
		DefaultMode:   ModeUpsert,
		Limits:        DefaultLimits(),
		MaxConcurrent: DefaultMaxConcurrentBatches,
		MaxWait:       DefaultMaxWaitTime,
	}
}

// Service runs ingest batches against a store.
type Service struct {
	store      store.Store
	settings   Settings
	reconciler *Reconciler
	limiter    *BatchLimiter
	metrics    *Metrics
	now        func() time.Time
	newID      func() string
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithRegisterer registers the ingest metrics with reg.
func WithRegisterer(reg prometheus.Registerer) ServiceOption {
	return func(s *Service) { s.metrics = NewMetrics(reg) }
}

// WithClock overrides the report clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides batch id generation.
func WithIDGenerator(f func() string) ServiceOption {
	return func(s *Service) { s.newID = f }
}

// NewService creates a Service over st.
func NewService(st store.Store, settings Settings, opts ...ServiceOption) *Service {
	def := DefaultSettings()
	if settings.MaxFileSize <= 0 {
		settings.MaxFileSize = def.MaxFileSize
	}
	if settings.BatchTimeout <= 0 {
		settings.BatchTimeout = def.BatchTimeout
	}
	if settings.OriginPrefix == "" {
		settings.OriginPrefix = def.OriginPrefix
	}
	if settings.DefaultMode == "" {
		settings.DefaultMode = def.DefaultMode
	}
	if settings.Limits == (Limits{}) {
		settings.Limits = def.Limits
	}

	s := &Service{
		store:      st,
		settings:   settings,
		reconciler: NewReconciler(st, NewRowValidator(settings.Limits)),
		limiter:    NewBatchLimiter(settings.MaxConcurrent, settings.MaxWait),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.limiter.WithGauge(s.metrics.ActiveBatches)
	return s
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// Limiter exposes the batch limiter for status reporting and shutdown.
func (s *Service) Limiter() *BatchLimiter {
	return s.limiter
}

// Upload is one file submitted for ingest.
type Upload struct {
	Body        io.Reader
	ContentType string

	// FileName is used only to resolve generic content types.
	FileName string
}

// ResolveOptions fills the service defaults into opts.
func (s *Service) ResolveOptions(opts Options, batchID string) Options {
	if opts.Mode == "" {
		opts.Mode = s.settings.DefaultMode
	}
	if opts.Merge == "" {
		opts.Merge = cte.MergeOverwrite
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.settings.BatchTimeout
	}
	if opts.Origin == "" {
		opts.Origin = s.settings.OriginPrefix + ":" + batchID
	}
	opts.Origin = truncateOrigin(opts.Origin)
	return opts
}

func truncateOrigin(s string) string {
	if len(s) <= MaxOriginLen {
		return s
	}
	cut := MaxOriginLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Ingest runs one batch. The body is closed on every path when it is an
// io.Closer.
func (s *Service) Ingest(ctx context.Context, up Upload, opts Options) (*Report, error) {
	if c, ok := up.Body.(io.Closer); ok {
		defer c.Close()
	}
	if opts.Mode != "" {
		m, err := ParseMode(string(opts.Mode))
		if err != nil {
			return nil, err
		}
		opts.Mode = m
	}
	merge, err := cte.ParseMergePolicy(string(opts.Merge))
	if err != nil {
		return nil, err
	}
	opts.Merge = merge

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	start := s.now()
	batchID := s.newID()
	opts = s.ResolveOptions(opts, batchID)
	contentType := ResolveContentType(up.ContentType, up.FileName)

	rep := NewReport(batchID, opts, s.now)
	rep.ContentType = contentType
	rep.trace(TraceBatchStart, 0, "%s", strings.ToLower(filepath.Ext(up.FileName)))

	log := logging.WithBatch(ctx, batchID, string(opts.Mode), contentType)
	log.Info("batch started",
		"row_isolation", opts.RowIsolation,
		"dry_run", opts.DryRun,
		"merge", opts.Merge,
	)

	batchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	s.run(batchCtx, up.Body, contentType, opts, rep)
	rep.finish()

	s.metrics.ObserveBatch(rep, start)
	logSummary(log, rep)
	return rep, nil
}

func (s *Service) run(ctx context.Context, body io.Reader, contentType string, opts Options, rep *Report) {
	cr := NewCountingReader(body, 0)
	table, err := ReadTable(cr, contentType, s.settings.MaxFileSize)
	rep.SizeBytes = cr.BytesRead
	if err != nil {
		failFromError(rep, err)
		return
	}

	header, err := NormalizeHeaders(table.Header)
	rep.Suggestions = suggestColumns(header)
	if err != nil {
		failFromError(rep, err)
		return
	}

	rows := make([]CoerceResult, len(table.Rows))
	for i, r := range table.Rows {
		rows[i] = CoerceRow(r.Index, r.Cells, header)
	}

	s.reconciler.Run(ctx, rows, opts, rep)
}

func failFromError(rep *Report, err error) {
	var be *BatchError
	if errors.As(err, &be) {
		rep.fail(be.Kind, be.Detail)
		return
	}
	rep.fail(KindUnreadableFile, err.Error())
}

// logSummary writes one line per batch. Only counters and kinds are
// logged; row contents never are.
func logSummary(log *slog.Logger, rep *Report) {
	attrs := []any{
		"status", rep.Status,
		"received", rep.Counters.Received,
		"inserted", rep.Counters.AcceptedInserts,
		"updated", rep.Counters.AcceptedUpdates,
		"skipped", rep.Counters.Skipped,
		"rejected", rep.Counters.Rejected,
		"cancelled", rep.Counters.Cancelled,
		"unknown_columns", len(rep.Suggestions),
		"attempts", rep.Attempts,
		"duration_ms", rep.DurationMs,
	}
	switch rep.Status {
	case StatusFailed:
		log.Warn("batch failed", append(attrs, "kind", rep.Kind)...)
	case StatusCancelled:
		log.Warn("batch cancelled", attrs...)
	default:
		log.Info("batch completed", attrs...)
	}
}

// Get returns a stored record with its derived attributes.
func (s *Service) Get(ctx context.Context, numero int64) (cte.View, error) {
	rec, err := s.store.Get(ctx, numero)
	if err != nil {
		return cte.View{}, fmt.Errorf("get cte %d: %w", numero, err)
	}
	return cte.NewView(rec), nil
}

// Summary returns the dashboard projection over all stored records.
func (s *Service) Summary(ctx context.Context) (cte.Summary, error) {
	sum, err := s.store.Summary(ctx)
	if err != nil {
		return cte.Summary{}, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}
