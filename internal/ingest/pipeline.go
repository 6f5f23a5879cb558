// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package ingest drains pending ledger identifiers: a bounded pool of fetch
// workers retrieves and flattens records, and a single persistence worker
// writes every outcome to the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tomtom215/onixmirror/internal/catalog"
	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/events"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/metrics"
	"github.com/tomtom215/onixmirror/internal/onix"
)

// ErrAlreadyRunning is returned when Run is called during another run.
var ErrAlreadyRunning = errors.New("pipeline run already in progress")

// RecordFetcher retrieves one record document.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, identifier string) (*catalog.Document, error)
}

// RunOptions selects what a run drains.
type RunOptions struct {
	// Identifiers restricts the run to these identifiers, processed once
	// whatever their ledger state. Empty drains every PENDING identifier.
	Identifiers []string

	// FinalPass compacts the store once nothing is left to drain.
	FinalPass bool
}

// result is the outcome of one fetch job. Exactly one is emitted per job.
type result struct {
	identifier string
	rows       []onix.Row
	err        error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSink publishes per-identifier events to sink.
func WithSink(sink events.Sink) Option {
	return func(p *Pipeline) {
		if sink != nil {
			p.sink = sink
		}
	}
}

// WithProgress records run statistics in tracker after every batch.
func WithProgress(tracker ProgressTracker) Option {
	return func(p *Pipeline) {
		if tracker != nil {
			p.progress = tracker
		}
	}
}

// Pipeline drains the ledger.
type Pipeline struct {
	cfg       config.PipelineConfig
	fetcher   RecordFetcher
	db        *database.DB
	flattener *onix.Flattener
	sink      events.Sink
	progress  ProgressTracker
	now       func() time.Time

	mu      sync.RWMutex
	running bool
	stats   *Stats
}

// New creates a Pipeline writing to db with rows shaped by cfg.GroupTags.
func New(cfg *config.PipelineConfig, fetcher RecordFetcher, db *database.DB, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       *cfg,
		fetcher:   fetcher,
		db:        db,
		flattener: onix.NewFlattener(db.Schema().RootTable(), cfg.GroupTags),
		sink:      events.Discard{},
		progress:  NewInMemoryProgress(),
		now:       time.Now,
	}
	if p.cfg.Workers < 1 {
		p.cfg.Workers = 1
	}
	if p.cfg.BatchSize < 1 {
		p.cfg.BatchSize = 1
	}
	if p.cfg.SubBatchSize < 1 {
		p.cfg.SubBatchSize = 1
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Progress returns the tracker the pipeline saves to.
func (p *Pipeline) Progress() ProgressTracker {
	return p.progress
}

// Run drains the ledger until no PENDING identifier remains, or processes
// opts.Identifiers once. Per-identifier failures are recorded in the ledger
// and never abort the run; a store error does.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Stats, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	p.running = true
	runID := logging.RunIDFromContext(ctx)
	if runID == "" {
		runID = logging.GenerateRunID()
		ctx = logging.ContextWithRunID(ctx, runID)
	}
	p.stats = &Stats{RunID: runID, StartTime: p.now()}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ctx, closeLog := p.withRunLogger(ctx)
	defer closeLog()

	logger := logging.Ctx(ctx)
	logger.Info().
		Int("batch_size", p.cfg.BatchSize).
		Int("sub_batch_size", p.cfg.SubBatchSize).
		Int("workers", p.cfg.Workers).
		Int("identifiers", len(opts.Identifiers)).
		Msg("Pipeline started")

	runErr := p.drain(ctx, opts)
	if runErr == nil && opts.FinalPass {
		if err := p.db.Vacuum(ctx); err != nil {
			runErr = err
		} else {
			p.update(func(s *Stats) { s.Vacuumed = true })
		}
	}

	if runErr == nil {
		p.update(func(s *Stats) { s.EndTime = p.now() })
		metrics.PipelineDuration.Observe(p.Stats().Duration().Seconds())
	}
	stats := p.Stats()
	p.saveProgress(ctx, stats)

	event := logger.Info()
	if runErr != nil {
		event = logger.Error().Err(runErr)
	}
	event.
		Int("batches", stats.Batches).
		Int64("processed", stats.Processed).
		Int64("failed", stats.Failed).
		Int64("skipped", stats.Skipped).
		Dur("duration", stats.Duration()).
		Msg("Pipeline finished")
	return stats, runErr
}

// drain runs batches until the ledger has nothing pending.
func (p *Pipeline) drain(ctx context.Context, opts RunOptions) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ids []string
		if len(opts.Identifiers) > 0 {
			ids = opts.Identifiers
		} else {
			var err error
			if ids, err = p.db.Ledger().Pending(ctx, p.cfg.BatchSize); err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			metrics.PipelineBatchSize.Set(0)
			return nil
		}
		metrics.PipelineBatchSize.Set(float64(len(ids)))

		for start := 0; start < len(ids); start += p.cfg.SubBatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+p.cfg.SubBatchSize, len(ids))
			if err := p.runSubBatch(ctx, ids[start:end]); err != nil {
				return err
			}
		}

		p.update(func(s *Stats) { s.Batches++ })
		p.saveProgress(ctx, p.Stats())

		if len(opts.Identifiers) > 0 {
			return nil
		}
	}
}

// runSubBatch fetches ids concurrently and returns once the persistence
// worker has handled every result.
func (p *Pipeline) runSubBatch(ctx context.Context, ids []string) error {
	jobs := make(chan string)
	results := make(chan result, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < min(p.cfg.Workers, len(ids)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- p.fetch(ctx, id)
			}
		}()
	}

	done := make(chan error, 1)
	go func() {
		done <- p.persist(ctx, results)
	}()

	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	close(results)

	return <-done
}

// fetch retrieves and flattens one record.
func (p *Pipeline) fetch(ctx context.Context, id string) result {
	doc, err := p.fetcher.FetchRecord(ctx, id)
	if err != nil {
		return result{identifier: id, err: err}
	}
	if len(onix.Products(doc.Root)) == 0 {
		return result{identifier: id, err: &catalog.ContentError{Op: catalog.OpRecord, Message: "response holds no Product"}}
	}
	return result{identifier: id, rows: p.flattener.FlattenAll(doc.Root, id)}
}

// persist is the only writer of a sub-batch. It consumes results in arrival
// order until the channel is closed. Writes are detached from ctx
// cancellation so that in-flight outcomes are still recorded on shutdown.
func (p *Pipeline) persist(ctx context.Context, results <-chan result) error {
	wctx := context.WithoutCancel(ctx)
	logger := logging.Ctx(ctx)
	runID := logging.RunIDFromContext(ctx)

	for r := range results {
		if r.err != nil && ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
			p.update(func(s *Stats) { s.Skipped++ })
			logger.Debug().Str("identifier", r.identifier).Msg("Left pending, run canceled")
			continue
		}

		at := p.now()
		var tables []string
		err := p.db.Transaction(wctx, func(tx *gorm.DB) error {
			ledger := p.db.Ledger().WithTx(tx)
			if r.err != nil {
				return ledger.MarkFailed(wctx, r.identifier, r.err.Error(), at)
			}
			var err error
			if tables, err = p.db.ReplaceRecord(wctx, tx, r.identifier, r.rows); err != nil {
				return err
			}
			return ledger.MarkProcessed(wctx, r.identifier, at)
		})
		if err != nil {
			// Drain so fetch workers never block on a dead writer.
			for range results {
			}
			return fmt.Errorf("persist %s: %w", r.identifier, err)
		}

		ev := events.RecordEvent{RunID: runID, Identifier: r.identifier, Tables: tables, OccurredAt: at}
		if r.err != nil {
			ev.Error = r.err.Error()
			p.update(func(s *Stats) { s.Failed++; s.LastIdentifier = r.identifier })
			metrics.RecordPersisted(false)
			logger.Warn().Str("identifier", r.identifier).Err(r.err).Msg("Record failed")
			p.sink.Failed(wctx, ev)
			continue
		}
		p.update(func(s *Stats) { s.Processed++; s.LastIdentifier = r.identifier })
		metrics.RecordPersisted(true)
		logger.Info().Str("identifier", r.identifier).Int("rows", len(r.rows)).Strs("tables", tables).Msg("Record persisted")
		p.sink.Processed(wctx, ev)
	}
	return nil
}

// withRunLogger routes the run's activity to a rotating log when a log
// directory is configured.
func (p *Pipeline) withRunLogger(ctx context.Context) (context.Context, func()) {
	if p.cfg.LogDir == "" {
		return logging.ContextWithLogger(ctx, logging.WithComponent("ingest")), func() {}
	}

	w := logging.NewRotatingWriter(logging.RotationPolicy{
		MaxBytes:   p.cfg.LogMaxBytes,
		MaxRecords: p.cfg.LogMaxRecords,
	}, logging.FileSegments(p.cfg.LogDir, "pipeline"))

	runLogger := logging.New(logging.Config{
		Format:    "json",
		Timestamp: true,
		Output:    w,
	}).With().Str("component", "ingest").Logger()

	closeLog := func() {
		if err := w.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close pipeline log")
		}
	}
	return logging.ContextWithLogger(ctx, runLogger), closeLog
}

func (p *Pipeline) update(fn func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.stats)
}

func (p *Pipeline) saveProgress(ctx context.Context, stats *Stats) {
	if err := p.progress.Save(context.WithoutCancel(ctx), stats); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to save progress")
	}
}

// Stats returns a copy of the current or last run statistics.
func (p *Pipeline) Stats() *Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stats == nil {
		return &Stats{}
	}
	stats := *p.stats
	return &stats
}

// IsRunning reports whether a run is in progress.
func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
