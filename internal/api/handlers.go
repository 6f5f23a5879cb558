// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/onixmirror/internal/cache"
	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/ingest"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/reconcile"
	syncpkg "github.com/tomtom215/onixmirror/internal/sync"
	"github.com/tomtom215/onixmirror/internal/validation"
)

// LedgerReader reads ledger state. *database.Ledger satisfies it.
type LedgerReader interface {
	Counts(ctx context.Context) (database.Counts, error)
	Get(ctx context.Context, id string) (*database.LedgerEntry, error)
}

// Pinger checks store connectivity. *database.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncController triggers and reports runs. *sync.Manager satisfies it.
type SyncController interface {
	TriggerSync() error
	LastSyncTime() time.Time
	LastStatus() *reconcile.RunStatus
}

// PipelineStats reports the current or last pipeline run. *ingest.Pipeline satisfies it.
type PipelineStats interface {
	Stats() *ingest.Stats
	IsRunning() bool
}

// DefaultCountsTTL is how long ledger counts are served from cache.
const DefaultCountsTTL = 5 * time.Second

const countsKey = "ledger:counts"

// Handler serves the API endpoints.
type Handler struct {
	ledger   LedgerReader
	store    Pinger
	sync     SyncController
	pipeline PipelineStats
	counts   *cache.Cache[database.Counts]
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithCountsTTL sets how long ledger counts are cached. 0 disables caching.
func WithCountsTTL(ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.counts = cache.New[database.Counts](ttl)
	}
}

// NewHandler creates a Handler. sync and pipeline may be nil.
func NewHandler(ledger LedgerReader, store Pinger, sync SyncController, pipeline PipelineStats, opts ...HandlerOption) *Handler {
	h := &Handler{
		ledger:   ledger,
		store:    store,
		sync:     sync,
		pipeline: pipeline,
		counts:   cache.New[database.Counts](DefaultCountsTTL),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LedgerSummary is the body of GET /api/v1/ledger.
type LedgerSummary struct {
	Counts     database.Counts `json:"counts"`
	LastSync   *time.Time      `json:"last_sync,omitempty"`
	LastStatus string          `json:"last_status,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Pipeline   *ingest.Summary `json:"pipeline,omitempty"`
}

// LedgerEntryResponse is the body of GET /api/v1/ledger/{identifier}.
type LedgerEntryResponse struct {
	*database.LedgerEntry
	State database.State `json:"state"`
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check failed")
		rw.ServiceUnavailable("store unavailable")
		return
	}
	rw.Success(map[string]string{"status": "ok"})
}

// Ledger returns state counts and the outcome of the last runs.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	// Counting a large ledger scans the whole table.
	counts, err := h.counts.GetOrLoad(countsKey, func() (database.Counts, error) {
		return h.ledger.Counts(r.Context())
	})
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	summary := LedgerSummary{Counts: counts}
	if h.sync != nil {
		if last := h.sync.LastSyncTime(); !last.IsZero() {
			summary.LastSync = &last
		}
		if st := h.sync.LastStatus(); st != nil {
			summary.LastStatus = "completed"
			if !st.Succeeded() {
				summary.LastStatus = "failed"
				summary.LastError = st.Err.Error()
			}
		}
	}
	if h.pipeline != nil {
		if stats := h.pipeline.Stats(); !stats.StartTime.IsZero() {
			summary.Pipeline = stats.ToSummary(h.pipeline.IsRunning())
		}
	}
	rw.Success(summary)
}

// LedgerEntry returns one identifier's ledger entry.
func (h *Handler) LedgerEntry(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "identifier")

	if err := validation.ValidateVar("identifier", id, "required,identifier"); err != nil {
		rw.ValidationError("invalid identifier", err.Error())
		return
	}

	entry, err := h.ledger.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("identifier not in ledger")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(LedgerEntryResponse{LedgerEntry: entry, State: entry.State()})
}

// TriggerSync queues an immediate synchronization run.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.sync == nil {
		rw.ServiceUnavailable("sync is not enabled")
		return
	}

	switch err := h.sync.TriggerSync(); {
	case err == nil:
		h.counts.Delete(countsKey)
		logging.Ctx(r.Context()).Info().Msg("Sync triggered")
		rw.Accepted(map[string]string{"status": "queued"})
	case errors.Is(err, syncpkg.ErrSyncPending):
		rw.Conflict("a sync run is already queued")
	case errors.Is(err, syncpkg.ErrNotRunning):
		rw.ServiceUnavailable("sync manager is not running")
	default:
		rw.Error(http.StatusInternalServerError, ErrCodeServiceUnavailable, err.Error())
	}
}
