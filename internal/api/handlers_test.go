// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/ingest"
	"github.com/tomtom215/onixmirror/internal/reconcile"
	syncpkg "github.com/tomtom215/onixmirror/internal/sync"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "onix.db"),
		RootTable:   "product",
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeSync struct {
	err    error
	last   time.Time
	status *reconcile.RunStatus
	calls  int
}

func (s *fakeSync) TriggerSync() error {
	s.calls++
	return s.err
}
func (s *fakeSync) LastSyncTime() time.Time           { return s.last }
func (s *fakeSync) LastStatus() *reconcile.RunStatus { return s.status }

type fakePipeline struct {
	stats   *ingest.Stats
	running bool
}

func (p fakePipeline) Stats() *ingest.Stats { return p.stats }
func (p fakePipeline) IsRunning() bool      { return p.running }

func newServer(t *testing.T, h *Handler) http.Handler {
	t.Helper()
	return NewRouter(h, NewMiddleware(&MiddlewareConfig{RateLimitWindow: time.Minute})).Setup()
}

func do(t *testing.T, srv http.Handler, method, path string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := newServer(t, NewHandler(nil, fakePinger{}, nil, nil))
		rec, resp := do(t, srv, http.MethodGet, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		require.NotNil(t, resp.Meta)
		assert.Equal(t, rec.Header().Get("X-Request-Id"), resp.Meta.RequestID)
	})

	t.Run("store down", func(t *testing.T) {
		srv := newServer(t, NewHandler(nil, fakePinger{err: errors.New("closed")}, nil, nil))
		rec, resp := do(t, srv, http.MethodGet, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeServiceUnavailable, resp.Error.Code)
	})
}

func TestLedger(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, err := db.Ledger().Insert(ctx, []string{"A", "B", "C"}, database.ChangeNew, database.Provenance{})
	require.NoError(t, err)
	require.NoError(t, db.Ledger().MarkProcessed(ctx, "A", time.Now()))
	require.NoError(t, db.Ledger().MarkFailed(ctx, "B", "boom", time.Now()))

	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sync := &fakeSync{last: last, status: &reconcile.RunStatus{Err: errors.New("stage ingest: boom")}}
	pipe := fakePipeline{stats: &ingest.Stats{RunID: "run-1", Processed: 1, Failed: 1, StartTime: last}}

	srv := newServer(t, NewHandler(db.Ledger(), db, sync, pipe))
	rec, _ := do(t, srv, http.MethodGet, "/api/v1/ledger")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data LedgerSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, database.Counts{Pending: 1, Processed: 1, Error: 1, Total: 3}, body.Data.Counts)
	require.NotNil(t, body.Data.LastSync)
	assert.True(t, last.Equal(*body.Data.LastSync))
	assert.Equal(t, "failed", body.Data.LastStatus)
	assert.Equal(t, "stage ingest: boom", body.Data.LastError)
	require.NotNil(t, body.Data.Pipeline)
	assert.Equal(t, "interrupted", body.Data.Pipeline.Status)
	assert.Equal(t, "run-1", body.Data.Pipeline.RunID)
}

func TestLedger_NoRuns(t *testing.T) {
	db := setupTestDB(t)
	srv := newServer(t, NewHandler(db.Ledger(), db, &fakeSync{}, fakePipeline{stats: &ingest.Stats{}}))

	rec, _ := do(t, srv, http.MethodGet, "/api/v1/ledger")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data LedgerSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Data.Counts.Total)
	assert.Nil(t, body.Data.LastSync)
	assert.Empty(t, body.Data.LastStatus)
	assert.Nil(t, body.Data.Pipeline)
}

func TestLedgerEntry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, err := db.Ledger().Insert(ctx, []string{"9788400000001"}, database.ChangeNew,
		database.Provenance{ExtractionDate: "20260301", IsPublisher: true})
	require.NoError(t, err)
	srv := newServer(t, NewHandler(db.Ledger(), db, nil, nil))

	t.Run("found", func(t *testing.T) {
		rec, _ := do(t, srv, http.MethodGet, "/api/v1/ledger/9788400000001")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data struct {
				Identifier     string         `json:"identifier"`
				ExtractionDate string         `json:"extraction_date"`
				IsPublisher    bool           `json:"is_publisher"`
				State          database.State `json:"state"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "9788400000001", body.Data.Identifier)
		assert.Equal(t, "20260301", body.Data.ExtractionDate)
		assert.True(t, body.Data.IsPublisher)
		assert.Equal(t, database.StatePending, body.Data.State)
	})

	t.Run("missing", func(t *testing.T) {
		rec, resp := do(t, srv, http.MethodGet, "/api/v1/ledger/9788400000002")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		rec, resp := do(t, srv, http.MethodGet, "/api/v1/ledger/bad%20id")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	})
}

func TestTriggerSync(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"queued", nil, http.StatusAccepted},
		{"pending", syncpkg.ErrSyncPending, http.StatusConflict},
		{"not running", syncpkg.ErrNotRunning, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sync := &fakeSync{err: tt.err}
			srv := newServer(t, NewHandler(nil, fakePinger{}, sync, nil))
			rec, _ := do(t, srv, http.MethodPost, "/api/v1/sync")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, 1, sync.calls)
		})
	}

	t.Run("disabled", func(t *testing.T) {
		srv := newServer(t, NewHandler(nil, fakePinger{}, nil, nil))
		rec, _ := do(t, srv, http.MethodPost, "/api/v1/sync")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		srv := newServer(t, NewHandler(nil, fakePinger{}, &fakeSync{}, nil))
		rec, _ := do(t, srv, http.MethodGet, "/api/v1/sync")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(nil, fakePinger{}, &fakeSync{}, nil)
	srv := NewRouter(h, NewMiddleware(&MiddlewareConfig{RateLimitRequests: 2, RateLimitWindow: time.Minute})).Setup()

	for i := 0; i < 2; i++ {
		rec, _ := do(t, srv, http.MethodPost, "/api/v1/sync")
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec, _ := do(t, srv, http.MethodPost, "/api/v1/sync")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// health is outside the limited group
	rec, _ = do(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, NewHandler(nil, fakePinger{}, nil, nil))
	rec, _ := do(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCORS(t *testing.T) {
	h := NewHandler(nil, fakePinger{}, &fakeSync{}, nil)
	mw := NewMiddleware(MiddlewareConfigFrom(&config.ServerConfig{CORSOrigins: []string{"https://ops.example.com"}}))
	srv := NewRouter(h, mw).Setup()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ledger", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLedger_CountsCached(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, err := db.Ledger().Insert(ctx, []string{"A"}, database.ChangeNew, database.Provenance{})
	require.NoError(t, err)

	total := func(srv http.Handler) int64 {
		rec, _ := do(t, srv, http.MethodGet, "/api/v1/ledger")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data LedgerSummary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Data.Counts.Total
	}

	cached := newServer(t, NewHandler(db.Ledger(), db, nil, nil, WithCountsTTL(time.Hour)))
	uncached := newServer(t, NewHandler(db.Ledger(), db, nil, nil, WithCountsTTL(0)))

	assert.Equal(t, int64(1), total(cached))
	assert.Equal(t, int64(1), total(uncached))

	_, err = db.Ledger().Insert(ctx, []string{"B"}, database.ChangeNew, database.Provenance{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), total(cached), "served from cache")
	assert.Equal(t, int64(2), total(uncached))
}
