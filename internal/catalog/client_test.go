// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/onixmirror/internal/config"
)

const recordResponse = `<?xml version="1.0" encoding="UTF-8"?>
<getRecordsXResponse xmlns="http://www.dilve.es/dilve/api/xsd/getRecordsXResponse">
  <ONIXMessage xmlns="http://ns.editeur.org/onix/3.0/reference">
    <Product><RecordReference>9788408123456</RecordReference></Product>
  </ONIXMessage>
</getRecordsXResponse>`

const errorResponse = `<?xml version="1.0" encoding="UTF-8"?>
<getRecordsXResponse xmlns="http://www.dilve.es/dilve/api/xsd/getRecordsXResponse">
  <error><code>E101</code><text>Invalid identifier</text></error>
</getRecordsXResponse>`

func newTestClient(t *testing.T, baseURL string, retries int) *Client {
	t.Helper()
	return NewClient(&config.APIConfig{
		BaseURL:    baseURL,
		User:       "alice",
		Password:   "s3cret",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	})
}

func TestFetchRecord_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getRecordsX.do" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"user":           "alice",
			"password":       "s3cret",
			"identifier":     "9788408123456",
			"metadataformat": "ONIX",
			"version":        "3.0",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("query %s = %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(recordResponse))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/", 3)
	doc, err := c.FetchRecord(context.Background(), "9788408123456")
	if err != nil {
		t.Fatalf("FetchRecord() error = %v", err)
	}
	if doc.Root.Name != "getRecordsXResponse" || doc.Root.Space != NSRecords {
		t.Errorf("unexpected root %s {%s}", doc.Root.Name, doc.Root.Space)
	}
	if p := doc.Root.Find("Product"); p == nil || p.Space != NSONIX {
		t.Error("expected an ONIX Product element")
	}
	if string(doc.Raw) != recordResponse {
		t.Error("raw body not preserved")
	}
}

func TestFetchRecord_RetriesTransportErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(recordResponse))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	if _, err := c.FetchRecord(context.Background(), "9788408123456"); err != nil {
		t.Fatalf("FetchRecord() error = %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestFetchRecord_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	_, err := c.FetchRecord(context.Background(), "9788408123456")

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", te.StatusCode)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestFetchRecord_ContentErrorNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"error element", errorResponse, "E101: Invalid identifier"},
		{"bare error", `<getRecordsXResponse><error>Unknown user</error></getRecordsXResponse>`, "Unknown user"},
		{"malformed", `<getRecordsXResponse><Product>`, "malformed response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, 3)
			_, err := c.FetchRecord(context.Background(), "X")

			var ce *ContentError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ContentError, got %v", err)
			}
			if ce.Message != tt.message {
				t.Errorf("Message = %q, want %q", ce.Message, tt.message)
			}
			if IsTransportError(err) {
				t.Error("content error must not be a transport error")
			}
			if got := hits.Load(); got != 1 {
				t.Errorf("attempts = %d, want 1", got)
			}
		})
	}
}

func TestFetchRecord_ForeignErrorElementIgnored(t *testing.T) {
	t.Parallel()

	body := `<getRecordsXResponse xmlns="http://www.dilve.es/dilve/api/xsd/getRecordsXResponse">
  <ONIXMessage xmlns="http://ns.editeur.org/onix/3.0/reference"><Product><error>not ours</error></Product></ONIXMessage>
</getRecordsXResponse>`
	if _, err := parseResponse(OpRecord, []byte(body), NSRecords); err != nil {
		t.Errorf("parseResponse() error = %v", err)
	}
}

func TestFetchRecord_CredentialsNotInErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c := newTestClient(t, addr, 1)
	_, err := c.FetchRecord(context.Background(), "X")
	if err == nil {
		t.Fatal("expected an error")
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Errorf("error leaks the password: %v", err)
	}
}

func TestFetchRecord_ContextCanceled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(&config.APIConfig{
		BaseURL:    server.URL,
		Timeout:    time.Second,
		MaxRetries: 5,
		RetryDelay: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.FetchRecord(ctx, "X")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff wait did not honor the context")
	}
}

func newBreakerClient(t *testing.T, baseURL string, retries int, breakerTimeout time.Duration) *Client {
	t.Helper()
	c := newTestClient(t, baseURL, retries)
	c.breakerTimeout = breakerTimeout
	c.cb = newCircuitBreaker(BreakerName, breakerTimeout, func() {
		c.openedAt.Store(time.Now().UnixNano())
	})
	return c
}

func TestCircuitBreaker_OpenCircuitWaitsWithoutReachingServer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newBreakerClient(t, server.URL, 1, time.Hour)
	for i := 0; i < 10; i++ {
		_, _ = c.FetchRecord(context.Background(), "X")
	}
	if c.cb.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", c.cb.State())
	}
	before := hits.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchRecord(ctx, "X")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the call to wait for the breaker until the deadline, got %v", err)
	}
	if hits.Load() != before {
		t.Error("open circuit must not reach the server")
	}
}

func TestCircuitBreaker_RejectionDoesNotUseAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 10 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(recordResponse))
	}))
	defer server.Close()

	c := newBreakerClient(t, server.URL, 3, 20*time.Millisecond)
	for i := 0; i < 3; i++ {
		if _, err := c.FetchRecord(context.Background(), "X"); !IsTransportError(err) {
			t.Fatalf("call %d: expected transport error, got %v", i, err)
		}
	}

	// The tenth hit opens the breaker; the next attempt waits for the
	// half-open window instead of failing.
	doc, err := c.FetchRecord(context.Background(), "X")
	if err != nil {
		t.Fatalf("expected success after the breaker recovered, got %v", err)
	}
	if doc == nil || doc.Root == nil {
		t.Fatal("expected a parsed document")
	}
	if got := hits.Load(); got != 11 {
		t.Errorf("server hits = %d, want 11", got)
	}
	if c.cb.State() != gobreaker.StateClosed && c.cb.State() != gobreaker.StateHalfOpen {
		t.Errorf("breaker state = %v after a successful trial request", c.cb.State())
	}
}

func TestCircuitBreaker_IgnoresContentErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(errorResponse))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	for i := 0; i < 15; i++ {
		_, err := c.FetchRecord(context.Background(), "X")
		if !IsContentError(err) {
			t.Fatalf("call %d: expected content error, got %v", i, err)
		}
	}
}

func TestFetchStatusAndList_Params(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/getRecordStatusX.do":
			if q.Get("fromDate") != "2026-03-01T08:00:00Z" || q.Get("type") != "A" || q.Get("detail") != "N" {
				t.Errorf("unexpected status query %v", q)
			}
			_, _ = w.Write([]byte(`<getRecordStatusXResponse xmlns="` + NSStatus + `"><existingRecords/></getRecordStatusXResponse>`))
		case "/getRecordListX.do":
			if q.Get("type") != "L" || q.Get("program") != "getRecordListX_ALL_ONIX_E" {
				t.Errorf("unexpected list query %v", q)
			}
			_, _ = w.Write([]byte(`<getRecordListXResponse xmlns="` + NSList + `"><record><id>A</id></record><record><id>B</id></record></getRecordListXResponse>`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	if _, err := c.FetchStatus(context.Background(), from); err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}

	doc, err := c.FetchList(context.Background(), "getRecordListX_ALL_ONIX_E")
	if err != nil {
		t.Fatalf("FetchList() error = %v", err)
	}
	if ids := IDs(doc.Root, ""); len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestIDs_Section(t *testing.T) {
	t.Parallel()

	doc, err := parseResponse(OpStatus, []byte(`<r>
  <newRecords><record><id> 1 </id></record><record><other/></record></newRecords>
  <deletedRecords><record><id>2</id></record></deletedRecords>
</r>`), NSStatus)
	if err != nil {
		t.Fatalf("parseResponse() error = %v", err)
	}
	if ids := IDs(doc.Root, "newRecords"); len(ids) != 1 || ids[0] != "1" {
		t.Errorf("newRecords = %v", ids)
	}
	if ids := IDs(doc.Root, "changedRecords"); ids != nil {
		t.Errorf("changedRecords = %v, want nil", ids)
	}
}
