// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
)

// listenerServer serves a real http.Server on a pre-bound listener so tests
// know the address before Serve starts.
type listenerServer struct {
	*http.Server
	ln net.Listener
}

func (s *listenerServer) ListenAndServe() error {
	return s.Serve(s.ln)
}

func newListenerServer(t *testing.T, h http.Handler) (*listenerServer, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &listenerServer{
		Server: &http.Server{Handler: h, ReadHeaderTimeout: time.Second},
		ln:     ln,
	}
	return srv, "http://" + ln.Addr().String()
}

type failingShutdown struct {
	release chan struct{}
	err     error
}

func (f *failingShutdown) ListenAndServe() error {
	<-f.release
	return http.ErrServerClosed
}

func (f *failingShutdown) Shutdown(context.Context) error {
	close(f.release)
	return f.err
}

var _ suture.Service = (*HTTPServerService)(nil)

func TestNewHTTPServerService(t *testing.T) {
	svc := NewHTTPServerService(&http.Server{}, 3*time.Second)
	assert.Equal(t, 3*time.Second, svc.shutdownTimeout)
	assert.Equal(t, "http-server", svc.String())

	svc = NewHTTPServerService(&http.Server{}, 0)
	assert.Equal(t, 10*time.Second, svc.shutdownTimeout)
}

func TestHTTPServerService_ServesUntilCanceled(t *testing.T) {
	srv, url := newListenerServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	resp, err := http.Get(url + "/healthz") //nolint:noctx // test request
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	_, err = http.Get(url + "/healthz") //nolint:noctx // test request
	assert.Error(t, err, "server should be closed")
}

func TestHTTPServerService_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	srv := &http.Server{Addr: ln.Addr().String(), ReadHeaderTimeout: time.Second}
	err = NewHTTPServerService(srv, time.Second).Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http server failed")
}

func TestHTTPServerService_ShutdownError(t *testing.T) {
	shutdownErr := errors.New("connections did not drain")
	srv := &failingShutdown{release: make(chan struct{}), err: shutdownErr}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewHTTPServerService(srv, time.Second).Serve(ctx)
	require.ErrorIs(t, err, shutdownErr)
	assert.Contains(t, err.Error(), "http server shutdown failed")
}
