package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app/job"
	"review_pipeline/internal/app/logger"
)

type stubExecutor struct {
	release chan struct{}
	seen    chan job.Options
}

func (s *stubExecutor) Run(_ context.Context, opts job.Options) job.RunResult {
	s.seen <- opts
	<-s.release
	return job.RunResult{ID: opts.ID, Mode: opts.Mode, Week: "2026-W06", Status: job.StatusPartial}
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func newTestServer(t *testing.T, db Pinger) (*Server, *job.Guard, *stubExecutor) {
	t.Helper()
	exec := &stubExecutor{release: make(chan struct{}), seen: make(chan job.Options, 4)}
	guard := job.NewGuard(exec)
	return New(context.Background(), guard, db, logger.Nop()), guard, exec
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, stubPinger{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	s, _, _ = newTestServer(t, stubPinger{err: errors.New("connection refused")})
	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRunsLifecycle(t *testing.T) {
	s, guard, exec := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/runs/last", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/runs", `{"week":"2026-W06"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "week", started["mode"])
	opts := <-exec.seen
	assert.Equal(t, "2026-W06", opts.Week.String())
	assert.Equal(t, started["id"], opts.ID.String())

	rec = do(t, s, http.MethodPost, "/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(exec.release)
	require.NoError(t, guard.Wait(t.Context()))

	rec = do(t, s, http.MethodGet, "/runs/last", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var last job.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	assert.Equal(t, job.StatusPartial, last.Status)
	assert.Equal(t, started["id"], last.ID.String())
}

func TestStartRunRejectsBadRequests(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"week and backfill", `{"week":"2026-W06","backfill":true}`},
		{"malformed week", `{"week":"2026-06"}`},
		{"weeks without backfill", `{"weeks":4}`},
		{"invalid json", `{"week":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
