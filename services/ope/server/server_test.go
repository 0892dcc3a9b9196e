// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/evaluate"
	"github.com/AleutianAI/AleutianOPE/services/ope/history"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const logBody = `{"p_log":0.5,"r":1,"p_pred":1}
{"p_log":0.5,"r":0,"p_pred":1}
garbage
`

type recordingSink struct {
	mu      sync.Mutex
	reports []*evaluate.Report
	err     error
}

func (s *recordingSink) Write(_ context.Context, r *evaluate.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	runner, err := evaluate.NewRunner(&cfg, evaluate.WithLogger(logger))
	require.NoError(t, err)
	s, err := New(runner, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return s
}

func newHistory(t *testing.T) *history.Store {
	t.Helper()
	h, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, "bandit", resp.Mode)
	assert.False(t, resp.History)
}

func TestEvaluate_StoresAndForwards(t *testing.T) {
	h := newHistory(t)
	sink := &recordingSink{}
	s := newTestServer(t, WithHistory(h), WithSink(sink))

	rec := do(s, http.MethodPost, "/v1/evaluate", logBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report evaluate.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(2), report.Examples)
	assert.Equal(t, int64(1), report.Invalid)
	require.NotEmpty(t, report.Estimates)
	assert.Equal(t, 1.0, report.Estimates[0].Value)

	require.Len(t, sink.reports, 1)
	assert.Equal(t, report.RunID, sink.reports[0].RunID)

	rec = do(s, http.MethodGet, "/v1/runs/"+report.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored evaluate.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, report.Estimates, stored.Estimates)

	rec = do(s, http.MethodGet, "/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, report.RunID, runs.Runs[0].RunID)
}

func TestEvaluate_SinkErrorIsNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("influx down")}
	s := newTestServer(t, WithSink(sink))
	rec := do(s, http.MethodPost, "/v1/evaluate", logBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluate_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, WithMaxBodyBytes(16))
	rec := do(s, http.MethodPost, "/v1/evaluate", logBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BODY_TOO_LARGE", resp.Code)
}

func TestRuns(t *testing.T) {
	t.Run("history disabled", func(t *testing.T) {
		s := newTestServer(t)
		assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/runs", "").Code)
		assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/runs/x", "").Code)
	})

	s := newTestServer(t, WithHistory(newHistory(t)))

	t.Run("empty list", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/v1/runs", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/v1/runs/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	for _, limit := range []string{"0", "-1", "abc", "1001"} {
		t.Run("limit="+limit, func(t *testing.T) {
			rec := do(s, http.MethodGet, "/v1/runs?limit="+limit, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/metrics", "").Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ope_examples_total 3\n")
	})
	s = newTestServer(t, WithMetricsHandler(metrics))
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ope_examples_total")
}

func TestNew_NilRunner(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilRunner)
}
