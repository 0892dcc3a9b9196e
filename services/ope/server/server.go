// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes evaluation over HTTP.
//
// Routes:
//
//	POST /v1/evaluate     JSON-lines body, returns the Report
//	GET  /v1/runs         stored run summaries, newest first
//	GET  /v1/runs/:id     one stored Report
//	GET  /v1/health       liveness
//	GET  /metrics         prometheus scrape endpoint
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianOPE/services/ope/evaluate"
	"github.com/AleutianAI/AleutianOPE/services/ope/history"
)

const (
	serviceName = "ope-service"

	// DefaultMaxBodyBytes bounds a POST /v1/evaluate body.
	DefaultMaxBodyBytes = 64 << 20

	defaultListLimit = 20
	maxListLimit     = 1000
)

// ErrNilRunner is returned by New without a runner.
var ErrNilRunner = errors.New("runner must not be nil")

// Server serves one evaluation configuration over HTTP.
//
// Thread Safety: Safe for concurrent use; each request runs its own
// evaluation.
type Server struct {
	runner       *evaluate.Runner
	history      HistoryStore
	sink         ReportSink
	metrics      http.Handler
	logger       *slog.Logger
	maxBodyBytes int64
	router       *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithHistory stores every report and enables the /v1/runs routes.
func WithHistory(h HistoryStore) Option {
	return func(s *Server) { s.history = h }
}

// WithSink forwards every report. Sink errors are logged, not returned to
// the client.
func WithSink(sink ReportSink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxBodyBytes bounds request bodies. Default: DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// New builds the router.
func New(runner *evaluate.Runner, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	s := &Server{
		runner:       runner,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initRouter()
	return s, nil
}

// Router returns the gin engine, for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("OPE service listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName), s.logRequests)

	v1 := s.router.Group("/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/evaluate", s.handleEvaluate)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// logRequests logs one line per request with the handler's status.
func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", time.Since(start)))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Mode:    string(s.runner.Config().Mode),
		History: s.history != nil,
	})
}

// handleEvaluate handles POST /v1/evaluate.
//
// The body is the JSON-lines log. The report is stored and forwarded
// before it is returned.
func (s *Server) handleEvaluate(c *gin.Context) {
	ctx := c.Request.Context()
	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes)

	report, err := s.runner.Run(ctx, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error(), Code: "BODY_TOO_LARGE"})
			return
		}
		s.logger.Warn("Evaluation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "EVALUATION_FAILED"})
		return
	}

	if s.history != nil {
		if err := s.history.Put(ctx, report); err != nil {
			s.logger.Error("Failed to store report", slog.String("run_id", report.RunID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "HISTORY_WRITE_FAILED"})
			return
		}
	}
	if s.sink != nil {
		if err := s.sink.Write(ctx, report); err != nil {
			s.logger.Warn("Failed to export report", slog.String("run_id", report.RunID), slog.String("error", err.Error()))
		}
	}
	c.JSON(http.StatusOK, report)
}

// handleListRuns handles GET /v1/runs?limit=N.
func (s *Server) handleListRuns(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run history is not enabled", Code: "HISTORY_DISABLED"})
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("limit must be an integer in [1, %d]", maxListLimit),
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}
	runs, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "HISTORY_READ_FAILED"})
		return
	}
	if runs == nil {
		runs = []history.Summary{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

// handleGetRun handles GET /v1/runs/:id.
func (s *Server) handleGetRun(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run history is not enabled", Code: "HISTORY_DISABLED"})
		return
	}
	report, err := s.history.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "RUN_NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "HISTORY_READ_FAILED"})
		return
	}
	c.JSON(http.StatusOK, report)
}
