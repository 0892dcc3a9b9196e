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

	"github.com/AleutianAI/AleutianOPE/services/ope/evaluate"
	"github.com/AleutianAI/AleutianOPE/services/ope/history"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// HistoryStore persists reports. *history.Store implements it.
type HistoryStore interface {
	Put(ctx context.Context, r *evaluate.Report) error
	Get(ctx context.Context, runID string) (*evaluate.Report, error)
	List(ctx context.Context, limit int) ([]history.Summary, error)
}

// ReportSink receives every completed report. *sink.Influx implements it.
type ReportSink interface {
	Write(ctx context.Context, r *evaluate.Report) error
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Mode    string `json:"mode"`
	History bool   `json:"history"`
}

// RunsResponse is the body of GET /v1/runs.
type RunsResponse struct {
	Runs []history.Summary `json:"runs"`
}
