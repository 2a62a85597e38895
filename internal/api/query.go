/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"net/http"

	"pgedge-nlq/internal/logging"
	"pgedge-nlq/internal/pipeline"
)

// QueryHandler exposes the pipeline entry point over HTTP
type QueryHandler struct {
	pipeline *pipeline.Pipeline
}

// NewQueryHandler creates a query handler
func NewQueryHandler(p *pipeline.Pipeline) *QueryHandler {
	return &QueryHandler{pipeline: p}
}

// HandleQuery handles POST /api/query
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	// The request context propagates client cancellation into the generator
	// and executor calls.
	resp := h.pipeline.Process(r.Context(), req)

	writeJSON(w, http.StatusOK, resp)
}

// errorBody is the JSON shape for boundary-level failures
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("failed to encode response", "error", err.Error())
	}
}
