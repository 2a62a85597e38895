/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package pipeline

import (
	"errors"

	"pgedge-nlq/internal/llm"
	"pgedge-nlq/internal/schema"
	"pgedge-nlq/internal/sqlguard"
	"pgedge-nlq/internal/viz"
	"pgedge-nlq/internal/warehouse"
)

// Request is one pipeline invocation. Immutable once submitted.
type Request struct {
	Question           string `json:"question"`
	SessionID          string `json:"session_id,omitempty"`
	ForceSchemaRefresh bool   `json:"force_schema_refresh,omitempty"`
}

// SQLQuery carries the generated statement and its explanation
type SQLQuery struct {
	Query       string `json:"query"`
	Explanation string `json:"explanation"`
}

// Response is the only shape the UI renderer may assume. QueryType is
// "table" or "chart" on success and omitted on failure; a failed stage
// surfaces as ErrorMessage, never as a silently substituted default query.
type Response struct {
	TextResponse     string                 `json:"text_response,omitempty"`
	SQLQuery         *SQLQuery              `json:"sql_query,omitempty"`
	QueryType        string                 `json:"query_type,omitempty"`
	Result           *warehouse.QueryResult `json:"result,omitempty"`
	Chart            *viz.ChartSpec         `json:"chart,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ProcessingTimeMS float64                `json:"processing_time_ms"`
}

// errorMessage maps a stage failure onto the error taxonomy, carrying only
// the sanitized reason or detail
func errorMessage(err error) string {
	var unsafeErr *sqlguard.UnsafeError
	var rejectedErr *warehouse.RejectedError

	switch {
	case errors.Is(err, schema.ErrUnavailable):
		return "schema_unavailable: " + err.Error()
	case errors.Is(err, llm.ErrUnavailable):
		return "generation_unavailable: " + err.Error()
	case errors.Is(err, llm.ErrMalformed):
		return "generation_malformed: " + err.Error()
	case errors.As(err, &unsafeErr):
		return "unsafe_statement: " + unsafeErr.Reason
	case errors.Is(err, warehouse.ErrTimeout):
		return "execution_timeout: the warehouse did not answer in time"
	case errors.As(err, &rejectedErr):
		return "execution_rejected: " + rejectedErr.Detail
	default:
		return "internal_error: " + err.Error()
	}
}
