/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package warehouse

import (
	"context"
	"errors"
	"time"

	"pgedge-nlq/internal/sqlguard"
)

// ErrTimeout indicates the warehouse did not answer within the deadline
var ErrTimeout = errors.New("execution timeout")

// RejectedError carries a warehouse-side failure (syntax, permissions).
// Detail is surfaced verbatim to the caller but never re-interpreted as
// safe to retry.
type RejectedError struct {
	Detail string
}

func (e *RejectedError) Error() string {
	return "execution rejected: " + e.Detail
}

// QueryResult holds columnar rows returned by the warehouse. Values keep
// their native types (number, text, timestamp, nil); stringification belongs
// to the rendering layer. Immutable once produced.
type QueryResult struct {
	Columns  []string                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	RowCount int                      `json:"row_count"`
}

// Runner executes exactly one read against the warehouse. The signature
// accepts only a sqlguard.ValidatedStatement, which nothing but the
// validator can construct, so an unvalidated statement cannot reach a
// connection even by programming mistake. Implementations perform no local
// retries; transient failures surface to the caller.
type Runner interface {
	Run(ctx context.Context, stmt sqlguard.ValidatedStatement, timeout time.Duration, rowLimit int) (*QueryResult, error)
}
