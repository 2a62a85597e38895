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
	"context"
	"fmt"
	"sync"
	"time"

	"pgedge-nlq/internal/history"
	"pgedge-nlq/internal/llm"
	"pgedge-nlq/internal/logging"
	"pgedge-nlq/internal/prompt"
	"pgedge-nlq/internal/schema"
	"pgedge-nlq/internal/sqlguard"
	"pgedge-nlq/internal/viz"
	"pgedge-nlq/internal/warehouse"
)

// Policy holds the tunable limits of the pipeline. All values are
// configuration, not contract, and may be replaced at runtime via
// ApplyPolicy.
type Policy struct {
	DefaultRowLimit   int
	MaxCategoryValues int
	MaxPromptTables   int
	MaxPromptColumns  int
	MaxHistory        int
	GenerateTimeout   time.Duration
	ExecuteTimeout    time.Duration
}

// DefaultPolicy returns the built-in limits
func DefaultPolicy() Policy {
	return Policy{
		DefaultRowLimit:   500,
		MaxCategoryValues: 12,
		MaxPromptTables:   25,
		MaxPromptColumns:  40,
		MaxHistory:        5,
		GenerateTimeout:   60 * time.Second,
		ExecuteTimeout:    60 * time.Second,
	}
}

// Pipeline processes one question per invocation: snapshot, prompt,
// generate, validate, execute, shape. Stages run sequentially per request;
// requests from different users run concurrently without shared mutable
// state beyond the snapshot cache and the policy.
type Pipeline struct {
	schemaCache *schema.Cache
	generator   llm.Generator
	runner      warehouse.Runner
	historyLog  *history.Store // optional

	mu        sync.RWMutex
	policy    Policy
	validator *sqlguard.Validator
	shaper    *viz.Shaper
	builder   *prompt.Builder
}

// New creates a pipeline over the given collaborators
func New(cache *schema.Cache, generator llm.Generator, runner warehouse.Runner, historyLog *history.Store, policy Policy) *Pipeline {
	p := &Pipeline{
		schemaCache: cache,
		generator:   generator,
		runner:      runner,
		historyLog:  historyLog,
	}
	p.ApplyPolicy(policy)
	return p
}

// ApplyPolicy swaps in new limits; in-flight requests finish under the
// policy they started with
func (p *Pipeline) ApplyPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
	p.validator = sqlguard.NewValidator(policy.DefaultRowLimit)
	p.shaper = viz.NewShaper(policy.MaxCategoryValues)
	p.builder = prompt.NewBuilder(policy.MaxPromptTables, policy.MaxPromptColumns, policy.MaxHistory)
}

// Process runs the full pipeline for one request. Every failure exits
// through fail: the response carries error_message, query_type stays
// omitted, and no later stage runs.
func (p *Pipeline) Process(ctx context.Context, req Request) Response {
	started := time.Now()

	p.mu.RLock()
	policy := p.policy
	validator := p.validator
	shaper := p.shaper
	builder := p.builder
	p.mu.RUnlock()

	fail := func(err error, sqlQuery *SQLQuery, text string) Response {
		logging.Warn("pipeline failed", "question", req.Question, "error", err.Error())
		return Response{
			TextResponse:     text,
			SQLQuery:         sqlQuery,
			ErrorMessage:     errorMessage(err),
			ProcessingTimeMS: elapsedMS(started),
		}
	}

	if req.Question == "" {
		return fail(fmt.Errorf("empty question"), nil, "")
	}

	// Stage 1: schema snapshot. Fail fast before any prompt is composed
	// against unknown schema.
	snap, err := p.schemaCache.Get(ctx, req.ForceSchemaRefresh)
	if err != nil {
		return fail(err, nil, "The database schema could not be retrieved.")
	}

	// Stage 2: prompt
	promptText := builder.Build(req.Question, snap, p.priorContext(ctx, req.SessionID, policy.MaxHistory))

	// Stage 3: generation
	genCtx := ctx
	if policy.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, policy.GenerateTimeout)
		defer cancel()
	}
	candidate, err := llm.Generate(genCtx, p.generator, promptText)
	if err != nil {
		return fail(err, nil, "No SQL statement could be generated for this question.")
	}
	sqlQuery := &SQLQuery{Query: candidate.Statement, Explanation: candidate.Explanation}

	// Stage 4: validation. A rejected statement goes back to the user as an
	// explanation; it is never auto-rewritten and never executed.
	validated, err := validator.Validate(candidate.Statement)
	if err != nil {
		return fail(err, sqlQuery, "The generated statement was rejected by the safety gate.")
	}
	sqlQuery.Query = validated.String()

	// Stage 5: execution
	result, err := p.runner.Run(ctx, validated, policy.ExecuteTimeout, policy.DefaultRowLimit)
	if err != nil {
		return fail(err, sqlQuery, "The statement was generated but failed to execute.")
	}

	// Stage 6: shaping
	shaped := shaper.Shape(result, req.Question)

	p.record(ctx, req, sqlQuery, result)

	logging.Info("pipeline completed",
		"question", req.Question,
		"rows", result.RowCount,
		"query_type", shaped.QueryType)

	return Response{
		TextResponse:     fmt.Sprintf("Found %d results for your query.", result.RowCount),
		SQLQuery:         sqlQuery,
		QueryType:        shaped.QueryType,
		Result:           result,
		Chart:            shaped.Chart,
		ProcessingTimeMS: elapsedMS(started),
	}
}

// priorContext loads recent session exchanges for the prompt builder
func (p *Pipeline) priorContext(ctx context.Context, sessionID string, maxHistory int) []prompt.Exchange {
	if p.historyLog == nil || sessionID == "" || maxHistory <= 0 {
		return nil
	}
	recent, err := p.historyLog.Recent(ctx, sessionID, maxHistory)
	if err != nil {
		logging.Warn("failed to load session history", "session", sessionID, "error", err.Error())
		return nil
	}
	out := make([]prompt.Exchange, 0, len(recent))
	for _, ex := range recent {
		out = append(out, prompt.Exchange{Question: ex.Question, Statement: ex.Statement})
	}
	return out
}

// record appends a completed exchange to the session history
func (p *Pipeline) record(ctx context.Context, req Request, sqlQuery *SQLQuery, result *warehouse.QueryResult) {
	if p.historyLog == nil || req.SessionID == "" {
		return
	}
	err := p.historyLog.Append(ctx, history.Exchange{
		SessionID:   req.SessionID,
		Question:    req.Question,
		Statement:   sqlQuery.Query,
		Explanation: sqlQuery.Explanation,
		RowCount:    result.RowCount,
	})
	if err != nil {
		logging.Warn("failed to record exchange", "session", req.SessionID, "error", err.Error())
	}
}

func elapsedMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000.0
}
