/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable indicates the model endpoint could not be reached, timed
// out, or returned a transport-level failure. Safe for the calling layer to
// retry the whole pipeline invocation; never retried here.
var ErrUnavailable = errors.New("generation unavailable")

// ErrMalformed indicates the model responded but no SQL statement could be
// parsed out of the response.
var ErrMalformed = errors.New("generation malformed")

// Generator is the narrow boundary to the model: bounded prompt text in,
// unstructured completion text out. The HTTP Client implements it; tests
// substitute a deterministic stub.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Candidate is an unvalidated statement produced by the model together with
// its natural-language explanation. Not trusted until it passes the
// validator.
type Candidate struct {
	Statement   string
	Explanation string
}

// Generate runs one completion against the generator and parses the
// response into a candidate. No retries: retries, if any, belong to the
// caller.
func Generate(ctx context.Context, g Generator, prompt string) (Candidate, error) {
	raw, err := g.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformed) {
			return Candidate{}, err
		}
		return Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Parse(raw)
}
