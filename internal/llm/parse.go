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
	"fmt"
	"strings"
)

// Parse decomposes a raw model response into exactly one statement and one
// explanation. The statement is taken from the first fenced sql block when
// present, otherwise from a "SQL:" section, otherwise from a response that
// leads directly with SQL; further blocks or sections are discarded, never
// concatenated. The statement text itself passes through untouched: the
// validator must see exactly what the model produced, stacked statements
// included, so rejection happens there with the full picture.
func Parse(raw string) (Candidate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Candidate{}, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	statement := strings.TrimSpace(extractStatement(raw))
	if statement == "" {
		return Candidate{}, fmt.Errorf("%w: no SQL statement in response", ErrMalformed)
	}
	if !leadsWithSQL(statement) {
		return Candidate{}, fmt.Errorf("%w: response does not contain SQL", ErrMalformed)
	}

	return Candidate{
		Statement:   statement,
		Explanation: extractExplanation(raw),
	}, nil
}

// sqlLeadingKeywords are the verbs a statement can plausibly begin with.
// Deliberately wider than what the validator accepts: a generated DROP must
// reach the validator and be rejected as unsafe, while a prose refusal is a
// malformed generation, not an unsafe statement.
var sqlLeadingKeywords = map[string]struct{}{
	"select": {}, "with": {}, "insert": {}, "update": {}, "delete": {},
	"drop": {}, "alter": {}, "create": {}, "truncate": {}, "grant": {},
	"revoke": {}, "explain": {}, "copy": {}, "show": {}, "values": {},
}

// leadsWithSQL reports whether the text opens with a SQL keyword
func leadsWithSQL(statement string) bool {
	var word strings.Builder
	for _, r := range strings.ToLower(statement) {
		if r < 'a' || r > 'z' {
			break
		}
		word.WriteRune(r)
	}
	_, ok := sqlLeadingKeywords[word.String()]
	return ok
}

// extractStatement pulls the statement text out of the response body
func extractStatement(raw string) string {
	// Fenced block: ```sql ... ``` or plain ``` ... ```
	lower := strings.ToLower(raw)
	if start := strings.Index(lower, "```sql"); start != -1 {
		body := raw[start+len("```sql"):]
		if end := strings.Index(body, "```"); end != -1 {
			return strings.TrimSpace(body[:end])
		}
		return strings.TrimSpace(body)
	}
	if start := strings.Index(raw, "```"); start != -1 {
		body := raw[start+len("```"):]
		if end := strings.Index(body, "```"); end != -1 {
			return strings.TrimSpace(body[:end])
		}
		return strings.TrimSpace(body)
	}

	// "SQL:" section up to the explanation marker or end of text
	if start := sectionIndex(lower, "sql:"); start != -1 {
		body := raw[start+len("sql:"):]
		if end := sectionIndex(strings.ToLower(body), "explanation:"); end != -1 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}

	// Response that leads with the statement itself
	if end := sectionIndex(lower, "explanation:"); end != -1 {
		return strings.TrimSpace(raw[:end])
	}
	return raw
}

// extractExplanation pulls the explanation section, empty if absent
func extractExplanation(raw string) string {
	lower := strings.ToLower(raw)
	idx := sectionIndex(lower, "explanation:")
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(raw[idx+len("explanation:"):])
}

// sectionIndex finds a marker at the start of a line, so the word
// "explanation" inside SQL text does not split the response
func sectionIndex(lower, marker string) int {
	offset := 0
	for {
		idx := strings.Index(lower[offset:], marker)
		if idx == -1 {
			return -1
		}
		idx += offset
		if idx == 0 || lower[idx-1] == '\n' {
			return idx
		}
		offset = idx + len(marker)
	}
}
