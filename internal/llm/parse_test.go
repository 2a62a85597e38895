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
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name            string
		raw             string
		wantStatement   string
		wantExplanation string
	}{
		{
			name:            "fenced sql block with explanation",
			raw:             "```sql\nSELECT * FROM users\n```\nEXPLANATION: Lists all users.",
			wantStatement:   "SELECT * FROM users",
			wantExplanation: "Lists all users.",
		},
		{
			name:          "plain fenced block",
			raw:           "```\nSELECT count(*) FROM orders\n```",
			wantStatement: "SELECT count(*) FROM orders",
		},
		{
			name:          "unclosed fence",
			raw:           "```sql\nSELECT 1",
			wantStatement: "SELECT 1",
		},
		{
			name:            "sql colon section",
			raw:             "SQL: SELECT id FROM t\nEXPLANATION: Gets ids.",
			wantStatement:   "SELECT id FROM t",
			wantExplanation: "Gets ids.",
		},
		{
			name:            "bare statement with explanation",
			raw:             "SELECT name FROM products\nEXPLANATION: Product names.",
			wantStatement:   "SELECT name FROM products",
			wantExplanation: "Product names.",
		},
		{
			name:          "bare statement only",
			raw:           "SELECT 1",
			wantStatement: "SELECT 1",
		},
		{
			name:          "only the first fenced block survives",
			raw:           "```sql\nSELECT 1\n```\nOr alternatively:\n```sql\nSELECT 2\n```",
			wantStatement: "SELECT 1",
		},
		{
			name:          "stacked statements pass through intact",
			raw:           "```sql\nSELECT 1; DROP TABLE users;\n```",
			wantStatement: "SELECT 1; DROP TABLE users;",
		},
		{
			name:            "explanation word mid line does not split",
			raw:             "SELECT explanation_code FROM t\nEXPLANATION: Codes.",
			wantStatement:   "SELECT explanation_code FROM t",
			wantExplanation: "Codes.",
		},
		{
			name:            "markers any casing",
			raw:             "sql: select 1\nExplanation: one",
			wantStatement:   "select 1",
			wantExplanation: "one",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse returned error: %v", err)
			}
			if got.Statement != tt.wantStatement {
				t.Errorf("Statement = %q, want %q", got.Statement, tt.wantStatement)
			}
			if got.Explanation != tt.wantExplanation {
				t.Errorf("Explanation = %q, want %q", got.Explanation, tt.wantExplanation)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n  "},
		{"empty fence", "```sql\n\n```"},
		{"only terminator", ";"},
		{"plain refusal", "I cannot answer that."},
		{"apologetic refusal", "Sorry, this question requires write access to the database."},
		{"fenced prose", "```\nno data is available for this question\n```"},
		{"prose before explanation marker", "That is not something I can query.\nEXPLANATION: none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse(%q) error = %v, want ErrMalformed", tt.raw, err)
			}
		})
	}
}

// stubGenerator returns a canned response or error
type stubGenerator struct {
	response string
	err      error
	calls    int
}

func (s *stubGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.response, s.err
}

func TestGenerate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		g := &stubGenerator{response: "```sql\nSELECT 1\n```\nEXPLANATION: One."}
		got, err := Generate(context.Background(), g, "prompt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Statement != "SELECT 1" || got.Explanation != "One." {
			t.Errorf("got %+v", got)
		}
		if g.calls != 1 {
			t.Errorf("generator called %d times, want 1", g.calls)
		}
	})

	t.Run("transport error wraps as unavailable", func(t *testing.T) {
		g := &stubGenerator{err: fmt.Errorf("connection refused")}
		_, err := Generate(context.Background(), g, "prompt")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("sentinel errors pass through", func(t *testing.T) {
		g := &stubGenerator{err: fmt.Errorf("%w: no choices", ErrMalformed)}
		_, err := Generate(context.Background(), g, "prompt")
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
		if errors.Is(err, ErrUnavailable) {
			t.Error("malformed error must not double as unavailable")
		}
	})
}
