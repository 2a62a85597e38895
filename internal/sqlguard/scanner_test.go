/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package sqlguard

import (
	"reflect"
	"testing"
)

func TestScanTokens(t *testing.T) {
	tests := []struct {
		name string
		stmt string
		want []string
	}{
		{
			name: "keywords and identifiers lowercased",
			stmt: "SELECT Id FROM Users",
			want: []string{"select", "id", "from", "users"},
		},
		{
			name: "quoted literal is opaque",
			stmt: "SELECT x FROM t WHERE m = 'drop table'",
			want: []string{"select", "x", "from", "t", "where", "m"},
		},
		{
			name: "double quoted identifier is opaque",
			stmt: `SELECT "weird col" FROM t`,
			want: []string{"select", "from", "t"},
		},
		{
			name: "underscores and digits stay in one token",
			stmt: "SELECT col_1 FROM t2",
			want: []string{"select", "col_1", "from", "t2"},
		},
		{
			name: "punctuation splits tokens",
			stmt: "SELECT count(*),sum(x) FROM t",
			want: []string{"select", "count", "sum", "x", "from", "t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := scan(tt.stmt)
			got := make([]string, 0, len(res.tokens))
			for _, tok := range res.tokens {
				got = append(got, tok.text)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("scan(%q) tokens = %v, want %v", tt.stmt, got, tt.want)
			}
		})
	}
}

func TestScanTerminators(t *testing.T) {
	tests := []struct {
		name string
		stmt string
		want int
	}{
		{"none", "SELECT 1", 0},
		{"one trailing", "SELECT 1;", 1},
		{"stacked", "SELECT 1; SELECT 2;", 2},
		{"inside single quotes", "SELECT ';' FROM t", 0},
		{"inside double quotes", `SELECT "a;b" FROM t`, 0},
		{"after escaped quote", "SELECT 'it''s;fine' FROM t", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := scan(tt.stmt)
			if len(res.terminators) != tt.want {
				t.Errorf("scan(%q) terminators = %d, want %d", tt.stmt, len(res.terminators), tt.want)
			}
		})
	}
}

func TestScanCommentAndQuoteState(t *testing.T) {
	res := scan("SELECT 1 -- trailing")
	if res.commentOpener != "--" {
		t.Errorf("commentOpener = %q, want --", res.commentOpener)
	}

	res = scan("SELECT /* x */ 1")
	if res.commentOpener != "/*" {
		t.Errorf("commentOpener = %q, want /*", res.commentOpener)
	}

	// Comment markers inside literals are data, not comments
	res = scan("SELECT '--' FROM t WHERE x = '/*'")
	if res.commentOpener != "" {
		t.Errorf("commentOpener = %q, want none inside literals", res.commentOpener)
	}

	res = scan("SELECT 'open")
	if !res.unterminated {
		t.Error("unterminated single quote not detected")
	}

	res = scan("SELECT 'closed'")
	if res.unterminated {
		t.Error("closed literal flagged as unterminated")
	}

	// '' escapes the quote, so the literal runs to the end
	res = scan("SELECT 'it''s")
	if !res.unterminated {
		t.Error("escaped quote should keep the literal open")
	}
}
