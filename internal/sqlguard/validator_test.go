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
	"errors"
	"strings"
	"testing"
)

func TestValidateAcceptsReadOnlyStatements(t *testing.T) {
	v := NewValidator(500)

	tests := []struct {
		name  string
		stmt  string
		want  string
	}{
		{
			name: "plain select gets a limit",
			stmt: "SELECT id, name FROM users",
			want: "SELECT id, name FROM users LIMIT 500",
		},
		{
			name: "existing limit preserved",
			stmt: "SELECT id FROM users LIMIT 10",
			want: "SELECT id FROM users LIMIT 10",
		},
		{
			name: "fetch first counts as a limit",
			stmt: "SELECT id FROM users FETCH FIRST 10 ROWS ONLY",
			want: "SELECT id FROM users FETCH FIRST 10 ROWS ONLY",
		},
		{
			name: "with cte allowed",
			stmt: "WITH t AS (SELECT 1 AS n) SELECT n FROM t",
			want: "WITH t AS (SELECT 1 AS n) SELECT n FROM t LIMIT 500",
		},
		{
			name: "lone trailing semicolon stripped",
			stmt: "SELECT 1;",
			want: "SELECT 1 LIMIT 500",
		},
		{
			name: "trailing semicolon with whitespace",
			stmt: "SELECT 1 ;   ",
			want: "SELECT 1 LIMIT 500",
		},
		{
			name: "verb inside string literal is fine",
			stmt: "SELECT * FROM logs WHERE message = 'DROP TABLE users'",
			want: "SELECT * FROM logs WHERE message = 'DROP TABLE users' LIMIT 500",
		},
		{
			name: "verb as substring of identifier is fine",
			stmt: "SELECT updated_at FROM deletions",
			want: "SELECT updated_at FROM deletions LIMIT 500",
		},
		{
			name: "escaped quote keeps literal open",
			stmt: "SELECT * FROM t WHERE name = 'O''Brien insert here'",
			want: "SELECT * FROM t WHERE name = 'O''Brien insert here' LIMIT 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(tt.stmt)
			if err != nil {
				t.Fatalf("Validate(%q) returned error: %v", tt.stmt, err)
			}
			if got.String() != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.stmt, got.String(), tt.want)
			}
		})
	}
}

func TestValidateRejectsUnsafeStatements(t *testing.T) {
	v := NewValidator(500)

	tests := []struct {
		name   string
		stmt   string
		reason string // substring expected in the rejection reason
	}{
		{
			name:   "empty statement",
			stmt:   "   ",
			reason: "empty",
		},
		{
			name:   "stacked statements",
			stmt:   "SELECT 1; DROP TABLE users",
			reason: "multiple statements",
		},
		{
			name:   "stacked statements both selects",
			stmt:   "SELECT 1; SELECT 2",
			reason: "multiple statements",
		},
		{
			name:   "leading insert",
			stmt:   "INSERT INTO users VALUES (1)",
			reason: "INSERT",
		},
		{
			name:   "leading delete lowercase",
			stmt:   "delete from users",
			reason: "DELETE",
		},
		{
			name:   "leading drop mixed case",
			stmt:   "DrOp TaBlE users",
			reason: "DROP",
		},
		{
			name:   "leading verb with extra whitespace",
			stmt:   "   \n\t UPDATE users SET x = 1",
			reason: "UPDATE",
		},
		{
			name:   "not whitelisted verb",
			stmt:   "EXPLAIN SELECT 1",
			reason: "must begin with SELECT or WITH",
		},
		{
			name:   "copy not whitelisted",
			stmt:   "COPY users TO '/tmp/out'",
			reason: "must begin with SELECT or WITH",
		},
		{
			name:   "line comment",
			stmt:   "SELECT 1 -- hidden",
			reason: "comment",
		},
		{
			name:   "block comment",
			stmt:   "SELECT /* hidden */ 1",
			reason: "comment",
		},
		{
			name:   "unterminated single quote",
			stmt:   "SELECT * FROM t WHERE name = 'broken",
			reason: "unterminated",
		},
		{
			name:   "unterminated double quote",
			stmt:   `SELECT "col FROM t`,
			reason: "unterminated",
		},
		{
			name:   "write verb mid statement",
			stmt:   "SELECT * FROM users WHERE id IN (DELETE FROM audit RETURNING id)",
			reason: "DELETE",
		},
		{
			name:   "uppercase write verb mid statement",
			stmt:   "WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x",
			reason: "INSERT",
		},
		{
			name:   "denied function pg_sleep",
			stmt:   "SELECT pg_sleep(10)",
			reason: "pg_sleep",
		},
		{
			name:   "denied function file read",
			stmt:   "SELECT pg_read_file('/etc/passwd')",
			reason: "pg_read_file",
		},
		{
			name:   "denied function any casing",
			stmt:   "SELECT PG_TERMINATE_BACKEND(1234)",
			reason: "pg_terminate_backend",
		},
		{
			name:   "dblink",
			stmt:   "SELECT * FROM dblink('conn', 'select 1') AS t(a int)",
			reason: "dblink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.stmt)
			if err == nil {
				t.Fatalf("Validate(%q) accepted an unsafe statement", tt.stmt)
			}
			var unsafeErr *UnsafeError
			if !errors.As(err, &unsafeErr) {
				t.Fatalf("Validate(%q) error type = %T, want *UnsafeError", tt.stmt, err)
			}
			if !strings.Contains(unsafeErr.Reason, tt.reason) {
				t.Errorf("Validate(%q) reason = %q, want substring %q", tt.stmt, unsafeErr.Reason, tt.reason)
			}
		})
	}
}

func TestValidateDenylistBeforeWhitelist(t *testing.T) {
	// A denied verb is rejected as a denied verb even though it would also
	// fail the whitelist; the message must name the verb.
	v := NewValidator(100)
	_, err := v.Validate("TRUNCATE users")
	var unsafeErr *UnsafeError
	if !errors.As(err, &unsafeErr) {
		t.Fatalf("expected *UnsafeError, got %v", err)
	}
	if !strings.Contains(unsafeErr.Reason, "TRUNCATE") {
		t.Errorf("reason = %q, want the denied verb named", unsafeErr.Reason)
	}
}

func TestValidateZeroLimitDisablesAppending(t *testing.T) {
	v := NewValidator(0)
	got, err := v.Validate("SELECT id FROM users")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "SELECT id FROM users" {
		t.Errorf("got %q, want statement unchanged", got.String())
	}
}

func TestValidateCustomDeniedFunctions(t *testing.T) {
	v := NewValidator(100)
	v.DeniedFunctions = []string{"my_bad_fn"}

	if _, err := v.Validate("SELECT my_bad_fn()"); err == nil {
		t.Error("custom denied function was accepted")
	}
	// The override replaces the default list entirely
	if _, err := v.Validate("SELECT pg_sleep(1)"); err != nil {
		t.Errorf("pg_sleep should pass with a custom denylist, got %v", err)
	}
}
