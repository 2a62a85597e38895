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
	"fmt"
	"strings"
)

// UnsafeError reports why a candidate statement was rejected by the gate.
// A rejected statement is explained to the user, never rewritten.
type UnsafeError struct {
	Reason string
}

func (e *UnsafeError) Error() string {
	return "unsafe statement: " + e.Reason
}

// ValidatedStatement is a statement that has passed every validation rule.
// The text field is unexported so the executor can only ever receive a
// statement constructed by Validate.
type ValidatedStatement struct {
	text string
}

// String returns the validated statement text
func (v ValidatedStatement) String() string {
	return v.text
}

// deniedVerbs are rejected unconditionally, independent of the whitelist
var deniedVerbs = []string{
	"insert", "update", "delete", "drop", "alter",
	"truncate", "grant", "revoke", "create",
}

// defaultDeniedFunctions are server-side functions that read files, sleep,
// signal backends, or mutate settings. None have a place in an analytics
// query.
var defaultDeniedFunctions = []string{
	"pg_read_file",
	"pg_read_binary_file",
	"pg_ls_dir",
	"pg_stat_file",
	"lo_import",
	"lo_export",
	"dblink",
	"dblink_exec",
	"pg_sleep",
	"set_config",
	"pg_reload_conf",
	"pg_terminate_backend",
	"pg_cancel_backend",
}

// Validator is the static safety gate applied to every model-produced
// statement before it can reach the warehouse. Validation is denylist plus
// whitelist: an LLM-sourced statement is adversarial by construction, so no
// single technique is trusted.
type Validator struct {
	// DefaultRowLimit is appended as a LIMIT clause when the statement has
	// no row-limiting clause of its own
	DefaultRowLimit int

	// DeniedFunctions overrides the built-in function denylist when non-nil
	DeniedFunctions []string
}

// NewValidator creates a validator with the given default row cap
func NewValidator(defaultRowLimit int) *Validator {
	return &Validator{DefaultRowLimit: defaultRowLimit}
}

// Validate applies the safety rules in order, first failure wins:
//
//  1. single statement only (no stacking via terminators)
//  2. leading verb: hard denylist first, then SELECT/WITH whitelist
//  3. forbidden tokens outside quoted literals: comment openers, write
//     verbs anywhere, denied function names
//  4. append the default row cap when no limiting clause is present
//
// Rule 4 rewrites rather than rejects because it is correctness-preserving.
func (v *Validator) Validate(stmt string) (ValidatedStatement, error) {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return ValidatedStatement{}, &UnsafeError{Reason: "empty statement"}
	}

	res := scan(stmt)

	// Rule 1: single statement. A lone trailing terminator is tolerated and
	// stripped; a terminator followed by anything else is stacking.
	if len(res.terminators) > 0 {
		first := res.terminators[0]
		if len(res.terminators) > 1 || strings.TrimSpace(stmt[first+1:]) != "" {
			return ValidatedStatement{}, &UnsafeError{
				Reason: "multiple statements are not allowed",
			}
		}
		stmt = strings.TrimSpace(stmt[:first])
		res = scan(stmt)
	}

	if len(res.tokens) == 0 {
		return ValidatedStatement{}, &UnsafeError{Reason: "no SQL keyword found"}
	}

	// Rule 2: leading verb. The denylist is checked before the whitelist so
	// an incomplete whitelist can never let a write verb through.
	leading := res.tokens[0].text
	for _, verb := range deniedVerbs {
		if leading == verb {
			return ValidatedStatement{}, &UnsafeError{
				Reason: fmt.Sprintf("%s statements are not allowed", strings.ToUpper(verb)),
			}
		}
	}
	if leading != "select" && leading != "with" {
		return ValidatedStatement{}, &UnsafeError{
			Reason: "statement must begin with SELECT or WITH",
		}
	}

	// Rule 3: forbidden tokens outside quoted literals. Comment openers can
	// truncate a weaker validator's view of the statement; an unterminated
	// quote means the quote state itself was being gamed.
	if res.commentOpener != "" {
		return ValidatedStatement{}, &UnsafeError{
			Reason: fmt.Sprintf("comment sequence %q is not allowed", res.commentOpener),
		}
	}
	if res.unterminated {
		return ValidatedStatement{}, &UnsafeError{Reason: "unterminated quoted literal"}
	}
	for _, t := range res.tokens[1:] {
		for _, verb := range deniedVerbs {
			if t.text == verb {
				return ValidatedStatement{}, &UnsafeError{
					Reason: fmt.Sprintf("%s is not allowed in a read-only query", strings.ToUpper(verb)),
				}
			}
		}
	}
	for _, fn := range v.deniedFunctions() {
		if res.hasToken(fn) {
			return ValidatedStatement{}, &UnsafeError{
				Reason: fmt.Sprintf("function %s is not allowed", fn),
			}
		}
	}

	// Rule 4: bound the result size
	if !v.hasRowLimit(&res) && v.DefaultRowLimit > 0 {
		stmt = fmt.Sprintf("%s LIMIT %d", stmt, v.DefaultRowLimit)
	}

	return ValidatedStatement{text: stmt}, nil
}

// hasRowLimit reports whether the statement already bounds its result,
// either with LIMIT or the standard FETCH FIRST ... ROWS ONLY form
func (v *Validator) hasRowLimit(res *scanResult) bool {
	for i, t := range res.tokens {
		if t.text == "limit" {
			return true
		}
		if t.text == "fetch" && i+1 < len(res.tokens) {
			next := res.tokens[i+1].text
			if next == "first" || next == "next" {
				return true
			}
		}
	}
	return false
}

func (v *Validator) deniedFunctions() []string {
	if v.DeniedFunctions != nil {
		return v.DeniedFunctions
	}
	return defaultDeniedFunctions
}
