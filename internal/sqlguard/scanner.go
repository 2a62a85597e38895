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

import "strings"

// scanState is the state of the quote/comment automaton. Keyword and
// terminator checks only apply in stateNormal; quoted literals are opaque.
type scanState int

const (
	stateNormal scanState = iota
	stateSingleQuote
	stateDoubleQuote
	stateLineComment
	stateBlockComment
)

// token is a bare identifier or keyword found outside quotes and comments
type token struct {
	text string // lowercased
	pos  int    // byte offset of the first character
}

// scanResult is one full pass of the automaton over a statement
type scanResult struct {
	tokens []token

	// terminators holds byte offsets of semicolons seen in stateNormal
	terminators []int

	// commentOpener is "--" or "/*" if one was seen outside quotes, else ""
	commentOpener string
	commentPos    int

	// unterminated is true if the input ended inside a quoted literal
	unterminated bool
}

// scan walks the statement byte by byte tracking quote and comment state.
// Single quotes follow SQL escaping rules: a doubled quote ('') inside a
// single-quoted literal does not close it. Comments are tracked to
// completion even though the validator rejects their openers, so the
// automaton's transitions can be exercised on their own.
func scan(stmt string) scanResult {
	var res scanResult
	state := stateNormal
	tokenStart := -1

	endToken := func(end int) {
		if tokenStart >= 0 {
			res.tokens = append(res.tokens, token{
				text: strings.ToLower(stmt[tokenStart:end]),
				pos:  tokenStart,
			})
			tokenStart = -1
		}
	}

	for i := 0; i < len(stmt); i++ {
		ch := stmt[i]
		switch state {
		case stateNormal:
			switch {
			case ch == '\'':
				endToken(i)
				state = stateSingleQuote
			case ch == '"':
				endToken(i)
				state = stateDoubleQuote
			case ch == ';':
				endToken(i)
				res.terminators = append(res.terminators, i)
			case ch == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
				endToken(i)
				if res.commentOpener == "" {
					res.commentOpener = "--"
					res.commentPos = i
				}
				state = stateLineComment
				i++
			case ch == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
				endToken(i)
				if res.commentOpener == "" {
					res.commentOpener = "/*"
					res.commentPos = i
				}
				state = stateBlockComment
				i++
			case isWordByte(ch):
				if tokenStart < 0 {
					tokenStart = i
				}
			default:
				endToken(i)
			}

		case stateSingleQuote:
			if ch == '\'' {
				if i+1 < len(stmt) && stmt[i+1] == '\'' {
					i++ // escaped quote, literal continues
				} else {
					state = stateNormal
				}
			}

		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			}

		case stateLineComment:
			if ch == '\n' {
				state = stateNormal
			}

		case stateBlockComment:
			if ch == '*' && i+1 < len(stmt) && stmt[i+1] == '/' {
				state = stateNormal
				i++
			}
		}
	}
	endToken(len(stmt))

	if state == stateSingleQuote || state == stateDoubleQuote {
		res.unterminated = true
	}
	return res
}

// isWordByte reports whether ch can be part of a SQL identifier or keyword
func isWordByte(ch byte) bool {
	return ch == '_' || ch == '$' ||
		(ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9')
}

// hasToken reports whether the scan saw the given lowercase bare token
func (r *scanResult) hasToken(text string) bool {
	for _, t := range r.tokens {
		if t.text == text {
			return true
		}
	}
	return false
}
