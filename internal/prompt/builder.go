/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package prompt

import (
	"fmt"
	"sort"
	"strings"

	"pgedge-nlq/internal/schema"
)

// Exchange is one prior question/statement pair carried into the prompt as
// session context
type Exchange struct {
	Question  string
	Statement string
}

// Builder composes a bounded natural-language-to-SQL prompt from the user
// question, the schema snapshot and recent session history. Identical inputs
// always produce identical prompts, so generator behavior is reproducible
// against a stubbed generator.
type Builder struct {
	// MaxTables bounds how many tables are described in the prompt
	MaxTables int

	// MaxColumnsPerTable bounds the column list per table
	MaxColumnsPerTable int

	// MaxHistory bounds how many prior exchanges are included
	MaxHistory int
}

// NewBuilder creates a builder with the given bounds
func NewBuilder(maxTables, maxColumnsPerTable, maxHistory int) *Builder {
	return &Builder{
		MaxTables:          maxTables,
		MaxColumnsPerTable: maxColumnsPerTable,
		MaxHistory:         maxHistory,
	}
}

// Build composes the prompt. When the schema exceeds the table bound, tables
// whose name or column names lexically overlap with tokens of the question
// come first (score descending, declaration order as tie-break); the
// remaining budget is filled in declaration order.
func (b *Builder) Build(question string, snap *schema.Snapshot, history []Exchange) string {
	var sb strings.Builder

	sb.WriteString("You are an expert SQL analyst. Given the database schema below, ")
	sb.WriteString("generate a single read-only SQL query that answers the question.\n\n")

	fmt.Fprintf(&sb, "Database: %s (%s)\n\nSchema:\n", snap.DatabaseName, snap.DatabaseType)

	for _, t := range b.selectTables(question, snap) {
		b.writeTable(&sb, t)
	}

	if n := len(snap.Tables) - b.maxTables(); n > 0 {
		fmt.Fprintf(&sb, "\n(%d further tables omitted)\n", n)
	}

	if len(history) > 0 {
		sb.WriteString("\nEarlier in this session:\n")
		start := 0
		if b.MaxHistory > 0 && len(history) > b.MaxHistory {
			start = len(history) - b.MaxHistory
		}
		for _, ex := range history[start:] {
			fmt.Fprintf(&sb, "Q: %s\nSQL: %s\n", ex.Question, ex.Statement)
		}
	}

	fmt.Fprintf(&sb, "\nQuestion: %s\n\n", question)

	sb.WriteString(`Requirements:
1. Generate exactly one SELECT (or WITH) statement using only tables and columns from the schema above
2. Never generate INSERT, UPDATE, DELETE, DDL or any other writing statement
3. Use JOINs that follow the foreign keys shown in the schema
4. Handle NULL values appropriately
5. Add a LIMIT clause when the result could be large
6. Do not use comments or semicolons inside the query

Format your response as:

SQL:
` + "```sql\nYOUR_QUERY_HERE\n```" + `

EXPLANATION:
One short paragraph describing what the query does.
`)

	return sb.String()
}

// selectTables ranks and bounds the snapshot's tables for the prompt
func (b *Builder) selectTables(question string, snap *schema.Snapshot) []*schema.Table {
	tokens := tokenize(question)

	type ranked struct {
		table *schema.Table
		score int
		order int
	}

	all := make([]ranked, len(snap.Tables))
	for i := range snap.Tables {
		t := &snap.Tables[i]
		score := 0
		for tok := range tokens {
			if strings.Contains(strings.ToLower(t.Name), tok) {
				score += 2
			}
			for _, c := range t.Columns {
				if strings.Contains(strings.ToLower(c.Name), tok) {
					score++
				}
			}
		}
		all[i] = ranked{table: t, score: score, order: i}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].order < all[j].order
	})

	limit := b.maxTables()
	if limit > len(all) {
		limit = len(all)
	}

	out := make([]*schema.Table, 0, limit)
	for _, r := range all[:limit] {
		out = append(out, r.table)
	}
	return out
}

// writeTable renders one table declaration into the prompt
func (b *Builder) writeTable(sb *strings.Builder, t *schema.Table) {
	fmt.Fprintf(sb, "\n%s", t.Name)
	if t.RowCount > 0 {
		fmt.Fprintf(sb, " (~%d rows)", t.RowCount)
	}
	sb.WriteString("\n")
	if t.Description != "" {
		fmt.Fprintf(sb, "  %s\n", t.Description)
	}

	cols := t.Columns
	truncated := 0
	if b.MaxColumnsPerTable > 0 && len(cols) > b.MaxColumnsPerTable {
		truncated = len(cols) - b.MaxColumnsPerTable
		cols = cols[:b.MaxColumnsPerTable]
	}
	for _, c := range cols {
		fmt.Fprintf(sb, "  - %s (%s)", c.Name, c.DataType)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		sb.WriteString("\n")
	}
	if truncated > 0 {
		fmt.Fprintf(sb, "  ... and %d more columns\n", truncated)
	}

	for _, fk := range t.ForeignKeys {
		fmt.Fprintf(sb, "  FK: %s -> %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
	}
}

func (b *Builder) maxTables() int {
	if b.MaxTables > 0 {
		return b.MaxTables
	}
	return 25
}

// tokenize lowercases the question and splits it into alphanumeric tokens,
// dropping short words that would match everything
func tokenize(question string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var current strings.Builder
	flush := func() {
		if current.Len() > 2 {
			tokens[current.String()] = struct{}{}
		}
		current.Reset()
	}
	for _, r := range strings.ToLower(question) {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
