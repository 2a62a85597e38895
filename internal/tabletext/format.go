/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

// Package tabletext renders query results as plain-text tables for the
// interactive client.
package tabletext

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pgedge-nlq/internal/warehouse"
)

// FormatValue converts a result cell into display text
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	case float64:
		// JSON numbers decode as float64; print integers without the
		// trailing .000000
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "t"
		}
		return "f"
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Render produces an aligned text table from a query result, truncated to
// the given terminal width (0 disables truncation)
func Render(result *warehouse.QueryResult, width int) string {
	if result == nil || len(result.Columns) == 0 {
		return "(no results)\n"
	}

	cols := result.Columns
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}

	cells := make([][]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		line := make([]string, len(cols))
		for i, c := range cols {
			text := FormatValue(row[c])
			if w := len(text); w > widths[i] {
				widths[i] = w
			}
			line[i] = text
		}
		cells = append(cells, line)
	}

	var sb strings.Builder
	writeRow := func(line []string) {
		for i, text := range line {
			if i > 0 {
				sb.WriteString(" | ")
			}
			sb.WriteString(text)
			if pad := widths[i] - len(text); pad > 0 && i < len(line)-1 {
				sb.WriteString(strings.Repeat(" ", pad))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(cols)
	for i, w := range widths {
		if i > 0 {
			sb.WriteString("-+-")
		}
		sb.WriteString(strings.Repeat("-", w))
	}
	sb.WriteString("\n")
	for _, line := range cells {
		writeRow(line)
	}
	sb.WriteString(fmt.Sprintf("(%d rows)\n", result.RowCount))

	if width <= 0 {
		return sb.String()
	}
	return truncateLines(sb.String(), width)
}

// truncateLines clips each line to the terminal width
func truncateLines(s string, width int) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if len(line) > width {
			lines[i] = line[:width-1] + "…"
		}
	}
	return strings.Join(lines, "\n")
}
