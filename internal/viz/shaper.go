/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package viz

import (
	"fmt"
	"strings"
	"time"

	"pgedge-nlq/internal/warehouse"
)

// columnKind classifies a result column by its values
type columnKind int

const (
	kindEmpty columnKind = iota
	kindNumeric
	kindTime
	kindCategorical
)

// proportionWords in the question signal that a categorical split should be
// drawn as shares of a whole rather than side-by-side bars
var proportionWords = []string{
	"proportion", "share", "percentage", "percent", "breakdown", "distribution",
}

// Shaped is the presentation decision for one query result
type Shaped struct {
	QueryType string     // "table" or "chart"
	Chart     *ChartSpec // nil when QueryType is "table"
}

// Shaper decides whether a result renders as a table or a chart and derives
// the chart spec. Inference is purely rule-based; the same result and
// question always shape identically.
type Shaper struct {
	// MaxCategoryValues is the most distinct category values a bar or pie
	// chart will carry before falling back to a table
	MaxCategoryValues int
}

// NewShaper creates a shaper with the given category cap
func NewShaper(maxCategoryValues int) *Shaper {
	return &Shaper{MaxCategoryValues: maxCategoryValues}
}

// Shape applies the inference rules in order; the first matching rule wins:
//
//  1. two columns, one categorical + one numeric, few distinct categories:
//     bar, or pie when the question asks for a proportion
//  2. one time column + one numeric column: line, ordered by time
//  3. two numeric columns: scatter
//  4. anything else: table only
func (s *Shaper) Shape(result *warehouse.QueryResult, question string) Shaped {
	table := Shaped{QueryType: "table"}
	if result == nil || len(result.Rows) == 0 || len(result.Columns) != 2 {
		return table
	}

	first := s.classify(result, result.Columns[0])
	second := s.classify(result, result.Columns[1])

	// Rule 1: categorical + numeric
	if catCol, numCol, ok := pair(result.Columns, first, second, kindCategorical, kindNumeric); ok {
		labels, values := s.aggregate(result, catCol, numCol)
		if len(labels) <= s.maxCategories() {
			chartType := ChartBar
			if hasProportionIntent(question) {
				chartType = ChartPie
			}
			return Shaped{QueryType: "chart", Chart: s.chart(chartType, labels, values, catCol, numCol, result)}
		}
		return table
	}

	// Rule 2: time + numeric
	if timeCol, numCol, ok := pair(result.Columns, first, second, kindTime, kindNumeric); ok {
		labels, values := s.timeSeries(result, timeCol, numCol)
		return Shaped{QueryType: "chart", Chart: s.chart(ChartLine, labels, values, timeCol, numCol, result)}
	}

	// Rule 3: numeric + numeric
	if first == kindNumeric && second == kindNumeric {
		xCol, yCol := result.Columns[0], result.Columns[1]
		spec := &ChartSpec{
			ChartType:   ChartScatter,
			XLabel:      xCol,
			YLabel:      yCol,
			Title:       chartTitle(ChartScatter),
			Description: fmt.Sprintf("Showing %d records", len(result.Rows)),
		}
		for _, row := range result.Rows {
			x, _ := toFloat(row[xCol])
			y, _ := toFloat(row[yCol])
			spec.XValues = append(spec.XValues, x)
			spec.YValues = append(spec.YValues, y)
		}
		return Shaped{QueryType: "chart", Chart: spec}
	}

	return table
}

// chart packages labels and values into a spec
func (s *Shaper) chart(chartType ChartType, labels []string, values []float64, xLabel, yLabel string, result *warehouse.QueryResult) *ChartSpec {
	return &ChartSpec{
		ChartType:   chartType,
		Labels:      labels,
		Values:      values,
		XLabel:      xLabel,
		YLabel:      yLabel,
		Title:       chartTitle(chartType),
		Description: fmt.Sprintf("Showing %d records", len(result.Rows)),
	}
}

// classify inspects every non-nil value in the column: numeric only if all
// are numeric, time only if all are timestamps, categorical otherwise
func (s *Shaper) classify(result *warehouse.QueryResult, column string) columnKind {
	sawValue := false
	numeric := true
	isTime := true

	for _, row := range result.Rows {
		v := row[column]
		if v == nil {
			continue
		}
		sawValue = true
		if _, ok := toFloat(v); !ok {
			numeric = false
		}
		if _, ok := toTime(v, column); !ok {
			isTime = false
		}
	}

	switch {
	case !sawValue:
		return kindEmpty
	case numeric:
		return kindNumeric
	case isTime:
		return kindTime
	default:
		return kindCategorical
	}
}

// aggregate folds rows into label/value pairs, summing duplicate categories
// and keeping first-appearance order
func (s *Shaper) aggregate(result *warehouse.QueryResult, catCol, numCol string) ([]string, []float64) {
	var labels []string
	var values []float64
	index := make(map[string]int)

	for _, row := range result.Rows {
		label := labelString(row[catCol])
		value, _ := toFloat(row[numCol])
		if i, ok := index[label]; ok {
			values[i] += value
			continue
		}
		index[label] = len(labels)
		labels = append(labels, label)
		values = append(values, value)
	}
	return labels, values
}

// timeSeries orders rows by the time column ascending and formats labels
func (s *Shaper) timeSeries(result *warehouse.QueryResult, timeCol, numCol string) ([]string, []float64) {
	type point struct {
		at    time.Time
		value float64
	}
	points := make([]point, 0, len(result.Rows))
	for _, row := range result.Rows {
		at, _ := toTime(row[timeCol], timeCol)
		value, _ := toFloat(row[numCol])
		points = append(points, point{at: at, value: value})
	}

	// Insertion sort keeps equal timestamps in row order
	for i := 1; i < len(points); i++ {
		for j := i; j > 0 && points[j].at.Before(points[j-1].at); j-- {
			points[j], points[j-1] = points[j-1], points[j]
		}
	}

	labels := make([]string, len(points))
	values := make([]float64, len(points))
	for i, pt := range points {
		labels[i] = pt.at.Format("2006-01-02")
		values[i] = pt.value
	}
	return labels, values
}

func (s *Shaper) maxCategories() int {
	if s.MaxCategoryValues > 0 {
		return s.MaxCategoryValues
	}
	return 12
}

// pair matches two classified columns against a wanted kind pair in either
// column order, returning the matching column names
func pair(columns []string, first, second columnKind, wantA, wantB columnKind) (string, string, bool) {
	if first == wantA && second == wantB {
		return columns[0], columns[1], true
	}
	if first == wantB && second == wantA {
		return columns[1], columns[0], true
	}
	return "", "", false
}

// hasProportionIntent reports whether the question asks for shares of a whole
func hasProportionIntent(question string) bool {
	lower := strings.ToLower(question)
	for _, word := range proportionWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// toFloat converts numeric native values; booleans are not numbers
func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// timestampFormats covers the shapes warehouse backends hand back for
// date/time columns that arrive as strings
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeNameHints mirror the original heuristic: a string column only counts
// as a time axis when its name suggests one
var timeNameHints = []string{"date", "time", "day", "month", "week", "year", "created", "updated"}

// toTime converts native timestamps, or timestamp-shaped strings when the
// column name suggests a time axis
func toTime(v interface{}, column string) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}

	named := false
	lower := strings.ToLower(column)
	for _, hint := range timeNameHints {
		if strings.Contains(lower, hint) {
			named = true
			break
		}
	}
	if !named {
		return time.Time{}, false
	}

	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// labelString renders a category value for chart labels
func labelString(v interface{}) string {
	if v == nil {
		return "Unknown"
	}
	if t, ok := v.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return fmt.Sprintf("%v", v)
}

// chartTitle builds the default title for a chart type
func chartTitle(chartType ChartType) string {
	name := string(chartType)
	return strings.ToUpper(name[:1]) + name[1:] + " Chart"
}
