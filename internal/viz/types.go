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

// ChartType identifies the visualization family for a shaped result
type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartPie     ChartType = "pie"
	ChartLine    ChartType = "line"
	ChartScatter ChartType = "scatter"
)

// ChartSpec is a structured description of a visualization derived
// deterministically from a query result; it is never hand-authored. Bar, pie
// and line charts use Labels/Values; scatter uses XValues/YValues. Axis
// label abbreviation belongs to the rendering layer, not here.
type ChartSpec struct {
	ChartType   ChartType `json:"chart_type"`
	Labels      []string  `json:"labels,omitempty"`
	Values      []float64 `json:"values,omitempty"`
	XValues     []float64 `json:"x_values,omitempty"`
	YValues     []float64 `json:"y_values,omitempty"`
	XLabel      string    `json:"x_label,omitempty"`
	YLabel      string    `json:"y_label,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
}
