/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pgedge-nlq/internal/logging"
	"pgedge-nlq/internal/schema"
	"pgedge-nlq/internal/sqlguard"
)

// Metabase talks to a Metabase-style warehouse API: schema metadata comes
// from the database metadata endpoint, queries run as native statements via
// the dataset endpoint. The session token is received from the caller's
// session layer and passed through; it is never minted here.
type Metabase struct {
	baseURL      string
	databaseID   int
	sessionToken string
	httpClient   *http.Client
}

// NewMetabase creates a Metabase warehouse client
func NewMetabase(baseURL string, databaseID int, sessionToken string) *Metabase {
	return &Metabase{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		databaseID:   databaseID,
		sessionToken: sessionToken,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
}

// metabase JSON shapes, trimmed to the fields this client reads

type mbDatabase struct {
	Name   string `json:"name"`
	Engine string `json:"engine"`
}

type mbMetadata struct {
	Tables []mbTable `json:"tables"`
}

type mbTable struct {
	Name   string    `json:"name"`
	Schema string    `json:"schema"`
	Rows   int64     `json:"rows"`
	Fields []mbField `json:"fields"`
}

type mbField struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	DatabaseType     string `json:"database_type"`
	BaseType         string `json:"base_type"`
	DatabaseRequired bool   `json:"database_required"`
	SemanticType     string `json:"semantic_type"`
	FKTargetFieldID  int64  `json:"fk_target_field_id"`
}

type mbDatasetRequest struct {
	Database int            `json:"database"`
	Type     string         `json:"type"`
	Native   mbNativeClause `json:"native"`
}

type mbNativeClause struct {
	Query string `json:"query"`
}

type mbDatasetResponse struct {
	Status string        `json:"status"`
	Error  string        `json:"error"`
	Data   mbDatasetData `json:"data"`
}

type mbDatasetData struct {
	Cols []mbDatasetCol  `json:"cols"`
	Rows [][]interface{} `json:"rows"`
}

type mbDatasetCol struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	BaseType    string `json:"base_type"`
}

// FetchSchema retrieves database info and table metadata and flattens them
// into a snapshot. Foreign key targets arrive as field IDs, so fields are
// indexed in a first pass and references resolved in a second.
func (m *Metabase) FetchSchema(ctx context.Context) (*schema.Snapshot, error) {
	var db mbDatabase
	if err := m.getJSON(ctx, fmt.Sprintf("%s/api/database/%d", m.baseURL, m.databaseID), &db); err != nil {
		return nil, err
	}

	var meta mbMetadata
	if err := m.getJSON(ctx, fmt.Sprintf("%s/api/database/%d/metadata", m.baseURL, m.databaseID), &meta); err != nil {
		return nil, err
	}

	// First pass: field ID -> (table, column)
	type fieldRef struct {
		table  string
		column string
	}
	fieldIndex := make(map[int64]fieldRef)
	for _, t := range meta.Tables {
		for _, f := range t.Fields {
			if f.ID != 0 {
				fieldIndex[f.ID] = fieldRef{table: t.Name, column: f.Name}
			}
		}
	}

	snap := &schema.Snapshot{
		DatabaseName: db.Name,
		DatabaseType: db.Engine,
		Tables:       make([]schema.Table, 0, len(meta.Tables)),
	}

	for _, t := range meta.Tables {
		table := schema.Table{
			Name:     t.Name,
			RowCount: t.Rows,
			Columns:  make([]schema.Column, 0, len(t.Fields)),
		}
		for _, f := range t.Fields {
			dataType := f.DatabaseType
			if dataType == "" {
				dataType = f.BaseType
			}
			table.Columns = append(table.Columns, schema.Column{
				Name:     f.Name,
				DataType: dataType,
				Nullable: !f.DatabaseRequired,
			})
			if f.SemanticType == "type/FK" && f.FKTargetFieldID != 0 {
				if ref, ok := fieldIndex[f.FKTargetFieldID]; ok {
					table.ForeignKeys = append(table.ForeignKeys, schema.ForeignKey{
						Column:           f.Name,
						ReferencedTable:  ref.table,
						ReferencedColumn: ref.column,
					})
				}
			}
		}
		snap.Tables = append(snap.Tables, table)
	}

	logging.Debug("metabase schema fetched", "tables", len(snap.Tables))
	return snap, nil
}

// Run executes one validated statement via the dataset endpoint
func (m *Metabase) Run(ctx context.Context, stmt sqlguard.ValidatedStatement, timeout time.Duration, rowLimit int) (*QueryResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reqBody, err := json.Marshal(mbDatasetRequest{
		Database: m.databaseID,
		Type:     "native",
		Native:   mbNativeClause{Query: stmt.String()},
	})
	if err != nil {
		return nil, &RejectedError{Detail: fmt.Sprintf("failed to encode query: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/dataset", bytes.NewReader(reqBody))
	if err != nil {
		return nil, &RejectedError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Metabase-Session", m.sessionToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &RejectedError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RejectedError{Detail: err.Error()}
	}

	// 200 is an immediate result, 202 an async one that still carries data
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &RejectedError{Detail: fmt.Sprintf("warehouse returned status %d", resp.StatusCode)}
	}

	var dataset mbDatasetResponse
	if err := json.Unmarshal(body, &dataset); err != nil {
		return nil, &RejectedError{Detail: fmt.Sprintf("unparseable warehouse response: %v", err)}
	}
	if dataset.Status == "failed" || dataset.Error != "" {
		detail := dataset.Error
		if detail == "" {
			detail = "query failed"
		}
		return nil, &RejectedError{Detail: detail}
	}

	columns := make([]string, 0, len(dataset.Data.Cols))
	for _, col := range dataset.Data.Cols {
		name := col.Name
		if name == "" {
			name = col.DisplayName
		}
		columns = append(columns, name)
	}

	rows := make([]map[string]interface{}, 0, len(dataset.Data.Rows))
	for _, raw := range dataset.Data.Rows {
		if rowLimit > 0 && len(rows) >= rowLimit {
			break
		}
		row := make(map[string]interface{}, len(columns))
		for i, name := range columns {
			if i < len(raw) {
				row[name] = raw[i]
			}
		}
		rows = append(rows, row)
	}

	return &QueryResult{
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

// getJSON fetches a metadata endpoint; any failure wraps
// schema.ErrUnavailable so the pipeline fails fast before prompting.
func (m *Metabase) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
	}
	req.Header.Set("X-Metabase-Session", m.sessionToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: metadata endpoint returned status %d", schema.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: unparseable metadata: %v", schema.ErrUnavailable, err)
	}
	return nil
}
