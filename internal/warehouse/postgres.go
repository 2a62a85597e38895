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
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"pgedge-nlq/internal/logging"
	"pgedge-nlq/internal/schema"
	"pgedge-nlq/internal/sqlguard"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres runs directly against a PostgreSQL warehouse through a pgx pool.
// Every session runs with default_transaction_read_only=on, a second line of
// defense behind the validator.
type Postgres struct {
	pool   *pgxpool.Pool
	dbName string
}

// NewPostgres connects to the warehouse with the given connection string
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	enhanced, err := addApplicationName(connStr, "pgEdge NLQ Service")
	if err != nil {
		return nil, fmt.Errorf("unable to enhance connection string: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(enhanced)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{
		pool:   pool,
		dbName: poolConfig.ConnConfig.Database,
	}, nil
}

// addApplicationName adds application_name to a connection string URL
func addApplicationName(connStr, appName string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("invalid connection string: %w", err)
	}
	query := u.Query()
	if !query.Has("application_name") {
		query.Set("application_name", appName)
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// Close releases the connection pool
func (p *Postgres) Close() {
	p.pool.Close()
}

// FetchSchema loads table, column and foreign key metadata from pg_catalog
// and flattens it into a snapshot. Two queries: one for columns, one for
// foreign keys.
func (p *Postgres) FetchSchema(ctx context.Context) (*schema.Snapshot, error) {
	started := time.Now()

	columnQuery := `
		SELECT
			c.relname AS table_name,
			COALESCE(obj_description(c.oid), '') AS table_description,
			a.attname AS column_name,
			pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
			NOT a.attnotnull AS is_nullable,
			GREATEST(c.reltuples::bigint, 0) AS row_estimate
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid
		WHERE c.relkind IN ('r', 'v', 'm')
			AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
			AND a.attnum > 0
			AND NOT a.attisdropped
		ORDER BY c.relname, a.attnum
	`

	rows, err := p.pool.Query(ctx, columnQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
	}
	defer rows.Close()

	snap := &schema.Snapshot{
		DatabaseName: p.dbName,
		DatabaseType: "postgres",
	}
	index := make(map[string]int)

	for rows.Next() {
		var tableName, tableDesc, columnName, dataType string
		var nullable bool
		var rowEstimate int64
		if err := rows.Scan(&tableName, &tableDesc, &columnName, &dataType, &nullable, &rowEstimate); err != nil {
			return nil, fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
		}

		i, ok := index[tableName]
		if !ok {
			i = len(snap.Tables)
			index[tableName] = i
			snap.Tables = append(snap.Tables, schema.Table{
				Name:        tableName,
				Description: tableDesc,
				RowCount:    rowEstimate,
			})
		}
		snap.Tables[i].Columns = append(snap.Tables[i].Columns, schema.Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: nullable,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
	}

	fkQuery := `
		SELECT
			c.relname AS table_name,
			a.attname AS column_name,
			fc.relname AS referenced_table,
			fa.attname AS referenced_column
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class fc ON fc.oid = con.confrelid
		JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS cols(col_num, ref_num, ord) ON true
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = cols.col_num
		JOIN pg_attribute fa ON fa.attrelid = fc.oid AND fa.attnum = cols.ref_num
		WHERE con.contype = 'f'
			AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY c.relname, cols.ord
	`

	fkRows, err := p.pool.Query(ctx, fkQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var tableName, columnName, refTable, refColumn string
		if err := fkRows.Scan(&tableName, &columnName, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
		}
		if i, ok := index[tableName]; ok {
			snap.Tables[i].ForeignKeys = append(snap.Tables[i].ForeignKeys, schema.ForeignKey{
				Column:           columnName,
				ReferencedTable:  refTable,
				ReferencedColumn: refColumn,
			})
		}
	}
	if err := fkRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrUnavailable, err)
	}

	logging.Debug("postgres schema fetched",
		"tables", len(snap.Tables),
		"duration_ms", time.Since(started).Milliseconds())

	return snap, nil
}

// Run executes one validated statement with the given deadline. Exactly one
// read; a transient failure is surfaced, never retried here.
func (p *Postgres) Run(ctx context.Context, stmt sqlguard.ValidatedStatement, timeout time.Duration, rowLimit int) (*QueryResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := p.pool.Query(ctx, stmt.String())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &RejectedError{Detail: err.Error()}
	}
	defer rows.Close()

	fieldDescriptions := rows.FieldDescriptions()
	columns := make([]string, 0, len(fieldDescriptions))
	for _, fd := range fieldDescriptions {
		columns = append(columns, fd.Name)
	}

	var results []map[string]interface{}
	for rows.Next() {
		if rowLimit > 0 && len(results) >= rowLimit {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, &RejectedError{Detail: err.Error()}
		}
		row := make(map[string]interface{}, len(columns))
		for i, name := range columns {
			row[name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &RejectedError{Detail: err.Error()}
	}

	return &QueryResult{
		Columns:  columns,
		Rows:     results,
		RowCount: len(results),
	}, nil
}
