/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package schema

import "fmt"

// Snapshot is a point-in-time, immutable copy of warehouse structural
// metadata. Snapshots are replaced wholesale on refresh, never patched.
type Snapshot struct {
	DatabaseName string  `json:"database_name"`
	DatabaseType string  `json:"database_type"`
	Tables       []Table `json:"tables"`
}

// Table describes one table or view in the warehouse
type Table struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	RowCount    int64        `json:"row_count,omitempty"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Column describes a single column of a table
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ForeignKey describes a column referencing another table
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Table returns the named table and whether it exists in the snapshot
func (s *Snapshot) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Validate checks the snapshot invariants: table names unique within the
// snapshot, column names unique within each table.
func (s *Snapshot) Validate() error {
	tables := make(map[string]struct{}, len(s.Tables))
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.Name == "" {
			return fmt.Errorf("table %d has an empty name", i)
		}
		if _, dup := tables[t.Name]; dup {
			return fmt.Errorf("duplicate table name %q", t.Name)
		}
		tables[t.Name] = struct{}{}

		columns := make(map[string]struct{}, len(t.Columns))
		for _, c := range t.Columns {
			if _, dup := columns[c.Name]; dup {
				return fmt.Errorf("duplicate column %q in table %q", c.Name, t.Name)
			}
			columns[c.Name] = struct{}{}
		}
	}
	return nil
}
