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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pgedge-nlq/internal/schema"
	"pgedge-nlq/internal/sqlguard"
)

// validated builds a ValidatedStatement through the only door there is
func validated(t *testing.T, stmt string) sqlguard.ValidatedStatement {
	t.Helper()
	v, err := sqlguard.NewValidator(0).Validate(stmt)
	if err != nil {
		t.Fatalf("test statement %q failed validation: %v", stmt, err)
	}
	return v
}

func TestMetabaseFetchSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Metabase-Session"); got != "tok-123" {
			t.Errorf("session header = %q", got)
		}
		switch r.URL.Path {
		case "/api/database/7":
			fmt.Fprint(w, `{"name": "shop", "engine": "postgres"}`)
		case "/api/database/7/metadata":
			fmt.Fprint(w, `{
				"tables": [
					{
						"name": "users", "rows": 100,
						"fields": [
							{"id": 1, "name": "id", "database_type": "int8", "database_required": true},
							{"id": 2, "name": "email", "database_type": "text"}
						]
					},
					{
						"name": "orders",
						"fields": [
							{"id": 3, "name": "id", "base_type": "type/Integer", "database_required": true},
							{"id": 4, "name": "user_id", "database_type": "int8",
							 "semantic_type": "type/FK", "fk_target_field_id": 1}
						]
					}
				]
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	mb := NewMetabase(server.URL, 7, "tok-123")
	snap, err := mb.FetchSchema(context.Background())
	if err != nil {
		t.Fatalf("FetchSchema failed: %v", err)
	}

	if snap.DatabaseName != "shop" || snap.DatabaseType != "postgres" {
		t.Errorf("database = %s/%s", snap.DatabaseName, snap.DatabaseType)
	}
	if len(snap.Tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(snap.Tables))
	}

	users := snap.Tables[0]
	if users.Name != "users" || users.RowCount != 100 {
		t.Errorf("users table = %+v", users)
	}
	if users.Columns[0].Nullable {
		t.Error("database_required field should not be nullable")
	}
	if !users.Columns[1].Nullable {
		t.Error("optional field should be nullable")
	}

	orders := snap.Tables[1]
	// base_type fills in when database_type is absent
	if orders.Columns[0].DataType != "type/Integer" {
		t.Errorf("fallback data type = %q", orders.Columns[0].DataType)
	}
	if len(orders.ForeignKeys) != 1 {
		t.Fatalf("foreign keys = %d, want 1", len(orders.ForeignKeys))
	}
	fk := orders.ForeignKeys[0]
	if fk.Column != "user_id" || fk.ReferencedTable != "users" || fk.ReferencedColumn != "id" {
		t.Errorf("fk = %+v", fk)
	}
}

func TestMetabaseFetchSchemaUnavailable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		mb := NewMetabase(server.URL, 7, "tok")
		if _, err := mb.FetchSchema(context.Background()); !errors.Is(err, schema.ErrUnavailable) {
			t.Errorf("error = %v, want schema.ErrUnavailable", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		mb := NewMetabase("http://127.0.0.1:1", 7, "tok")
		if _, err := mb.FetchSchema(context.Background()); !errors.Is(err, schema.ErrUnavailable) {
			t.Errorf("error = %v, want schema.ErrUnavailable", err)
		}
	})

	t.Run("unparseable body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "not json")
		}))
		defer server.Close()

		mb := NewMetabase(server.URL, 7, "tok")
		if _, err := mb.FetchSchema(context.Background()); !errors.Is(err, schema.ErrUnavailable) {
			t.Errorf("error = %v, want schema.ErrUnavailable", err)
		}
	})
}

func TestMetabaseRun(t *testing.T) {
	var gotReq mbDatasetRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/dataset" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{
			"status": "completed",
			"data": {
				"cols": [{"name": "city"}, {"name": "total"}],
				"rows": [["Oslo", 5], ["Bergen", 3]]
			}
		}`)
	}))
	defer server.Close()

	mb := NewMetabase(server.URL, 7, "tok")
	result, err := mb.Run(context.Background(), validated(t, "SELECT city, total FROM t"), time.Minute, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if gotReq.Type != "native" || gotReq.Database != 7 {
		t.Errorf("dataset request = %+v", gotReq)
	}
	if gotReq.Native.Query != "SELECT city, total FROM t" {
		t.Errorf("query sent = %q", gotReq.Native.Query)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Rows[0]["city"] != "Oslo" {
		t.Errorf("row 0 = %+v", result.Rows[0])
	}
}

func TestMetabaseRunRowLimitTruncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"data": {
				"cols": [{"name": "n"}],
				"rows": [[1], [2], [3], [4]]
			}
		}`)
	}))
	defer server.Close()

	mb := NewMetabase(server.URL, 7, "tok")
	result, err := mb.Run(context.Background(), validated(t, "SELECT n FROM t"), 0, 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RowCount != 2 {
		t.Errorf("RowCount = %d, want truncated to 2", result.RowCount)
	}
}

func TestMetabaseRunRejected(t *testing.T) {
	t.Run("failed status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status": "failed", "error": "relation \"nope\" does not exist"}`)
		}))
		defer server.Close()

		mb := NewMetabase(server.URL, 7, "tok")
		_, err := mb.Run(context.Background(), validated(t, "SELECT 1"), 0, 0)
		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("error = %v, want *RejectedError", err)
		}
		if rejected.Detail != `relation "nope" does not exist` {
			t.Errorf("detail = %q", rejected.Detail)
		}
	})

	t.Run("http error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer server.Close()

		mb := NewMetabase(server.URL, 7, "tok")
		var rejected *RejectedError
		if _, err := mb.Run(context.Background(), validated(t, "SELECT 1"), 0, 0); !errors.As(err, &rejected) {
			t.Errorf("error = %v, want *RejectedError", err)
		}
	})
}

func TestMetabaseRunTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client going away;
		// the timer keeps Close from waiting on a parked handler
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	mb := NewMetabase(server.URL, 7, "tok")
	_, err := mb.Run(context.Background(), validated(t, "SELECT 1"), 50*time.Millisecond, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}
