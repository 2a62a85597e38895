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

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeFetcher hands out numbered snapshots and counts calls
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFetcher) FetchSchema(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Snapshot{
		DatabaseName: fmt.Sprintf("db-%d", f.calls),
		DatabaseType: "postgres",
		Tables:       []Table{{Name: "t", Columns: []Column{{Name: "id", DataType: "integer"}}}},
	}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCacheFetchesOnceUntilInvalidated(t *testing.T) {
	f := &fakeFetcher{}
	c := NewCache(f)
	ctx := context.Background()

	first, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	second, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if first != second {
		t.Error("cached snapshot not reused")
	}
	if f.callCount() != 1 {
		t.Errorf("fetcher called %d times, want 1", f.callCount())
	}

	c.Invalidate()
	third, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("Get after Invalidate failed: %v", err)
	}
	if third.DatabaseName != "db-2" {
		t.Errorf("got %q, want a fresh snapshot after invalidation", third.DatabaseName)
	}
}

func TestCacheForceBypassesCache(t *testing.T) {
	f := &fakeFetcher{}
	c := NewCache(f)
	ctx := context.Background()

	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}
	snap, err := c.Get(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if snap.DatabaseName != "db-2" {
		t.Errorf("force Get returned %q, want db-2", snap.DatabaseName)
	}
	if f.callCount() != 2 {
		t.Errorf("fetcher called %d times, want 2", f.callCount())
	}
}

func TestCacheKeepsPreviousSnapshotOnFailedRefresh(t *testing.T) {
	f := &fakeFetcher{}
	c := NewCache(f)
	ctx := context.Background()

	good, err := c.Get(ctx, false)
	if err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	f.err = fmt.Errorf("metadata endpoint down")
	f.mu.Unlock()

	if _, err := c.Get(ctx, true); !errors.Is(err, ErrUnavailable) {
		t.Errorf("failed refresh error = %v, want ErrUnavailable", err)
	}

	// The previous snapshot stays served
	kept, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("Get after failed refresh: %v", err)
	}
	if kept != good {
		t.Error("previous snapshot was discarded on a failed refresh")
	}
}

func TestCacheWrapsFetchErrors(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("plain transport error")}
	c := NewCache(f)

	_, err := c.Get(context.Background(), false)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want wrapped as ErrUnavailable", err)
	}
}

// invalidFetcher returns a snapshot violating the uniqueness invariant
type invalidFetcher struct{}

func (invalidFetcher) FetchSchema(ctx context.Context) (*Snapshot, error) {
	return &Snapshot{
		DatabaseName: "db",
		Tables:       []Table{{Name: "t"}, {Name: "t"}},
	}, nil
}

func TestCacheRejectsInvalidSnapshot(t *testing.T) {
	c := NewCache(invalidFetcher{})
	_, err := c.Get(context.Background(), false)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable for invalid snapshot", err)
	}
}

func TestCacheConcurrentReaders(t *testing.T) {
	f := &fakeFetcher{}
	c := NewCache(f)
	ctx := context.Background()

	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap, err := c.Get(ctx, false)
				if err != nil || snap == nil {
					t.Error("concurrent Get failed")
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			if _, err := c.Get(ctx, true); err != nil {
				t.Error("concurrent refresh failed")
				return
			}
		}
	}()
	wg.Wait()
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{
			name: "valid",
			snap: Snapshot{Tables: []Table{
				{Name: "a", Columns: []Column{{Name: "x"}, {Name: "y"}}},
				{Name: "b", Columns: []Column{{Name: "x"}}},
			}},
		},
		{
			name:    "duplicate table",
			snap:    Snapshot{Tables: []Table{{Name: "a"}, {Name: "a"}}},
			wantErr: true,
		},
		{
			name:    "duplicate column",
			snap:    Snapshot{Tables: []Table{{Name: "a", Columns: []Column{{Name: "x"}, {Name: "x"}}}}},
			wantErr: true,
		},
		{
			name:    "empty table name",
			snap:    Snapshot{Tables: []Table{{Name: ""}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
