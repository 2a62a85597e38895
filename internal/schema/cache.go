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
	"time"

	"pgedge-nlq/internal/logging"
)

// ErrUnavailable indicates the warehouse metadata endpoint could not be
// reached or returned an unparseable shape.
var ErrUnavailable = errors.New("schema unavailable")

// Fetcher retrieves a fresh snapshot from the warehouse metadata endpoint.
// Implementations live in internal/warehouse; tests inject fixed snapshots.
type Fetcher interface {
	FetchSchema(ctx context.Context) (*Snapshot, error)
}

// Cache owns the cached snapshot for a single warehouse database identity.
// It is passed explicitly into the pipeline rather than living as ambient
// global state. The cached snapshot is read-only after construction and
// replaced with an atomic pointer swap on refresh, so readers never observe
// a half-built snapshot and never block during a fetch.
type Cache struct {
	fetcher Fetcher

	mu       sync.RWMutex
	snapshot *Snapshot
	loadedAt time.Time
}

// NewCache creates a snapshot cache backed by the given fetcher
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher}
}

// Get returns the cached snapshot, fetching it on first use. With force set,
// the cache is bypassed and replaced on success; on failure the previous
// snapshot is kept and the error is returned.
func (c *Cache) Get(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		c.mu.RLock()
		snap := c.snapshot
		c.mu.RUnlock()
		if snap != nil {
			return snap, nil
		}
	}

	// Fetch without holding the lock; concurrent callers may race to refresh
	// and the last complete snapshot wins, which is safe because swaps are
	// whole-snapshot.
	started := time.Now()
	snap, err := c.fetcher.FetchSchema(ctx)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	c.snapshot = snap
	c.loadedAt = time.Now()
	c.mu.Unlock()

	logging.Info("schema snapshot refreshed",
		"database", snap.DatabaseName,
		"tables", len(snap.Tables),
		"duration_ms", time.Since(started).Milliseconds())

	return snap, nil
}

// Invalidate drops the cached snapshot so the next Get fetches a fresh one
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

// LoadedAt returns when the current snapshot was cached, zero if none
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}
