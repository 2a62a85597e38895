/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pgedge-nlq/internal/logging"
)

// ReloadableConfig wraps a Config and reloads it when the config file
// changes on disk. Only the policy section applies live; changes to any
// other section are logged as requiring a restart.
type ReloadableConfig struct {
	mu         sync.RWMutex
	current    *Config
	configPath string
	cliFlags   CLIFlags
	watcher    *fsnotify.Watcher
	done       chan struct{}
	onPolicy   func(PolicyConfig)
}

// NewReloadable creates a reloadable wrapper around an already-loaded
// config. onPolicy is invoked with the new policy section after every
// successful reload.
func NewReloadable(cfg *Config, configPath string, cliFlags CLIFlags, onPolicy func(PolicyConfig)) *ReloadableConfig {
	return &ReloadableConfig{
		current:    cfg,
		configPath: configPath,
		cliFlags:   cliFlags,
		done:       make(chan struct{}),
		onPolicy:   onPolicy,
	}
}

// Get returns the current configuration
func (rc *ReloadableConfig) Get() *Config {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.current
}

// StartWatching begins watching the config file for changes
func (rc *ReloadableConfig) StartWatching() error {
	if rc.configPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	rc.watcher = watcher

	// Watch the directory rather than the file itself so that editors
	// which replace the file (rename over it) keep the watch alive.
	if err := watcher.Add(filepath.Dir(rc.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go rc.watchLoop()
	return nil
}

// StopWatching stops the file watcher
func (rc *ReloadableConfig) StopWatching() {
	if rc.watcher == nil {
		return
	}
	close(rc.done)
	rc.watcher.Close()
}

func (rc *ReloadableConfig) watchLoop() {
	// Debounce: editors emit bursts of events per save
	var timer *time.Timer

	target := filepath.Clean(rc.configPath)

	for {
		select {
		case <-rc.done:
			return
		case event, ok := <-rc.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, rc.reload)
		case err, ok := <-rc.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config watcher error", "error", err.Error())
		}
	}
}

// reload re-runs the full load and applies what can be applied live
func (rc *ReloadableConfig) reload() {
	fresh, err := LoadConfig(rc.configPath, rc.cliFlags)
	if err != nil {
		logging.Warn("config reload failed, keeping previous configuration", "error", err.Error())
		return
	}

	rc.mu.Lock()
	previous := rc.current
	rc.current = fresh
	rc.mu.Unlock()

	if previous.HTTP != fresh.HTTP ||
		previous.Warehouse != fresh.Warehouse ||
		previous.LLM != fresh.LLM ||
		previous.HistoryDir != fresh.HistoryDir {
		logging.Warn("config change outside the policy section requires a restart to take effect")
	}

	if previous.Policy != fresh.Policy {
		logging.Info("applying reloaded policy",
			"default_row_limit", fmt.Sprintf("%d", fresh.Policy.DefaultRowLimit),
			"max_category_values", fmt.Sprintf("%d", fresh.Policy.MaxCategoryValues))
		if rc.onPolicy != nil {
			rc.onPolicy(fresh.Policy)
		}
	}
}
