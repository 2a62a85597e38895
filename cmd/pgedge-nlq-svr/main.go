/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

// Command pgedge-nlq-svr runs the natural language query service: an HTTP
// endpoint that turns plain-language questions into validated, read-only
// SQL and executes them against a warehouse.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pgedge-nlq/internal/api"
	"pgedge-nlq/internal/config"
	"pgedge-nlq/internal/history"
	"pgedge-nlq/internal/llm"
	"pgedge-nlq/internal/logging"
	"pgedge-nlq/internal/pipeline"
	"pgedge-nlq/internal/schema"
	"pgedge-nlq/internal/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath       = flag.String("config", "", "path to configuration file")
		addr             = flag.String("addr", "", "HTTP listen address (overrides config)")
		debug            = flag.Bool("debug", false, "enable debug logging")
		backend          = flag.String("warehouse-backend", "", "warehouse backend: postgres or metabase")
		warehouseURL     = flag.String("warehouse-url", "", "Metabase base URL")
		databaseID       = flag.Int("database-id", 0, "Metabase database ID")
		connectionString = flag.String("connection-string", "", "Postgres connection string")
	)
	flag.Parse()

	if *debug {
		logging.SetLevel(logging.LevelDebug)
	}

	cliFlags := config.CLIFlags{
		ConfigFileSet:    *configPath != "",
		Address:          *addr,
		WarehouseBackend: *backend,
		WarehouseURL:     *warehouseURL,
		DatabaseID:       *databaseID,
		ConnectionString: *connectionString,
	}

	path := *configPath
	if path == "" {
		if exec, err := os.Executable(); err == nil {
			path = config.GetDefaultConfigPath(exec)
		}
	}

	cfg, err := config.LoadConfig(path, cliFlags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warehouse backend: one object serves both as schema fetcher and
	// statement runner
	var (
		fetcher schema.Fetcher
		runner  warehouse.Runner
	)
	switch cfg.Warehouse.Backend {
	case "metabase":
		mb := warehouse.NewMetabase(cfg.Warehouse.URL, cfg.Warehouse.DatabaseID, cfg.Warehouse.SessionToken)
		fetcher, runner = mb, mb
	case "postgres":
		connStr := cfg.Warehouse.ConnectionString
		if connStr == "" {
			connStr = os.Getenv("DATABASE_URL")
		}
		if connStr == "" {
			return fmt.Errorf("no connection string configured; set warehouse.connection_string or DATABASE_URL")
		}
		pg, err := warehouse.NewPostgres(ctx, connStr)
		if err != nil {
			return fmt.Errorf("failed to connect to warehouse: %w", err)
		}
		defer pg.Close()
		fetcher, runner = pg, pg
	default:
		return fmt.Errorf("unknown warehouse backend %q", cfg.Warehouse.Backend)
	}

	client := llm.NewClient(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL,
		cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	if !client.IsConfigured() {
		return fmt.Errorf("LLM provider %q is not configured; set an API key", cfg.LLM.Provider)
	}

	var historyLog *history.Store
	if cfg.HistoryDir != "" {
		historyLog, err = history.Open(cfg.HistoryDir)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer historyLog.Close()
	}

	policy, err := policyFromConfig(cfg.Policy)
	if err != nil {
		return err
	}

	cache := schema.NewCache(fetcher)
	pipe := pipeline.New(cache, client, runner, historyLog, policy)

	// Live policy reload; everything else requires a restart
	reloadable := config.NewReloadable(cfg, path, cliFlags, func(pc config.PolicyConfig) {
		fresh, err := policyFromConfig(pc)
		if err != nil {
			logging.Warn("reloaded policy is invalid, keeping previous", "error", err.Error())
			return
		}
		pipe.ApplyPolicy(fresh)
	})
	if err := reloadable.StartWatching(); err != nil {
		logging.Warn("config file watching disabled", "error", err.Error())
	} else {
		defer reloadable.StopWatching()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", api.NewQueryHandler(pipe).HandleQuery)
	mux.HandleFunc("/api/schema", api.NewSchemaHandler(cache).HandleSchema)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening", "address", cfg.HTTP.Address, "backend", cfg.Warehouse.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// policyFromConfig converts the YAML policy section into pipeline limits
func policyFromConfig(pc config.PolicyConfig) (pipeline.Policy, error) {
	genTimeout, err := pc.GenerateTimeoutDuration()
	if err != nil {
		return pipeline.Policy{}, fmt.Errorf("invalid generate_timeout: %w", err)
	}
	execTimeout, err := pc.ExecuteTimeoutDuration()
	if err != nil {
		return pipeline.Policy{}, fmt.Errorf("invalid execute_timeout: %w", err)
	}
	policy := pipeline.DefaultPolicy()
	if pc.DefaultRowLimit > 0 {
		policy.DefaultRowLimit = pc.DefaultRowLimit
	}
	if pc.MaxCategoryValues > 0 {
		policy.MaxCategoryValues = pc.MaxCategoryValues
	}
	if pc.MaxPromptTables > 0 {
		policy.MaxPromptTables = pc.MaxPromptTables
	}
	if pc.MaxPromptColumns > 0 {
		policy.MaxPromptColumns = pc.MaxPromptColumns
	}
	if pc.MaxHistory > 0 {
		policy.MaxHistory = pc.MaxHistory
	}
	policy.GenerateTimeout = genTimeout
	policy.ExecuteTimeout = execTimeout
	return policy, nil
}
