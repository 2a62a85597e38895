/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

// Command pgedge-nlq-chat is an interactive terminal client for the
// natural language query pipeline. It runs the pipeline in-process
// against the configured warehouse, so no server is needed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pgedge-nlq/internal/config"
	"pgedge-nlq/internal/history"
	"pgedge-nlq/internal/llm"
	"pgedge-nlq/internal/logging"
	"pgedge-nlq/internal/pipeline"
	"pgedge-nlq/internal/schema"
	"pgedge-nlq/internal/tabletext"
	"pgedge-nlq/internal/warehouse"
)

var (
	flagConfig           string
	flagBackend          string
	flagWarehouseURL     string
	flagDatabaseID       int
	flagConnectionString string
	flagSession          string
	flagDebug            bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pgedge-nlq-chat",
		Short: "Ask your database questions in plain language",
		Long: `pgedge-nlq-chat is an interactive client for the pgEdge natural
language query pipeline. Questions are translated into read-only SQL,
validated, executed, and rendered as tables or chart summaries.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}

	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to configuration file")
	rootCmd.Flags().StringVar(&flagBackend, "warehouse-backend", "", "warehouse backend: postgres or metabase")
	rootCmd.Flags().StringVar(&flagWarehouseURL, "warehouse-url", "", "Metabase base URL")
	rootCmd.Flags().IntVar(&flagDatabaseID, "database-id", 0, "Metabase database ID")
	rootCmd.Flags().StringVar(&flagConnectionString, "connection-string", "", "Postgres connection string")
	rootCmd.Flags().StringVar(&flagSession, "session", "chat", "session name for conversation history")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(ctx context.Context) error {
	if flagDebug {
		logging.SetLevel(logging.LevelDebug)
	}

	cliFlags := config.CLIFlags{
		ConfigFileSet:    flagConfig != "",
		WarehouseBackend: flagBackend,
		WarehouseURL:     flagWarehouseURL,
		DatabaseID:       flagDatabaseID,
		ConnectionString: flagConnectionString,
	}

	path := flagConfig
	if path == "" {
		if exec, err := os.Executable(); err == nil {
			path = config.GetDefaultConfigPath(exec)
		}
	}

	cfg, err := config.LoadConfig(path, cliFlags)
	if err != nil {
		return err
	}

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
			fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", err)
		} else {
			defer historyLog.Close()
		}
	}

	policy := pipeline.DefaultPolicy()
	if gt, err := cfg.Policy.GenerateTimeoutDuration(); err == nil {
		policy.GenerateTimeout = gt
	}
	if et, err := cfg.Policy.ExecuteTimeoutDuration(); err == nil {
		policy.ExecuteTimeout = et
	}
	if cfg.Policy.DefaultRowLimit > 0 {
		policy.DefaultRowLimit = cfg.Policy.DefaultRowLimit
	}
	if cfg.Policy.MaxCategoryValues > 0 {
		policy.MaxCategoryValues = cfg.Policy.MaxCategoryValues
	}

	cache := schema.NewCache(fetcher)
	pipe := pipeline.New(cache, client, runner, historyLog, policy)

	fmt.Println("pgEdge NLQ chat. Ask a question, or type \\? for help.")

	rl, err := readline.New("nlq> ")
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	session := &chatSession{
		pipeline:  pipe,
		cache:     cache,
		sessionID: flagSession,
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			// Ctrl-C clears the line, Ctrl-D exits
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "\\") {
			if quit := session.command(ctx, line); quit {
				return nil
			}
			continue
		}

		session.ask(ctx, line)
	}
}

// chatSession holds the REPL state
type chatSession struct {
	pipeline  *pipeline.Pipeline
	cache     *schema.Cache
	sessionID string
}

// command handles backslash commands; returns true when the REPL should
// exit
func (s *chatSession) command(ctx context.Context, line string) bool {
	switch strings.Fields(line)[0] {
	case "\\q", "\\quit", "\\exit":
		return true
	case "\\?", "\\help":
		fmt.Println(`Commands:
  \?        show this help
  \schema   list the tables in the current schema snapshot
  \refresh  force a schema snapshot refresh
  \q        quit`)
	case "\\schema":
		snap, err := s.cache.Get(ctx, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return false
		}
		for _, t := range snap.Tables {
			fmt.Printf("  %s (%d columns)\n", t.Name, len(t.Columns))
		}
	case "\\refresh":
		if _, err := s.cache.Get(ctx, true); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return false
		}
		fmt.Println("Schema snapshot refreshed.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q; try \\?\n", line)
	}
	return false
}

// ask runs one question through the pipeline and renders the response
func (s *chatSession) ask(ctx context.Context, question string) {
	resp := s.pipeline.Process(ctx, pipeline.Request{
		Question:  question,
		SessionID: s.sessionID,
	})

	if resp.ErrorMessage != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.ErrorMessage)
		if resp.SQLQuery != nil {
			fmt.Fprintf(os.Stderr, "Rejected statement:\n  %s\n", resp.SQLQuery.Query)
		}
		return
	}

	if resp.SQLQuery != nil {
		renderMarkdown(fmt.Sprintf("```sql\n%s\n```\n%s", resp.SQLQuery.Query, resp.SQLQuery.Explanation))
	}

	width := terminalWidth()
	fmt.Print(tabletext.Render(resp.Result, width))

	if resp.Chart != nil {
		fmt.Printf("\nSuggested chart: %s", resp.Chart.ChartType)
		if resp.Chart.Title != "" {
			fmt.Printf(" (%s)", resp.Chart.Title)
		}
		fmt.Println()
	}

	fmt.Printf("\n%s (%.0f ms)\n", resp.TextResponse, resp.ProcessingTimeMS)
}

// renderMarkdown pretty-prints markdown when stdout is a terminal
func renderMarkdown(text string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(text)
		return
	}
	out, err := glamour.Render(text, "dark")
	if err != nil {
		fmt.Println(text)
		return
	}
	fmt.Print(out)
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 0
}
