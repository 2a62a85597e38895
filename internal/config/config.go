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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	// HTTP server configuration
	HTTP HTTPConfig `yaml:"http"`

	// Warehouse connection configuration
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// LLM configuration for SQL generation
	LLM LLMConfig `yaml:"llm"`

	// Policy holds the runtime-tunable pipeline limits
	Policy PolicyConfig `yaml:"policy"`

	// HistoryDir is where the session history database lives
	// (empty disables history)
	HistoryDir string `yaml:"history_dir"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Address string `yaml:"address"` // listen address (default: 127.0.0.1:8080)
}

// WarehouseConfig holds warehouse backend settings
type WarehouseConfig struct {
	Backend string `yaml:"backend"` // "metabase" or "postgres" (default: postgres)

	// Metabase backend
	URL          string `yaml:"url"`           // Metabase base URL
	DatabaseID   int    `yaml:"database_id"`   // Metabase database identifier
	SessionToken string `yaml:"session_token"` // session token issued by the external auth layer

	// Postgres backend
	ConnectionString string `yaml:"connection_string"`
}

// LLMConfig holds model provider settings
type LLMConfig struct {
	Provider    string  `yaml:"provider"`     // "anthropic", "openai" or "ollama"
	Model       string  `yaml:"model"`        // provider-specific model name
	APIKey      string  `yaml:"api_key"`      // direct key (discouraged, prefer api_key_file or env var)
	APIKeyFile  string  `yaml:"api_key_file"` // path to a file containing the key
	BaseURL     string  `yaml:"base_url"`     // override the provider endpoint
	MaxTokens   int     `yaml:"max_tokens"`   // maximum completion tokens (default: 2048)
	Temperature float64 `yaml:"temperature"`  // sampling temperature (default: 0.1)
}

// PolicyConfig holds pipeline limits. This is the only section that applies
// live on configuration reload; everything else requires a restart.
type PolicyConfig struct {
	DefaultRowLimit   int    `yaml:"default_row_limit"`   // LIMIT appended to unbounded statements (default: 500)
	MaxCategoryValues int    `yaml:"max_category_values"` // distinct categories a bar/pie chart carries (default: 12)
	MaxPromptTables   int    `yaml:"max_prompt_tables"`   // tables described in the prompt (default: 25)
	MaxPromptColumns  int    `yaml:"max_prompt_columns"`  // columns listed per table (default: 40)
	MaxHistory        int    `yaml:"max_history"`         // prior exchanges included in the prompt (default: 5)
	GenerateTimeout   string `yaml:"generate_timeout"`    // model call deadline (default: 60s)
	ExecuteTimeout    string `yaml:"execute_timeout"`     // warehouse call deadline (default: 60s)
}

// CLIFlags carries command line overrides into the merge
type CLIFlags struct {
	ConfigFileSet    bool
	Address          string
	WarehouseBackend string
	WarehouseURL     string
	DatabaseID       int
	ConnectionString string
}

// GetDefaultConfigPath returns the config file path next to the executable
func GetDefaultConfigPath(execPath string) string {
	return filepath.Join(filepath.Dir(execPath), "pgedge-nlq.yaml")
}

// LoadConfig loads configuration with proper priority:
// 1. Command line flags (highest priority)
// 2. Environment variables
// 3. Configuration file
// 4. Hard-coded defaults (lowest priority)
func LoadConfig(configPath string, cliFlags CLIFlags) (*Config, error) {
	cfg := defaultConfig()

	if configPath != "" {
		fileCfg, err := loadConfigFile(configPath)
		if err != nil {
			// An explicitly requested file must load; a missing default
			// file is fine
			if cliFlags.ConfigFileSet {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		} else {
			mergeConfig(cfg, fileCfg)
		}
	}

	applyEnvironment(cfg)
	applyCLIFlags(cfg, cliFlags)

	if err := resolveAPIKey(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns the hard-coded defaults
func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address: "127.0.0.1:8080",
		},
		Warehouse: WarehouseConfig{
			Backend: "postgres",
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5",
			MaxTokens:   2048,
			Temperature: 0.1,
		},
		Policy: PolicyConfig{
			DefaultRowLimit:   500,
			MaxCategoryValues: 12,
			MaxPromptTables:   25,
			MaxPromptColumns:  40,
			MaxHistory:        5,
			GenerateTimeout:   "60s",
			ExecuteTimeout:    "60s",
		},
	}
}

// loadConfigFile reads and parses a YAML config file
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfig overlays non-zero file values onto the defaults
func mergeConfig(dst, src *Config) {
	if src.HTTP.Address != "" {
		dst.HTTP.Address = src.HTTP.Address
	}

	if src.Warehouse.Backend != "" {
		dst.Warehouse.Backend = src.Warehouse.Backend
	}
	if src.Warehouse.URL != "" {
		dst.Warehouse.URL = src.Warehouse.URL
	}
	if src.Warehouse.DatabaseID != 0 {
		dst.Warehouse.DatabaseID = src.Warehouse.DatabaseID
	}
	if src.Warehouse.SessionToken != "" {
		dst.Warehouse.SessionToken = src.Warehouse.SessionToken
	}
	if src.Warehouse.ConnectionString != "" {
		dst.Warehouse.ConnectionString = src.Warehouse.ConnectionString
	}

	if src.LLM.Provider != "" {
		dst.LLM.Provider = src.LLM.Provider
	}
	if src.LLM.Model != "" {
		dst.LLM.Model = src.LLM.Model
	}
	if src.LLM.APIKey != "" {
		dst.LLM.APIKey = src.LLM.APIKey
	}
	if src.LLM.APIKeyFile != "" {
		dst.LLM.APIKeyFile = src.LLM.APIKeyFile
	}
	if src.LLM.BaseURL != "" {
		dst.LLM.BaseURL = src.LLM.BaseURL
	}
	if src.LLM.MaxTokens != 0 {
		dst.LLM.MaxTokens = src.LLM.MaxTokens
	}
	if src.LLM.Temperature != 0 {
		dst.LLM.Temperature = src.LLM.Temperature
	}

	if src.Policy.DefaultRowLimit != 0 {
		dst.Policy.DefaultRowLimit = src.Policy.DefaultRowLimit
	}
	if src.Policy.MaxCategoryValues != 0 {
		dst.Policy.MaxCategoryValues = src.Policy.MaxCategoryValues
	}
	if src.Policy.MaxPromptTables != 0 {
		dst.Policy.MaxPromptTables = src.Policy.MaxPromptTables
	}
	if src.Policy.MaxPromptColumns != 0 {
		dst.Policy.MaxPromptColumns = src.Policy.MaxPromptColumns
	}
	if src.Policy.MaxHistory != 0 {
		dst.Policy.MaxHistory = src.Policy.MaxHistory
	}
	if src.Policy.GenerateTimeout != "" {
		dst.Policy.GenerateTimeout = src.Policy.GenerateTimeout
	}
	if src.Policy.ExecuteTimeout != "" {
		dst.Policy.ExecuteTimeout = src.Policy.ExecuteTimeout
	}

	if src.HistoryDir != "" {
		dst.HistoryDir = src.HistoryDir
	}
}

// applyEnvironment overlays PGEDGE_NLQ_* environment variables
func applyEnvironment(cfg *Config) {
	if v := os.Getenv("PGEDGE_NLQ_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("PGEDGE_NLQ_WAREHOUSE_BACKEND"); v != "" {
		cfg.Warehouse.Backend = v
	}
	if v := os.Getenv("PGEDGE_NLQ_WAREHOUSE_URL"); v != "" {
		cfg.Warehouse.URL = v
	}
	if v := os.Getenv("PGEDGE_NLQ_WAREHOUSE_DATABASE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Warehouse.DatabaseID = id
		}
	}
	if v := os.Getenv("PGEDGE_NLQ_WAREHOUSE_SESSION_TOKEN"); v != "" {
		cfg.Warehouse.SessionToken = v
	}
	if v := os.Getenv("PGEDGE_NLQ_CONNECTION_STRING"); v != "" {
		cfg.Warehouse.ConnectionString = v
	}
	if v := os.Getenv("PGEDGE_NLQ_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("PGEDGE_NLQ_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("PGEDGE_NLQ_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PGEDGE_NLQ_HISTORY_DIR"); v != "" {
		cfg.HistoryDir = v
	}
}

// applyCLIFlags overlays command line flag values
func applyCLIFlags(cfg *Config, flags CLIFlags) {
	if flags.Address != "" {
		cfg.HTTP.Address = flags.Address
	}
	if flags.WarehouseBackend != "" {
		cfg.Warehouse.Backend = flags.WarehouseBackend
	}
	if flags.WarehouseURL != "" {
		cfg.Warehouse.URL = flags.WarehouseURL
	}
	if flags.DatabaseID != 0 {
		cfg.Warehouse.DatabaseID = flags.DatabaseID
	}
	if flags.ConnectionString != "" {
		cfg.Warehouse.ConnectionString = flags.ConnectionString
	}
}

// resolveAPIKey fills LLM.APIKey from the key file or the provider's
// conventional environment variable when not set directly
func resolveAPIKey(cfg *Config) error {
	if cfg.LLM.APIKey != "" {
		return nil
	}
	if cfg.LLM.APIKeyFile != "" {
		data, err := os.ReadFile(cfg.LLM.APIKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read api_key_file: %w", err)
		}
		cfg.LLM.APIKey = strings.TrimSpace(string(data))
		return nil
	}
	switch cfg.LLM.Provider {
	case "anthropic":
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// Validate checks the configuration for inconsistencies
func Validate(cfg *Config) error {
	switch cfg.Warehouse.Backend {
	case "postgres":
		// Connection string may still come from the environment at
		// connect time; nothing to check here
	case "metabase":
		if cfg.Warehouse.URL == "" {
			return fmt.Errorf("warehouse.url is required for the metabase backend")
		}
		if cfg.Warehouse.DatabaseID == 0 {
			return fmt.Errorf("warehouse.database_id is required for the metabase backend")
		}
	default:
		return fmt.Errorf("unknown warehouse backend %q", cfg.Warehouse.Backend)
	}

	switch cfg.LLM.Provider {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}

	if _, err := cfg.Policy.GenerateTimeoutDuration(); err != nil {
		return fmt.Errorf("invalid policy.generate_timeout: %w", err)
	}
	if _, err := cfg.Policy.ExecuteTimeoutDuration(); err != nil {
		return fmt.Errorf("invalid policy.execute_timeout: %w", err)
	}
	return nil
}

// GenerateTimeoutDuration parses the generation deadline
func (p *PolicyConfig) GenerateTimeoutDuration() (time.Duration, error) {
	return parseTimeout(p.GenerateTimeout, 60*time.Second)
}

// ExecuteTimeoutDuration parses the execution deadline
func (p *PolicyConfig) ExecuteTimeoutDuration() (time.Duration, error) {
	return parseTimeout(p.ExecuteTimeout, 60*time.Second)
}

func parseTimeout(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
