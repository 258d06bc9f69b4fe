package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agent service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	RedTeam   RedTeamConfig   `mapstructure:"redteam"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	JWTSecret         string        `mapstructure:"jwt_secret"` // JWT secret for auth
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	UIStreamEnabled bool   `mapstructure:"ui_stream_enabled"`
	HITLDefault     bool   `mapstructure:"hitl_default"` // default for enable_hitl when the request omits it
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type           string              `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Models         map[string]LLMModel `mapstructure:"models"`
	EmbeddingModel string              `mapstructure:"embedding_model"`
	MaxRetries     int                 `mapstructure:"max_retries"`
	Timeout        time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string   `mapstructure:"name"`
	APIName         string   `mapstructure:"api_name"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	Temperature     float64  `mapstructure:"temperature"`
	CostPer1K       float64  `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64  `mapstructure:"cost_per_1k_output"`
	Capabilities    []string `mapstructure:"capabilities"` // chatting, routing, research, etc.
}

// LLMRoutingConfig defines which model to use for different roles
type LLMRoutingConfig struct {
	Chatting   string `mapstructure:"chatting"`   // plain conversational turns
	Agent      string `mapstructure:"agent"`      // tool-calling executor
	Supervisor string `mapstructure:"supervisor"` // router node
	Research   string `mapstructure:"research"`   // research worker
	Quant      string `mapstructure:"quant"`      // quantitative worker
	Writer     string `mapstructure:"writer"`     // writer worker
	Fallback   string `mapstructure:"fallback"`   // fallback model
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// AgentsConfig contains agent loop settings
type AgentsConfig struct {
	MaxToolIterations int           `mapstructure:"max_tool_iterations"`
	MaxSupervisorHops int           `mapstructure:"max_supervisor_hops"`
	AgentTimeout      time.Duration `mapstructure:"agent_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// Normalize applies defaults for unset agent loop values.
func (a AgentsConfig) Normalize() AgentsConfig {
	if a.MaxToolIterations <= 0 {
		a.MaxToolIterations = 6
	}
	if a.MaxSupervisorHops <= 0 {
		a.MaxSupervisorHops = 8
	}
	if a.AgentTimeout <= 0 {
		a.AgentTimeout = 2 * time.Minute
	}
	return a
}

// ToolsConfig contains configuration for the built-in tools
type ToolsConfig struct {
	WebSearch  WebSearchConfig  `mapstructure:"web_search"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Scrape     ScrapeConfig     `mapstructure:"scrape"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// MarketDataConfig contains quote API settings
type MarketDataConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ScrapeConfig contains page fetch/extract settings
type ScrapeConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// Normalize applies defaults for unset scrape values.
func (s ScrapeConfig) Normalize() ScrapeConfig {
	if s.Timeout <= 0 {
		s.Timeout = 15 * time.Second
	}
	if s.MaxChars <= 0 || s.MaxChars > 20000 {
		s.MaxChars = 20000
	}
	return s
}

// CacheConfig controls the semantic response cache.
type CacheConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	TTL                 time.Duration `mapstructure:"ttl"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	MaxEntries          int           `mapstructure:"max_entries"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	JanitorCron         string        `mapstructure:"janitor_cron"`
	CostPerCall         float64       `mapstructure:"cost_per_call"` // used for the "cost saved" stat
}

// Normalize applies defaults for unset cache values.
func (c CacheConfig) Normalize() CacheConfig {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = 0.92
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = 1536
	}
	if strings.TrimSpace(c.JanitorCron) == "" {
		c.JanitorCron = "@hourly"
	}
	if c.CostPerCall <= 0 {
		c.CostPerCall = 0.03
	}
	return c
}

// Validate checks the cache configuration.
func (c CacheConfig) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be within [0,1]")
	}
	if c.EmbeddingDimensions < 0 {
		return fmt.Errorf("cache.embedding_dimensions cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres:// connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedTeamConfig configures the adversarial harness subcommand.
type RedTeamConfig struct {
	Target     string        `mapstructure:"target"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Categories []string      `mapstructure:"categories"` // empty means all
	AuthToken  string        `mapstructure:"auth_token"`
}

// Normalize applies defaults for unset red-team values.
func (r RedTeamConfig) Normalize() RedTeamConfig {
	if strings.TrimSpace(r.Target) == "" {
		r.Target = "http://localhost:8000"
	}
	if r.Timeout <= 0 {
		r.Timeout = 30 * time.Second
	}
	return r
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("server.ui_stream_enabled", true)
	viper.SetDefault("server.hitl_default", false)
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.similarity_threshold", 0.92)
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.embedding_dimensions", 1536)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)
	viper.SetDefault("telemetry.cost_tracking", true)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("FINSIGHT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (FINSIGHT_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Agents = config.Agents.Normalize()
	config.Cache = config.Cache.Normalize()
	config.Tools.Scrape = config.Tools.Scrape.Normalize()
	config.RedTeam = config.RedTeam.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Cache.Validate(); err != nil {
		panic(err)
	}
	// Redis is optional; the janitor falls back to a local sweep without it.
	if config.Storage.Redis.Host != "" {
		if err := config.Storage.Redis.Validate(); err != nil {
			panic(err)
		}
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
