package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Docstore   DocstoreConfig   `yaml:"docstore" mapstructure:"docstore"`
	Vector     VectorConfig     `yaml:"vector" mapstructure:"vector"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Connector  ConnectorConfig  `yaml:"connector" mapstructure:"connector"`
	NATS       NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	DefaultModel string `yaml:"default_model" mapstructure:"default_model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// JinaConfig holds Jina AI Reader settings for web fetch context.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DocstoreConfig locates converted documents and item content artifacts.
type DocstoreConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// VectorConfig configures library similarity search. An empty Path keeps
// the index in memory.
type VectorConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	OllamaURL      string `yaml:"ollama_url" mapstructure:"ollama_url"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// WorkerConfig configures the enrichment and automation polling loops.
type WorkerConfig struct {
	EnrichmentEnabled       bool          `yaml:"enrichment_enabled" mapstructure:"enrichment_enabled"`
	AutomationEnabled       bool          `yaml:"automation_enabled" mapstructure:"automation_enabled"`
	Interval                time.Duration `yaml:"interval" mapstructure:"interval"`
	BatchSize               int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrentExecutions int           `yaml:"max_concurrent_executions" mapstructure:"max_concurrent_executions"`
}

// ConnectorConfig holds the secret used to encrypt connector credentials.
type ConnectorConfig struct {
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key"`
}

// NATSConfig enables cross-instance event fan-out when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// SalesforceConfig rate-limits Salesforce connector calls.
type SalesforceConfig struct {
	RPS float64 `yaml:"rps" mapstructure:"rps"`
}

// NotionConfig rate-limits Notion connector calls.
type NotionConfig struct {
	RPS float64 `yaml:"rps" mapstructure:"rps"`
}

// PricingConfig holds per-model pricing rates. Models missing here fall
// back to the built-in rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// MonitoringConfig configures health alerts. Alerts are only sent when
// WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval        time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackHours        int           `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BacklogThreshold     int           `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	CostThresholdUSD     float64       `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LISTENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.default_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("docstore.root", "./data/documents")
	v.SetDefault("vector.path", "./data/vectors")
	v.SetDefault("vector.ollama_url", "http://localhost:11434/api")
	v.SetDefault("vector.embedding_model", "nomic-embed-text")
	v.SetDefault("worker.enrichment_enabled", true)
	v.SetDefault("worker.automation_enabled", true)
	v.SetDefault("worker.interval", "2s")
	v.SetDefault("worker.batch_size", 5)
	v.SetDefault("worker.max_concurrent_executions", 3)
	v.SetDefault("connector.encryption_key", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "listenrich.events")
	v.SetDefault("salesforce.rps", 5)
	v.SetDefault("notion.rps", 3)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval", "5m")
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.backlog_threshold", 1000)
	v.SetDefault("monitoring.cost_threshold_usd", 0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate reports every setting the given command cannot run without.
// Modes: serve, worker, migrate, extract, automation, enrich, index, status.
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "serve", "worker":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
		if mode == "serve" {
			require(c.Server.Port > 0, "server.port must be > 0")
		}
		if c.Worker.EnrichmentEnabled {
			require(c.Anthropic.Key != "", "anthropic.key is required")
		}
		require(c.Worker.Interval > 0, "worker.interval must be > 0")
		require(c.Worker.BatchSize >= 1 && c.Worker.BatchSize <= 100, "worker.batch_size must be between 1 and 100")
		require(c.Worker.MaxConcurrentExecutions >= 1 && c.Worker.MaxConcurrentExecutions <= 50,
			"worker.max_concurrent_executions must be between 1 and 50")
		if c.Monitoring.WebhookURL != "" {
			require(c.Monitoring.CheckInterval > 0, "monitoring.check_interval must be > 0")
			require(c.Monitoring.FailureRateThreshold > 0 && c.Monitoring.FailureRateThreshold <= 1,
				"monitoring.failure_rate_threshold must be in (0, 1]")
		}
	case "extract":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
		require(c.Docstore.Root != "", "docstore.root is required")
		require(c.Anthropic.Key != "", "anthropic.key is required")
	case "migrate", "automation", "enrich", "index", "status":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
