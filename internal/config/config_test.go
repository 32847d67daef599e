package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.DefaultModel)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.True(t, cfg.Worker.EnrichmentEnabled)
	assert.True(t, cfg.Worker.AutomationEnabled)
	assert.Equal(t, 2*time.Second, cfg.Worker.Interval)
	assert.Equal(t, 5, cfg.Worker.BatchSize)
	assert.Equal(t, 3, cfg.Worker.MaxConcurrentExecutions)
	assert.Equal(t, "listenrich.events", cfg.NATS.SubjectPrefix)
	assert.InDelta(t, 3.0, cfg.Notion.RPS, 0.001)
	assert.InDelta(t, 5.0, cfg.Salesforce.RPS, 0.001)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, 5*time.Minute, cfg.Monitoring.CheckInterval)
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 1000, cfg.Monitoring.BacklogThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  database_url: postgres://localhost/lists
log:
  level: debug
  format: console
server:
  port: 9090
worker:
  interval: 500ms
  batch_size: 10
  automation_enabled: false
pricing:
  anthropic:
    claude-haiku-4-5-20251001:
      input: 1.5
      output: 6
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/lists", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.Interval)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.False(t, cfg.Worker.AutomationEnabled)
	assert.InDelta(t, 1.5, cfg.Pricing.Anthropic["claude-haiku-4-5-20251001"].Input, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Worker.MaxConcurrentExecutions)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  database_url: postgres://file/lists
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LISTENRICH_STORE_DATABASE_URL", "postgres://env/lists")
	t.Setenv("LISTENRICH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres://env/lists", cfg.Store.DatabaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("LISTENRICH_SERVER_PORT", "3000")
	t.Setenv("LISTENRICH_CONNECTOR_ENCRYPTION_KEY", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Connector.EncryptionKey)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the loaded defaults for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Docstore.Root = "./data/documents"
	cfg.Worker.EnrichmentEnabled = true
	cfg.Worker.AutomationEnabled = true
	cfg.Worker.Interval = 2 * time.Second
	cfg.Worker.BatchSize = 5
	cfg.Worker.MaxConcurrentExecutions = 3
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Anthropic.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateWorker_AutomationOnly(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Worker.EnrichmentEnabled = false

	// No model key needed when only connectors run.
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateWorker_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Anthropic.Key = "sk-ant-key"

	cfg.Worker.MaxConcurrentExecutions = 0
	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_executions must be between 1 and 50")

	cfg.Worker.MaxConcurrentExecutions = 3
	cfg.Worker.BatchSize = 101
	err = cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size must be between 1 and 100")

	cfg.Worker.BatchSize = 5
	cfg.Worker.Interval = 0
	err = cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "worker.interval must be > 0")
}

func TestValidateWorker_MonitoringThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Monitoring.WebhookURL = "https://hooks.example.com/alerts"

	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.check_interval must be > 0")
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold must be in (0, 1]")

	cfg.Monitoring.CheckInterval = time.Minute
	cfg.Monitoring.FailureRateThreshold = 0.5
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateExtract(t *testing.T) {
	cfg := validDefaults()
	cfg.Docstore.Root = ""

	err := cfg.Validate("extract")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "docstore.root is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateMigrate(t *testing.T) {
	cfg := validDefaults()
	assert.Error(t, cfg.Validate("migrate"))

	cfg.Store.DatabaseURL = "postgres://localhost/test"
	assert.NoError(t, cfg.Validate("migrate"))
	assert.NoError(t, cfg.Validate("automation"))
	assert.NoError(t, cfg.Validate("enrich"))
	assert.NoError(t, cfg.Validate("index"))
	assert.NoError(t, cfg.Validate("status"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
