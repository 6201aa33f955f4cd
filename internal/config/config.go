// Package config provides configuration management for the clinical-trial extraction service.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Accepted database ssl_mode values.
const (
	SSLModeDisable    = "disable" // local development only
	SSLModeRequire    = "require"
	SSLModeVerifyCA   = "verify-ca"
	SSLModeVerifyFull = "verify-full"
)

// Storage driver names.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverLevelDB  = "leveldb"
	StorageDriverMemory   = "memory"
)

// LLM provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the complete service configuration. Each section maps to a
// top-level key of config.yaml and a CTEXTRACT_<SECTION>_ env prefix.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	LLM      LLMConfig      `mapstructure:"llm"`
	PubMed   PubMedConfig   `mapstructure:"pubmed"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// ServerConfig configures the HTTP API and the metrics listener.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`

	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout also bounds /api/extract, which waits on the language model.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects where clinical-trial records are kept.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`       // postgres, leveldb or memory
	LevelDBPath string `mapstructure:"leveldb_path"` // used by the leveldb driver
}

// DatabaseConfig configures the PostgreSQL pool used by the postgres driver.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"-"` // CTEXTRACT_DATABASE_PASSWORD
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`

	MigrationPath    string `mapstructure:"migration_path"`
	MigrationAutoRun bool   `mapstructure:"migration_auto_run"`
}

// LoggingConfig configures the zerolog root logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, console or pretty
	Output     string `mapstructure:"output"` // stdout or stderr
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig configures Prometheus exposure.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LLMConfig configures the completer used for extraction.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Timeout     time.Duration `mapstructure:"timeout"` // per call
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`

	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OpenAIConfig holds chat-completions settings. The key comes from
// CTEXTRACT_LLM_OPENAI_API_KEY.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"-"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds messages API settings. The key comes from
// CTEXTRACT_LLM_ANTHROPIC_API_KEY.
type AnthropicConfig struct {
	APIKey  string `mapstructure:"-"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// PubMedConfig holds E-utilities settings. The optional key comes from
// CTEXTRACT_PUBMED_API_KEY and raises NCBI's rate limit.
type PubMedConfig struct {
	APIKey            string        `mapstructure:"-"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RateLimit         float64       `mapstructure:"rate_limit"` // requests per second
	MaxRetries        int           `mapstructure:"max_retries"`
	DefaultMaxResults int           `mapstructure:"default_max_results"`
}

// KafkaConfig configures the article event publisher.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DSN renders the pgx connection URL.
func (c *DatabaseConfig) DSN() string {
	q := url.Values{"sslmode": {c.SSLMode}}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// HTTPAddress is the API listen address.
func (c *ServerConfig) HTTPAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.HTTPPort))
}

// MetricsAddress is the Prometheus listen address.
func (c *ServerConfig) MetricsAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.MetricsPort))
}

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CTEXTRACT"

// Load reads configuration from defaults, an optional config.yaml and
// CTEXTRACT_* environment variables, then validates all of it.
func Load() (*Config, error) {
	return loadAndCheck((*Config).Validate)
}

// LoadDatabase loads configuration for tools that only talk to PostgreSQL.
// Only the database section is validated, so no LLM credential is needed.
func LoadDatabase() (*Config, error) {
	return loadAndCheck(func(c *Config) error { return c.Database.validate() })
}

func loadAndCheck(check func(*Config) error) (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/clinical-trial-extractor")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	loadSecrets(&cfg)

	return &cfg, nil
}

// loadSecrets fills the mapstructure:"-" fields, which only come from the environment.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv(EnvPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(EnvPrefix + "_LLM_ANTHROPIC_API_KEY")
	cfg.PubMed.APIKey = os.Getenv(EnvPrefix + "_PUBMED_API_KEY")
	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")
}

// defaults holds the value of every key not set by file or environment.
// Keys must be listed here for AutomaticEnv to bind them during Unmarshal.
var defaults = map[string]interface{}{
	"server.host":             "0.0.0.0",
	"server.http_port":        8080,
	"server.metrics_port":     9091,
	"server.read_timeout":     "30s",
	"server.write_timeout":    "120s",
	"server.shutdown_timeout": "30s",

	"storage.driver":       StorageDriverPostgres,
	"storage.leveldb_path": "data/articles",

	"database.host":                "localhost",
	"database.port":                5432,
	"database.user":                "ctextract",
	"database.name":                "clinical_trial_extractor",
	"database.ssl_mode":            SSLModeRequire,
	"database.max_conns":           20,
	"database.min_conns":           2,
	"database.max_conn_lifetime":   "1h",
	"database.max_conn_idle_time":  "30m",
	"database.health_check_period": "30s",
	"database.connect_timeout":     "10s",
	"database.migration_path":      "migrations",
	"database.migration_auto_run":  false,

	"logging.level":       "info",
	"logging.format":      "json",
	"logging.output":      "stdout",
	"logging.add_source":  false,
	"logging.time_format": time.RFC3339,

	"metrics.enabled":   true,
	"metrics.path":      "/metrics",
	"metrics.namespace": "clinical_trial_extractor",

	"llm.provider":           ProviderOpenAI,
	"llm.timeout":            "90s",
	"llm.max_retries":        3,
	"llm.retry_delay":        "2s",
	"llm.temperature":        0.1,
	"llm.max_tokens":         4096,
	"llm.openai.model":       "gpt-4o",
	"llm.openai.base_url":    "https://api.openai.com/v1",
	"llm.anthropic.model":    "claude-sonnet-4-20250514",
	"llm.anthropic.base_url": "https://api.anthropic.com",

	// NCBI allows 3 requests per second without an API key.
	"pubmed.base_url":            "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
	"pubmed.timeout":             "30s",
	"pubmed.rate_limit":          3.0,
	"pubmed.max_retries":         3,
	"pubmed.default_max_results": 50,

	"kafka.enabled":       false,
	"kafka.brokers":       []string{"localhost:9092"},
	"kafka.topic":         "events.clinical_trial_extractor.articles",
	"kafka.batch_size":    100,
	"kafka.batch_timeout": "10ms",
}

// Validate checks every section and reports all problems found.
func (c *Config) Validate() error {
	errs := []error{
		c.Server.validate(),
		c.validateStorage(),
		c.Logging.validate(),
		c.LLM.validate(),
		c.PubMed.validate(),
		c.Kafka.validate(),
	}
	return errors.Join(errs...)
}

func (c *ServerConfig) validate() error {
	var errs []error
	if !validPort(c.HTTPPort) {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if !validPort(c.MetricsPort) {
		errs = append(errs, fmt.Errorf("invalid metrics port: %d", c.MetricsPort))
	}
	return errors.Join(errs...)
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		return c.Database.validate()
	case StorageDriverLevelDB:
		if c.Storage.LevelDBPath == "" {
			return errors.New("storage leveldb_path is required for the leveldb driver")
		}
		return nil
	case StorageDriverMemory:
		return nil
	default:
		return fmt.Errorf("invalid storage driver: %q", c.Storage.Driver)
	}
}

func (c *DatabaseConfig) validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("database host is required"))
	}
	if !validPort(c.Port) {
		errs = append(errs, fmt.Errorf("invalid database port: %d", c.Port))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if c.MaxConns < c.MinConns {
		errs = append(errs, fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns))
	}
	return errors.Join(errs...)
}

func (c *LoggingConfig) validate() error {
	switch strings.ToLower(c.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
		return nil
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
}

func (c *LLMConfig) validate() error {
	var errs []error
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("LLM temperature must be between 0 and 2"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("LLM max_retries must not be negative"))
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, fmt.Errorf("LLM provider %q requires %s_LLM_OPENAI_API_KEY to be set", c.Provider, EnvPrefix))
		}
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" {
			errs = append(errs, fmt.Errorf("LLM provider %q requires %s_LLM_ANTHROPIC_API_KEY to be set", c.Provider, EnvPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider: %q", c.Provider))
	}
	return errors.Join(errs...)
}

func (c *PubMedConfig) validate() error {
	var errs []error
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("pubmed rate_limit must be positive"))
	}
	if c.DefaultMaxResults <= 0 {
		errs = append(errs, errors.New("pubmed default_max_results must be positive"))
	}
	return errors.Join(errs...)
}

func (c *KafkaConfig) validate() error {
	if c.Enabled && len(c.Brokers) == 0 {
		return errors.New("kafka brokers are required when kafka is enabled")
	}
	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
