package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	S3       S3Config       `mapstructure:"s3"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
}

type ProviderConfig struct {
	REST   RESTConfig `mapstructure:"rest"`
	WS     WSConfig   `mapstructure:"ws"`
	APIKey string     `mapstructure:"api_key"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// S3Config points the raw store at an S3-compatible endpoint (MinIO in dev).
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	PathStyle bool   `mapstructure:"path_style"`
}

// PipelineConfig controls the coordinator: which symbols to ingest, how often
// the scheduler ticks, and the retry/gap behavior for failed windows.
type PipelineConfig struct {
	TickSpec     string         `mapstructure:"tick_spec"`     // cron spec with seconds, e.g. "@every 30s"
	Workers      int            `mapstructure:"workers"`       // max concurrent cycles
	CycleTimeout time.Duration  `mapstructure:"cycle_timeout"` // deadline per fetch-normalize-write cycle
	GapPolicy    string         `mapstructure:"gap_policy"`    // "block" or "skip"
	Retry        RetryConfig    `mapstructure:"retry"`
	Symbols      []SymbolConfig `mapstructure:"symbols"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SymbolConfig declares one (symbol, timeframe) ingestion stream.
type SymbolConfig struct {
	Symbol        string        `mapstructure:"symbol"`
	Timeframe     string        `mapstructure:"timeframe"`      // warehouse label, e.g. "1h", "1d"
	Cadence       time.Duration `mapstructure:"cadence"`        // window length; one window per cycle
	Enabled       bool          `mapstructure:"enabled"`
	BackfillStart string        `mapstructure:"backfill_start"` // RFC3339; initial watermark for a new symbol
}

// StartTime parses the configured backfill start.
func (s SymbolConfig) StartTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.BackfillStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("symbol %s: parse backfill_start: %w", s.Symbol, err)
	}
	return t, nil
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., PROVIDER_REST_BASE_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.TickSpec == "" {
		cfg.Pipeline.TickSpec = "@every 30s"
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 5
	}
	if cfg.Pipeline.CycleTimeout <= 0 {
		cfg.Pipeline.CycleTimeout = 2 * time.Minute
	}
	if cfg.Pipeline.GapPolicy == "" {
		cfg.Pipeline.GapPolicy = "block"
	}
	if cfg.Pipeline.Retry.MaxAttempts <= 0 {
		cfg.Pipeline.Retry.MaxAttempts = 5
	}
	if cfg.Pipeline.Retry.BaseDelay <= 0 {
		cfg.Pipeline.Retry.BaseDelay = 2 * time.Second
	}
	if cfg.Pipeline.Retry.MaxDelay <= 0 {
		cfg.Pipeline.Retry.MaxDelay = time.Minute
	}
	if cfg.Provider.REST.Timeout <= 0 {
		cfg.Provider.REST.Timeout = 30 * time.Second
	}
	if cfg.S3.Bucket == "" {
		cfg.S3.Bucket = "stock-data"
	}
}
