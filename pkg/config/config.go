// Package config loads scraper settings from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pharmeasy-scraper/pkg/logging"
)

// EnvPrefix is prepended to every environment variable name, e.g. SCRAPER_PAGES.
const EnvPrefix = "SCRAPER"

// DefaultUserAgent is the desktop browser string the search API accepts.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/79.0.3945.130 Safari/537.36"

// Field error policies.
const (
	OnFieldErrorSkip     = "skip"
	OnFieldErrorDiscard  = "discard"
	OnFieldErrorTruncate = "truncate"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Config holds the complete scraper configuration.
type Config struct {
	// Search endpoint
	BaseURL  string `envconfig:"BASE_URL" default:"https://pharmeasy.in"`
	IntentID string `envconfig:"INTENT_ID" default:"1736254134724"`
	Query    string `envconfig:"QUERY" default:"dolo"`
	Pages    int    `envconfig:"PAGES" default:"4"`

	// StopOnEmpty stops requesting pages once a page returns an empty product array.
	StopOnEmpty bool `envconfig:"STOP_ON_EMPTY" default:"false"`

	// Transport
	UserAgent      string        `envconfig:"USER_AGENT"`
	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY" default:"4"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"15s"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"1"`

	// Output
	Output       string `envconfig:"OUTPUT" default:"pharmeasy.csv"`
	Format       string `envconfig:"FORMAT" default:"csv"`
	Sync         bool   `envconfig:"SYNC" default:"true"`
	OnFieldError string `envconfig:"ON_FIELD_ERROR" default:"skip"`

	// Observability
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsFile string `envconfig:"METRICS_FILE"`
}

// Load reads an optional .env file and then processes SCRAPER_* environment variables.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		// A missing .env is normal outside of local development.
		if _, statErr := os.Stat(".env"); statErr == nil {
			log.Warn().Err(err).Msg(".env file found but could not be loaded")
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return cfg, nil
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		BaseURL:        "https://pharmeasy.in",
		IntentID:       "1736254134724",
		Query:          "dolo",
		Pages:          4,
		UserAgent:      DefaultUserAgent,
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		MaxRetries:     1,
		Output:         "pharmeasy.csv",
		Format:         FormatCSV,
		Sync:           true,
		OnFieldError:   OnFieldErrorSkip,
		LogLevel:       "info",
	}
}

// Validate checks value ranges that envconfig cannot express.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base url must start with http:// or https:// (got %q)", c.BaseURL)
	}
	if c.Pages < 0 {
		return fmt.Errorf("pages must be >= 0 (got %d)", c.Pages)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1 (got %d)", c.MaxConcurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %s)", c.Timeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be >= 1 (got %d)", c.MaxRetries)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}
	if c.Output == "" {
		return fmt.Errorf("output path is required")
	}
	switch c.Format {
	case FormatCSV, FormatJSON:
	default:
		return fmt.Errorf("format must be %q or %q (got %q)", FormatCSV, FormatJSON, c.Format)
	}
	switch c.OnFieldError {
	case OnFieldErrorSkip, OnFieldErrorDiscard, OnFieldErrorTruncate:
	default:
		return fmt.Errorf("on field error must be %q, %q or %q (got %q)", OnFieldErrorSkip, OnFieldErrorDiscard, OnFieldErrorTruncate, c.OnFieldError)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
