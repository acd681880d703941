package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != Default() {
		t.Errorf("Load() = %+v, want %+v", cfg, Default())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_QUERY", "crocin")
	t.Setenv("SCRAPER_PAGES", "2")
	t.Setenv("SCRAPER_TIMEOUT", "3s")
	t.Setenv("SCRAPER_OUTPUT", "out/crocin.csv")
	t.Setenv("SCRAPER_ON_FIELD_ERROR", "discard")
	t.Setenv("SCRAPER_USER_AGENT", "TestAgent/1.0")
	t.Setenv("SCRAPER_STOP_ON_EMPTY", "true")
	t.Setenv("SCRAPER_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Query != "crocin" {
		t.Errorf("Query = %q, want %q", cfg.Query, "crocin")
	}
	if cfg.Pages != 2 {
		t.Errorf("Pages = %d, want 2", cfg.Pages)
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", cfg.Timeout)
	}
	if cfg.Output != "out/crocin.csv" {
		t.Errorf("Output = %q, want %q", cfg.Output, "out/crocin.csv")
	}
	if cfg.OnFieldError != OnFieldErrorDiscard {
		t.Errorf("OnFieldError = %q, want %q", cfg.OnFieldError, OnFieldErrorDiscard)
	}
	if cfg.UserAgent != "TestAgent/1.0" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, "TestAgent/1.0")
	}
	if !cfg.StopOnEmpty {
		t.Error("StopOnEmpty should be true")
	}
	if cfg.Format != FormatJSON {
		t.Errorf("Format = %q, want %q", cfg.Format, FormatJSON)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("SCRAPER_PAGES", "four")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric SCRAPER_PAGES")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:   "zero pages allowed",
			mutate: func(c *Config) { c.Pages = 0 },
		},
		{
			name:     "negative pages",
			mutate:   func(c *Config) { c.Pages = -1 },
			errorMsg: "pages must be >= 0",
		},
		{
			name:     "missing scheme",
			mutate:   func(c *Config) { c.BaseURL = "pharmeasy.in" },
			errorMsg: "base url must start with",
		},
		{
			name:     "zero concurrency",
			mutate:   func(c *Config) { c.MaxConcurrency = 0 },
			errorMsg: "max concurrency must be >= 1",
		},
		{
			name:     "zero timeout",
			mutate:   func(c *Config) { c.Timeout = 0 },
			errorMsg: "timeout must be positive",
		},
		{
			name:     "zero retries",
			mutate:   func(c *Config) { c.MaxRetries = 0 },
			errorMsg: "max retries must be >= 1",
		},
		{
			name:     "empty user agent",
			mutate:   func(c *Config) { c.UserAgent = "" },
			errorMsg: "user-agent is required",
		},
		{
			name:     "empty output",
			mutate:   func(c *Config) { c.Output = "" },
			errorMsg: "output path is required",
		},
		{
			name:   "truncate policy",
			mutate: func(c *Config) { c.OnFieldError = OnFieldErrorTruncate },
		},
		{
			name:   "json format",
			mutate: func(c *Config) { c.Format = FormatJSON },
		},
		{
			name:     "unknown format",
			mutate:   func(c *Config) { c.Format = "xml" },
			errorMsg: "format must be",
		},
		{
			name:     "unknown field error policy",
			mutate:   func(c *Config) { c.OnFieldError = "ignore" },
			errorMsg: "on field error must be",
		},
		{
			name:     "unknown log level",
			mutate:   func(c *Config) { c.LogLevel = "trace" },
			errorMsg: "unknown log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Error = %q, want it to contain %q", err.Error(), tt.errorMsg)
			}
		})
	}
}
