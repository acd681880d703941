package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Sternrassler/pharmeasy-scraper/pkg/client"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/config"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/logging"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/metrics"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/scrape"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pharmeasy-scraper",
		Short: "Scrapes PharmEasy search results into a CSV or JSON file.",
		Long: "pharmeasy-scraper requests a fixed number of search result pages, extracts\n" +
			"name, slug, manufacturer, price, availability and image of every product\n" +
			"and writes them to a CSV or JSON file. Settings come from SCRAPER_* environment\n" +
			"variables (or a .env file); flags override them.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	def := config.Default()
	fs := cmd.Flags()
	fs.Int("pages", def.Pages, "number of search result pages to request")
	fs.String("query", def.Query, "search term")
	fs.String("intent-id", def.IntentID, "opaque intent id sent with every search")
	fs.String("base-url", def.BaseURL, "scheme and host of the search API")
	fs.StringP("output", "o", def.Output, "output path (truncated on every run)")
	fs.String("format", def.Format, `output format: "csv" or "json"`)
	fs.Int("concurrency", def.MaxConcurrency, "maximum parallel page requests")
	fs.Duration("timeout", def.Timeout, "per-page request timeout")
	fs.Int("retries", def.MaxRetries, "attempts per page (1 disables retry)")
	fs.String("user-agent", def.UserAgent, "User-Agent header")
	fs.String("on-field-error", def.OnFieldError, `malformed product handling: "skip" the element, "discard" the page or "truncate" the page at the element`)
	fs.Bool("stop-on-empty", def.StopOnEmpty, "stop requesting pages after the first empty page")
	fs.String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	fs.Bool("log-pretty", def.LogPretty, "human-readable console logs")
	fs.String("metrics-file", def.MetricsFile, "write Prometheus metrics to this textfile after the run")

	return cmd
}

// applyFlags copies explicitly set flags over the environment configuration.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}

	set("pages", func() (e error) { cfg.Pages, e = fs.GetInt("pages"); return })
	set("query", func() (e error) { cfg.Query, e = fs.GetString("query"); return })
	set("intent-id", func() (e error) { cfg.IntentID, e = fs.GetString("intent-id"); return })
	set("base-url", func() (e error) { cfg.BaseURL, e = fs.GetString("base-url"); return })
	set("output", func() (e error) { cfg.Output, e = fs.GetString("output"); return })
	set("format", func() (e error) { cfg.Format, e = fs.GetString("format"); return })
	set("concurrency", func() (e error) { cfg.MaxConcurrency, e = fs.GetInt("concurrency"); return })
	set("timeout", func() (e error) { cfg.Timeout, e = fs.GetDuration("timeout"); return })
	set("retries", func() (e error) { cfg.MaxRetries, e = fs.GetInt("retries"); return })
	set("user-agent", func() (e error) { cfg.UserAgent, e = fs.GetString("user-agent"); return })
	set("on-field-error", func() (e error) { cfg.OnFieldError, e = fs.GetString("on-field-error"); return })
	set("stop-on-empty", func() (e error) { cfg.StopOnEmpty, e = fs.GetBool("stop-on-empty"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = fs.GetString("log-level"); return })
	set("log-pretty", func() (e error) { cfg.LogPretty, e = fs.GetBool("log-pretty"); return })
	set("metrics-file", func() (e error) { cfg.MetricsFile, e = fs.GetString("metrics-file"); return })

	return err
}

func run(ctx context.Context, cfg config.Config) error {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	httpClient, err := client.New(client.Config{
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: client.DefaultConfig(cfg.UserAgent).InitialBackoff,
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	s, err := scrape.New(cfg, httpClient)
	if err != nil {
		return err
	}

	_, runErr := s.Run(ctx)

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Error().Err(err).Str("path", cfg.MetricsFile).Msg("Failed to write metrics")
		}
	}

	return runErr
}
