// Package scrape runs one search scrape: it requests every page, parses
// the product arrays and appends the records to the CSV or JSON output.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/pharmeasy-scraper/pkg/client"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/config"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/export"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/logging"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/metrics"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/pagination"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/product"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/request"
)

// Report summarizes a run.
type Report struct {
	PagesAttempted int
	PagesFailed    int
	PagesEmpty     int
	RecordsWritten int
	RecordsSkipped int
	Duration       time.Duration
}

// recordSink is the part of *export.Sink the pipeline uses.
type recordSink interface {
	Path() string
	AppendPage(records []product.Record) error
	Written() int
	Close() error
}

func openFileSink(path string, opts export.Options) (recordSink, error) {
	sink, err := export.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Scraper wires the request generator, the fetch pool, the parser and the
// output sink. A Scraper runs once per call to Run; each run truncates the
// output file.
type Scraper struct {
	cfg     config.Config
	fetcher pagination.PageFetcher
	policy  product.Policy
	format  export.Format
	logger  zerolog.Logger

	openSink func(path string, opts export.Options) (recordSink, error)
}

// New creates a scraper for cfg that fetches pages through fetcher.
func New(cfg config.Config, fetcher pagination.PageFetcher) (*Scraper, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	policy, err := product.ParsePolicy(cfg.OnFieldError)
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:      cfg,
		fetcher:  fetcher,
		policy:   policy,
		format:   format,
		logger:   logging.NewLogger("scraper"),
		openSink: openFileSink,
	}, nil
}

// SetLogger replaces the scraper's logger (useful for testing).
func (s *Scraper) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Run scrapes every configured page. Page failures are logged and counted
// in the report; only output errors and cancellation abort the run.
func (s *Scraper) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report

	opts := export.DefaultOptions()
	opts.Sync = s.cfg.Sync
	opts.Format = s.format
	sink, err := s.openSink(s.cfg.Output, opts)
	if err != nil {
		metrics.LastRunSuccess.Set(0)
		return report, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			s.logger.Error().Err(cerr).Str("path", sink.Path()).Msg("Failed to close output")
		}
	}()

	gen := request.NewGenerator(request.Endpoint{
		BaseURL:  s.cfg.BaseURL,
		IntentID: s.cfg.IntentID,
		Query:    s.cfg.Query,
	}, s.cfg.Pages, s.cfg.UserAgent)

	parser := product.NewParser(s.logger, s.policy)
	pool := pagination.NewBatchFetcher(s.fetcher, pagination.Config{
		MaxConcurrency: s.cfg.MaxConcurrency,
		Timeout:        s.cfg.Timeout,
	})

	s.logger.Info().
		Int("pages", s.cfg.Pages).
		Str("query", s.cfg.Query).
		Str("output", sink.Path()).
		Str("format", string(s.format)).
		Str("on_field_error", s.policy.String()).
		Msg("Starting scrape")

	runErr := pool.Run(ctx, gen.Requests(), func(r pagination.PageResult) error {
		return s.handlePage(parser, sink, r, &report)
	})

	if runErr == nil {
		runErr = sink.Close()
	}
	report.RecordsWritten = sink.Written()
	report.Duration = time.Since(start)

	if runErr != nil {
		metrics.LastRunSuccess.Set(0)
		s.logger.Error().
			Err(runErr).
			Int("pages", report.PagesAttempted).
			Int("records", report.RecordsWritten).
			Msg("Scrape aborted")
		return report, runErr
	}

	metrics.LastRunSuccess.Set(1)
	s.logger.Info().
		Int("pages", report.PagesAttempted).
		Int("pages_failed", report.PagesFailed).
		Int("records", report.RecordsWritten).
		Int("skipped", report.RecordsSkipped).
		Dur("duration", report.Duration).
		Msg("Scrape complete")

	return report, nil
}

// handlePage parses and appends one page. It runs on the pool's collector
// goroutine, so report needs no locking.
func (s *Scraper) handlePage(parser *product.Parser, sink recordSink, r pagination.PageResult, report *Report) error {
	report.PagesAttempted++

	if r.Error != nil {
		report.PagesFailed++
		metrics.PagesTotal.WithLabelValues(metrics.PageFailed).Inc()
		logFetchFailure(s.logger, r)
		return nil
	}

	res := parser.Parse(r.Page, r.URL, r.Data)
	report.RecordsSkipped += len(res.Skipped)
	metrics.RecordsSkipped.Add(float64(len(res.Skipped)))

	// A truncated page still carries the records before the malformed element.
	if err := sink.AppendPage(res.Records); err != nil {
		return err
	}
	metrics.RecordsWritten.Add(float64(len(res.Records)))

	if res.Err != nil {
		report.PagesFailed++
		metrics.PagesTotal.WithLabelValues(metrics.PageFailed).Inc()
		return nil
	}

	if len(res.Records) == 0 && len(res.Skipped) == 0 {
		report.PagesEmpty++
		metrics.PagesTotal.WithLabelValues(metrics.PageEmpty).Inc()
		if s.cfg.StopOnEmpty {
			s.logger.Info().Int("page", r.Page).Msg("Empty page, no further pages requested")
			return pagination.ErrStop
		}
		return nil
	}

	metrics.PagesTotal.WithLabelValues(metrics.PageOK).Inc()
	return nil
}

func logFetchFailure(logger zerolog.Logger, r pagination.PageResult) {
	event := logger.Error().
		Err(r.Error).
		Int("page", r.Page).
		Str("url", r.URL)

	var fetchErr *client.FetchError
	if errors.As(r.Error, &fetchErr) {
		event = event.
			Int("status", fetchErr.StatusCode).
			Str("error_class", string(fetchErr.ErrorClass))
	}
	event.Msg("Failed to fetch page")
}
