// Package pagination provides parallel fetching of search result pages
package pagination

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pharmeasy-scraper/pkg/request"
)

// ErrStop is returned by a Handler to stop requesting further pages.
// Pages already in flight are still delivered.
var ErrStop = errors.New("stop paging")

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches the body of a single page
type PageFetcher interface {
	FetchPage(ctx context.Context, d request.Descriptor) ([]byte, error)
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	Page  int
	URL   string
	Data  []byte
	Error error
}

// Handler consumes page results. It is called from a single goroutine,
// one result at a time.
type Handler func(PageResult) error

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// Run fetches every descriptor of requests using a worker pool and hands
// each result to handle. Fetch failures reach handle as PageResult.Error;
// they do not stop the run. Run returns the first non-ErrStop error from
// handle, or ctx.Err() if the context was cancelled.
func (bf *BatchFetcher) Run(ctx context.Context, requests iter.Seq[request.Descriptor], handle Handler) error {
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// stop closes when the handler asks for no more pages
	stop := make(chan struct{})
	var stopOnce sync.Once

	queue := make(chan request.Descriptor)
	results := make(chan PageResult, bf.config.MaxConcurrency)

	go func() {
		defer close(queue)
		for d := range requests {
			select {
			case <-stop:
				return
			default:
			}
			select {
			case queue <- d:
			case <-stop:
				return
			case <-runCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(runCtx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var handleErr error
	pages, failed := 0, 0
	for result := range results {
		if handleErr != nil {
			// Drain so workers can exit.
			continue
		}
		pages++
		if result.Error != nil {
			failed++
		}

		err := handle(result)
		switch {
		case err == nil:
		case errors.Is(err, ErrStop):
			log.Debug().Int("page", result.Page).Msg("Handler requested stop")
			stopOnce.Do(func() { close(stop) })
		default:
			handleErr = err
			cancel()
		}
	}

	if handleErr != nil {
		return handleErr
	}
	if err := ctx.Err(); err != nil {
		log.Warn().
			Int("pages", pages).
			Msg("Fetch interrupted")
		return err
	}

	log.Debug().
		Int("pages", pages).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return nil
}

// worker processes pages from the queue
func (bf *BatchFetcher) worker(ctx context.Context, queue <-chan request.Descriptor, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for d := range queue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		data, err := bf.fetcher.FetchPage(pageCtx, d)
		cancel()

		result := PageResult{
			Page:  d.PageIndex,
			URL:   d.URL,
			Data:  data,
			Error: err,
		}

		// Results are always delivered; the collector drains until close.
		results <- result
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
