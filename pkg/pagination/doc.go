// Package pagination provides parallel fetching of search result pages.
//
// The page list is known up front (a lazy sequence of request descriptors),
// so there is no first-page discovery step. A fixed pool of workers fetches
// pages concurrently while a single collector, the goroutine calling Run,
// hands every result to the caller's handler in arrival order. Everything
// the handler does (parsing, appending to the output file) therefore runs
// serially without extra locking.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(httpClient, pagination.DefaultConfig())
//	err := fetcher.Run(ctx, generator.Requests(), func(r pagination.PageResult) error {
//		if r.Error != nil {
//			return nil // page failed, keep going
//		}
//		return sink.AppendPage(parse(r.Data))
//	})
//
// The batch fetcher:
//   - Spawns a worker pool (default 4 workers)
//   - Applies a per-page timeout
//   - Delivers fetch failures as results instead of aborting
//   - Stops feeding pages when the handler returns ErrStop
//   - Cancels outstanding work when the handler returns any other error
package pagination
