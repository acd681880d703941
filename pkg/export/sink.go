// Package export writes product records to a CSV or JSON file.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sternrassler/pharmeasy-scraper/pkg/product"
)

// Options controls how the output file is written.
type Options struct {
	// Sync fsyncs the file after every append so a crash loses at most
	// the page being written.
	Sync bool

	// Comma is the CSV field delimiter (default ',').
	Comma rune

	// Format selects CSV (default) or JSON output.
	Format Format
}

// DefaultOptions returns the options used by the scraper.
func DefaultOptions() Options {
	return Options{
		Sync:   true,
		Comma:  ',',
		Format: FormatCSV,
	}
}

// SinkError reports a failure to create or write the output file.
type SinkError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SinkError) Unwrap() error {
	return e.Err
}

// Sink owns the output file for the duration of a run.
// Appends are serialized so the rows of one call are contiguous.
type Sink struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	enc     encoder
	sync    bool
	written int
	closed  bool
}

// Open creates or truncates path and writes the format's preamble: the
// header row for CSV, the opening bracket for JSON.
func Open(path string, opts Options) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &SinkError{Path: path, Op: "mkdir", Err: err}
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, &SinkError{Path: path, Op: "open", Err: err}
	}

	s := &Sink{
		path: path,
		file: file,
		enc:  newEncoder(file, opts),
		sync: opts.Sync,
	}

	if err := s.enc.begin(); err != nil {
		file.Close()
		return nil, &SinkError{Path: path, Op: "write header", Err: err}
	}
	if err := s.flush(); err != nil {
		file.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// Append writes a single record.
func (s *Sink) Append(rec product.Record) error {
	return s.AppendPage([]product.Record{rec})
}

// AppendPage writes all records of one page in order, as one unit.
func (s *Sink) AppendPage(records []product.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &SinkError{Path: s.path, Op: "write", Err: os.ErrClosed}
	}

	for _, rec := range records {
		if err := s.enc.write(rec); err != nil {
			return &SinkError{Path: s.path, Op: "write", Err: err}
		}
	}
	if err := s.flush(); err != nil {
		return err
	}

	s.written += len(records)
	return nil
}

// Written returns the number of records written so far.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close completes the document, flushes and closes the file.
// Calling Close twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var flushErr error
	if err := s.enc.end(); err != nil {
		flushErr = &SinkError{Path: s.path, Op: "write", Err: err}
	} else {
		flushErr = s.flush()
	}
	if err := s.file.Close(); err != nil && flushErr == nil {
		return &SinkError{Path: s.path, Op: "close", Err: err}
	}
	return flushErr
}

// flush pushes buffered rows to the file; callers hold mu (or own s exclusively).
func (s *Sink) flush() error {
	if err := s.enc.flush(); err != nil {
		return &SinkError{Path: s.path, Op: "flush", Err: err}
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			return &SinkError{Path: s.path, Op: "sync", Err: err}
		}
	}
	return nil
}
