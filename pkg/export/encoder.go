package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/pharmeasy-scraper/pkg/product"
)

// Format selects the output encoding.
type Format string

const (
	// FormatCSV writes a header row and one row per record.
	FormatCSV Format = "csv"

	// FormatJSON writes a single JSON array with one object per record.
	FormatJSON Format = "json"
)

// ParseFormat maps "csv" and "json" to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// encoder renders records for one output format. Callers serialize access.
type encoder interface {
	begin() error
	write(rec product.Record) error
	// flush pushes buffered output to the underlying writer.
	flush() error
	end() error
}

func newEncoder(w io.Writer, opts Options) encoder {
	if opts.Format == FormatJSON {
		return &jsonEncoder{w: bufio.NewWriter(w)}
	}
	cw := csv.NewWriter(w)
	if opts.Comma != 0 {
		cw.Comma = opts.Comma
	}
	return &csvEncoder{w: cw}
}

type csvEncoder struct {
	w *csv.Writer
}

func (e *csvEncoder) begin() error { return e.w.Write(product.Header) }

func (e *csvEncoder) write(rec product.Record) error { return e.w.Write(rec.Row()) }

func (e *csvEncoder) flush() error {
	e.w.Flush()
	return e.w.Error()
}

func (e *csvEncoder) end() error { return nil }

// jsonRecord uses the CSV column names as keys. Price stays a JSON number.
type jsonRecord struct {
	Name         string      `json:"name"`
	Slug         string      `json:"slug"`
	Manufacturer string      `json:"manufacturer"`
	Price        json.Number `json:"price"`
	Availability bool        `json:"availability"`
	Images       string      `json:"images"`
}

// jsonEncoder streams an array, one object per line, so a page can be
// appended without holding the whole document in memory.
type jsonEncoder struct {
	w *bufio.Writer
	n int
}

func (e *jsonEncoder) begin() error {
	_, err := e.w.WriteString("[")
	return err
}

func (e *jsonEncoder) write(rec product.Record) error {
	data, err := json.Marshal(jsonRecord{
		Name:         rec.Name,
		Slug:         rec.Slug,
		Manufacturer: rec.Manufacturer,
		Price:        json.Number(rec.Price.String()),
		Availability: rec.Available,
		Images:       rec.Images,
	})
	if err != nil {
		return err
	}

	sep := ",\n  "
	if e.n == 0 {
		sep = "\n  "
	}
	if _, err := e.w.WriteString(sep); err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	e.n++
	return nil
}

func (e *jsonEncoder) flush() error { return e.w.Flush() }

func (e *jsonEncoder) end() error {
	closing := "\n]\n"
	if e.n == 0 {
		closing = "]\n"
	}
	_, err := e.w.WriteString(closing)
	return err
}
