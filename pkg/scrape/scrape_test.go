package scrape

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Sternrassler/pharmeasy-scraper/internal/testutil"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/client"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/config"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/export"
	"github.com/Sternrassler/pharmeasy-scraper/pkg/product"
)

const header = "name,slug,manufacturer,price,availability,images\n"

var dolo = testutil.Product("Dolo 650", "dolo-650", "Micro Labs", 30.5, true, "img1.jpg")

func testConfig(t *testing.T, mock *testutil.MockSearchAPI, pages int) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.BaseURL = mock.URL()
	cfg.Pages = pages
	cfg.MaxConcurrency = 1
	cfg.Timeout = 5 * time.Second
	cfg.Output = filepath.Join(t.TempDir(), "pharmeasy.csv")
	cfg.Sync = false
	return cfg
}

func newScraper(t *testing.T, cfg config.Config) (*Scraper, *bytes.Buffer) {
	t.Helper()

	httpClient, err := client.New(client.Config{
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	s, err := New(cfg, httpClient)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var buf bytes.Buffer
	s.SetLogger(zerolog.New(&buf))
	return s, &buf
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return string(data)
}

// errorLines returns the error-level log lines that reference page.
func errorLines(buf *bytes.Buffer, page int) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if gjson.Get(line, "level").String() != "error" {
			continue
		}
		if p := gjson.Get(line, "page"); p.Exists() && int(p.Int()) == page {
			out = append(out, line)
		}
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()

	cfg := testConfig(t, mock, 1)
	if _, err := New(cfg, nil); err == nil {
		t.Error("New() with nil fetcher should fail")
	}

	cfg.OnFieldError = "explode"
	if _, err := New(cfg, &client.Client{}); err == nil {
		t.Error("New() with unknown field error policy should fail")
	}
}

func TestRun_InvalidPageIsSkipped(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(0, testutil.NewProductsResponse(dolo))
	mock.SetPage(1, testutil.NewRawResponse(`{"data": {"products": [`))

	cfg := testConfig(t, mock, 2)
	cfg.MaxConcurrency = 2
	s, logs := newScraper(t, cfg)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := header + "Dolo 650,dolo-650,Micro Labs,30.5,true,img1.jpg\n"
	if diff := cmp.Diff(want, readOutput(t, cfg.Output)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	if lines := errorLines(logs, 1); len(lines) != 1 {
		t.Errorf("got %d error lines for page 1, want 1:\n%s", len(lines), logs.String())
	}
	if lines := errorLines(logs, 0); len(lines) != 0 {
		t.Errorf("unexpected error lines for page 0: %v", lines)
	}

	wantReport := Report{PagesAttempted: 2, PagesFailed: 1, RecordsWritten: 1}
	if diff := cmp.Diff(wantReport, report, cmpIgnoreDuration); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

var cmpIgnoreDuration = cmp.Comparer(func(a, b time.Duration) bool { return true })

func TestRun_TransportFailure(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(0, testutil.NewNotFoundResponse())
	mock.SetPage(1, testutil.NewProductsResponse(dolo))

	cfg := testConfig(t, mock, 2)
	s, logs := newScraper(t, cfg)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.PagesFailed != 1 || report.RecordsWritten != 1 {
		t.Errorf("report = %+v, want 1 failed page and 1 record", report)
	}

	lines := errorLines(logs, 0)
	if len(lines) != 1 {
		t.Fatalf("got %d error lines for page 0, want 1:\n%s", len(lines), logs.String())
	}
	if status := gjson.Get(lines[0], "status").Int(); status != 404 {
		t.Errorf("logged status = %d, want 404", status)
	}
	if class := gjson.Get(lines[0], "error_class").String(); class != string(client.ErrorClassClient) {
		t.Errorf("logged error_class = %q, want %q", class, client.ErrorClassClient)
	}
	if !strings.Contains(gjson.Get(lines[0], "url").String(), "page=0") {
		t.Errorf("logged url %q does not reference page 0", gjson.Get(lines[0], "url").String())
	}
}

func TestRun_EveryPageRequestedOnce(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()

	cfg := testConfig(t, mock, 4)
	cfg.MaxConcurrency = 4
	s, _ := newScraper(t, cfg)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for page := 0; page < 4; page++ {
		if n := mock.GetPageRequests(page); n != 1 {
			t.Errorf("page %d requested %d times, want 1", page, n)
		}
	}
	if n := mock.GetRequestCount(); n != 4 {
		t.Errorf("total requests = %d, want 4", n)
	}
}

func TestRun_Idempotent(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(0, testutil.NewProductsResponse(
		dolo,
		testutil.Product("Dolo 500", "dolo-500", "Micro Labs", 18, false, "img2.jpg"),
	))
	mock.SetPage(1, testutil.NewProductsResponse(
		testutil.Product("Dolo, Cold", "dolo-cold", "Micro \"Labs\"", 42.25, true, "img3.jpg"),
	))

	cfg := testConfig(t, mock, 2)
	s, _ := newScraper(t, cfg)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	first := readOutput(t, cfg.Output)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	second := readOutput(t, cfg.Output)

	if first != second {
		t.Errorf("second run changed the output:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
	if got := strings.Count(second, "\n"); got != 4 {
		t.Errorf("output has %d lines, want header + 3 rows:\n%s", got, second)
	}
}

func TestRun_SinkErrorIsFatal(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()

	cfg := testConfig(t, mock, 2)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Output = filepath.Join(blocker, "out.csv")
	s, _ := newScraper(t, cfg)

	_, err := s.Run(context.Background())

	var sinkErr *export.SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("Run() error = %v, want *export.SinkError", err)
	}
	if n := mock.GetRequestCount(); n != 0 {
		t.Errorf("made %d requests after the sink failed to open", n)
	}
}

// failingSink fails the failOn-th AppendPage call.
type failingSink struct {
	failOn  int
	appends int
	pages   [][]product.Record
	closed  bool
}

func (f *failingSink) Path() string { return "memory" }

func (f *failingSink) AppendPage(records []product.Record) error {
	f.appends++
	if f.appends == f.failOn {
		return &export.SinkError{Path: "memory", Op: "write", Err: errors.New("no space left on device")}
	}
	f.pages = append(f.pages, records)
	return nil
}

func (f *failingSink) Written() int {
	n := 0
	for _, p := range f.pages {
		n += len(p)
	}
	return n
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestRun_AppendFailureAbortsRun(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	for page := 0; page < 10; page++ {
		mock.SetPage(page, testutil.NewProductsResponse(dolo))
	}

	cfg := testConfig(t, mock, 10)
	s, logs := newScraper(t, cfg)
	sink := &failingSink{failOn: 2}
	s.openSink = func(string, export.Options) (recordSink, error) { return sink, nil }

	report, err := s.Run(context.Background())

	var sinkErr *export.SinkError
	if !errors.As(err, &sinkErr) || sinkErr.Op != "write" {
		t.Fatalf("Run() error = %v, want write *export.SinkError", err)
	}
	if sink.appends != 2 {
		t.Errorf("AppendPage called %d times, want the run to stop at the failing call", sink.appends)
	}
	if len(sink.pages) != 1 || report.RecordsWritten != 1 {
		t.Errorf("appended pages = %d, RecordsWritten = %d, want 1 and 1", len(sink.pages), report.RecordsWritten)
	}
	if !sink.closed {
		t.Error("sink was not closed")
	}
	if !strings.Contains(logs.String(), "Scrape aborted") {
		t.Errorf("missing abort log line:\n%s", logs.String())
	}
}

func TestRun_JSONFormat(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(0, testutil.NewProductsResponse(dolo))

	cfg := testConfig(t, mock, 2)
	cfg.Format = config.FormatJSON
	cfg.Output = filepath.Join(t.TempDir(), "pharmeasy.json")
	s, _ := newScraper(t, cfg)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out := readOutput(t, cfg.Output)
	if !gjson.Valid(out) {
		t.Fatalf("output is not valid JSON:\n%s", out)
	}
	if n := gjson.Get(out, "#").Int(); n != 1 {
		t.Errorf("array length = %d, want 1", n)
	}
	if got := gjson.Get(out, "0.price").Raw; got != "30.5" {
		t.Errorf("price = %s, want 30.5", got)
	}
	if got := gjson.Get(out, "0.availability").Bool(); !got {
		t.Error("availability = false, want true")
	}
}

func TestRun_FieldErrorPolicy(t *testing.T) {
	broken := `{"name":"Broken","slug":"broken","manufacturer":"X","productAvailabilityFlags":{"isAvailable":true},"image":"b.jpg"}`

	tests := []struct {
		name        string
		policy      string
		wantRows    int
		wantFailed  int
		wantSkipped int
	}{
		{"skip element", config.OnFieldErrorSkip, 1, 0, 1},
		{"discard page", config.OnFieldErrorDiscard, 0, 1, 0},
		{"truncate page", config.OnFieldErrorTruncate, 1, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockSearchAPI()
			defer mock.Close()
			mock.SetPage(0, testutil.NewProductsResponse(dolo, broken))

			cfg := testConfig(t, mock, 1)
			cfg.OnFieldError = tt.policy
			s, _ := newScraper(t, cfg)

			report, err := s.Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if got := strings.Count(readOutput(t, cfg.Output), "\n") - 1; got != tt.wantRows {
				t.Errorf("rows = %d, want %d", got, tt.wantRows)
			}
			if report.PagesFailed != tt.wantFailed || report.RecordsSkipped != tt.wantSkipped {
				t.Errorf("report = %+v, want %d failed pages and %d skipped records", report, tt.wantFailed, tt.wantSkipped)
			}
		})
	}
}

func TestRun_StopOnEmpty(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetPage(0, testutil.NewProductsResponse(dolo))
	// every other page serves the default empty product array

	cfg := testConfig(t, mock, 50)
	cfg.StopOnEmpty = true
	s, _ := newScraper(t, cfg)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := mock.GetRequestCount(); n >= 50 {
		t.Errorf("made %d requests, want the run to stop after the first empty page", n)
	}
	if report.PagesEmpty < 1 || report.RecordsWritten != 1 {
		t.Errorf("report = %+v, want at least one empty page and 1 record", report)
	}
}

func TestRun_NoPages(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()

	cfg := testConfig(t, mock, 0)
	s, _ := newScraper(t, cfg)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.PagesAttempted != 0 {
		t.Errorf("PagesAttempted = %d, want 0", report.PagesAttempted)
	}
	if got := readOutput(t, cfg.Output); got != header {
		t.Errorf("output = %q, want header only", got)
	}
}

func TestRun_Cancelled(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()

	cfg := testConfig(t, mock, 10)
	s, _ := newScraper(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if got := readOutput(t, cfg.Output); !strings.HasPrefix(got, header) {
		t.Errorf("output = %q, want header to be written", got)
	}
}
