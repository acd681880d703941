// Package testutil provides a mock search API for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mocked page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSearchAPI is a configurable mock of the product search endpoint.
// Responses are keyed by the "page" query parameter.
type MockSearchAPI struct {
	server *httptest.Server
	mu     sync.RWMutex
	pages  map[int][]MockResponse

	// Tracking
	RequestCount      int
	PageRequests      map[int]int
	LastRequestHeader http.Header
}

// NewMockSearchAPI starts a new mock server.
func NewMockSearchAPI() *MockSearchAPI {
	mock := &MockSearchAPI{
		pages:        make(map[int][]MockResponse),
		PageRequests: make(map[int]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server base URL.
func (m *MockSearchAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSearchAPI) Close() {
	m.server.Close()
}

// SetPage configures the response for a page. Passing several responses
// serves them in order, repeating the last one.
func (m *MockSearchAPI) SetPage(page int, resp ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[page] = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSearchAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageRequests returns how often a page was requested.
func (m *MockSearchAPI) GetPageRequests(page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageRequests[page]
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockSearchAPI) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func (m *MockSearchAPI) handle(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || !strings.HasSuffix(r.URL.Path, "/api/search/search/") {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	call := m.PageRequests[page]
	m.PageRequests[page]++
	responses, exists := m.pages[page]
	m.mu.Unlock()

	if !exists || len(responses) == 0 {
		writeResponse(w, NewProductsResponse())
		return
	}
	if call >= len(responses) {
		call = len(responses) - 1
	}
	writeResponse(w, responses[call])
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// Product returns the JSON of one well-formed product element.
func Product(name, slug, manufacturer string, price float64, available bool, image string) string {
	return fmt.Sprintf(
		`{"name":%q,"slug":%q,"manufacturer":%q,"salePriceDecimal":%s,"productAvailabilityFlags":{"isAvailable":%t},"image":%q}`,
		name, slug, manufacturer, strconv.FormatFloat(price, 'f', -1, 64), available, image,
	)
}

// NewProductsResponse creates a 200 OK response wrapping the given product elements.
func NewProductsResponse(products ...string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":{"products":[` + strings.Join(products, ",") + `]}}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRawResponse creates a 200 OK response with an arbitrary body.
func NewRawResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
