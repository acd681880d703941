// Package request builds the page requests for the product search endpoint.
package request

import (
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
)

// SearchPath is the search API path relative to the base URL.
const SearchPath = "/api/search/search/"

// PageRequest identifies one page of search results by its zero-based index.
type PageRequest struct {
	PageIndex int
}

// Descriptor is a fully formed page request.
type Descriptor struct {
	PageRequest
	URL    string
	Header http.Header
}

// Endpoint describes the search endpoint template.
type Endpoint struct {
	// BaseURL is scheme and host, e.g. "https://pharmeasy.in"
	BaseURL string
	// IntentID is an opaque identifier the API expects with every search
	IntentID string
	// Query is the search term
	Query string
}

// URL renders the request URL for a page.
// Parameter order follows the API's own links: intent_id, q, page.
func (e Endpoint) URL(page int) string {
	return fmt.Sprintf("%s%s?intent_id=%s&q=%s&page=%d",
		strings.TrimRight(e.BaseURL, "/"),
		SearchPath,
		url.QueryEscape(e.IntentID),
		url.QueryEscape(e.Query),
		page,
	)
}

// Generator produces page requests for indices 0..Pages-1.
type Generator struct {
	Endpoint  Endpoint
	Pages     int
	UserAgent string
}

// NewGenerator creates a generator for the given endpoint.
func NewGenerator(endpoint Endpoint, pages int, userAgent string) *Generator {
	return &Generator{
		Endpoint:  endpoint,
		Pages:     pages,
		UserAgent: userAgent,
	}
}

// Requests returns a lazy sequence of page descriptors.
// Every iteration of the returned sequence starts again at page 0.
func (g *Generator) Requests() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		for page := 0; page < g.Pages; page++ {
			if !yield(g.Descriptor(page)) {
				return
			}
		}
	}
}

// Descriptor builds the descriptor for a single page.
func (g *Generator) Descriptor(page int) Descriptor {
	header := make(http.Header, 2)
	if g.UserAgent != "" {
		header.Set("User-Agent", g.UserAgent)
	}
	header.Set("Accept", "application/json")

	return Descriptor{
		PageRequest: PageRequest{PageIndex: page},
		URL:         g.Endpoint.URL(page),
		Header:      header,
	}
}
