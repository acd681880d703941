package product

import (
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// JSON paths inside a search response.
const (
	ProductsPath = "data.products"

	FieldName         = "name"
	FieldSlug         = "slug"
	FieldManufacturer = "manufacturer"
	FieldPrice        = "salePriceDecimal"
	FieldAvailability = "productAvailabilityFlags.isAvailable"
	FieldImage        = "image"
)

// Prices outside these bounds are rejected before they reach Decimal.String,
// which expands the exponent into a full digit string.
const (
	maxPriceIntegerDigits  = 15
	maxPriceFractionDigits = 30
)

// Policy decides what a malformed product element does to its page.
type Policy int

const (
	// SkipElement drops the malformed element and keeps the rest of the page.
	SkipElement Policy = iota

	// DiscardPage drops every record of the page on the first malformed element.
	DiscardPage

	// TruncatePage keeps the records before the first malformed element and
	// drops that element and everything after it.
	TruncatePage
)

// ParsePolicy maps "skip", "discard" and "truncate" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "skip", "":
		return SkipElement, nil
	case "discard":
		return DiscardPage, nil
	case "truncate":
		return TruncatePage, nil
	default:
		return SkipElement, fmt.Errorf("unknown field error policy %q", s)
	}
}

// String returns the config spelling of the policy.
func (p Policy) String() string {
	switch p {
	case DiscardPage:
		return "discard"
	case TruncatePage:
		return "truncate"
	default:
		return "skip"
	}
}

// Result is the outcome of parsing one page.
// Err is set when the page did not parse completely: a decode failure, or a
// malformed element under DiscardPage or TruncatePage. Records holds what was
// kept (nothing for decode failures and DiscardPage).
type Result struct {
	Page    int
	URL     string
	Records []Record
	Skipped []*FieldError
	Err     error
}

// Parser extracts records from search response bodies.
type Parser struct {
	logger zerolog.Logger
	policy Policy
}

// NewParser creates a parser that logs failures to logger.
func NewParser(logger zerolog.Logger, policy Policy) *Parser {
	return &Parser{
		logger: logger,
		policy: policy,
	}
}

// Parse decodes one page body. It never panics on malformed input and
// logs each failure once with the page and URL.
func (p *Parser) Parse(page int, url string, body []byte) Result {
	res := Result{Page: page, URL: url}
	logger := p.logger.With().Int("page", page).Str("url", url).Logger()

	if !utf8.Valid(body) {
		res.Err = fmt.Errorf("page %d: %w: invalid UTF-8 (%d bytes)", page, ErrDecode, len(body))
		logger.Error().Err(res.Err).Msg("Failed to decode response")
		return res
	}
	if !gjson.ValidBytes(body) {
		res.Err = fmt.Errorf("page %d: %w: invalid JSON (%d bytes)", page, ErrDecode, len(body))
		logger.Error().Err(res.Err).Msg("Failed to decode response")
		return res
	}

	products := gjson.GetBytes(body, ProductsPath)
	if !products.Exists() || !products.IsArray() {
		res.Err = fmt.Errorf("page %d: %w at %q", page, ErrMissingProducts, ProductsPath)
		logger.Error().Err(res.Err).Msg("Failed to decode response")
		return res
	}

	var stopped *FieldError
	index := 0
	products.ForEach(func(_, item gjson.Result) bool {
		rec, fieldErr := extract(page, index, item)
		index++
		if fieldErr == nil {
			res.Records = append(res.Records, rec)
			return true
		}
		if p.policy != SkipElement {
			stopped = fieldErr
			return false
		}
		res.Skipped = append(res.Skipped, fieldErr)
		logger.Warn().
			Int("index", fieldErr.Index).
			Str("field", fieldErr.Field).
			Str("reason", fieldErr.Reason).
			Msg("Skipping malformed product")
		return true
	})

	if stopped != nil {
		res.Err = stopped
		msg := "Truncating page at malformed product"
		if p.policy == DiscardPage {
			res.Records = nil
			msg = "Discarding page with malformed product"
		}
		logger.Error().
			Err(stopped).
			Int("index", stopped.Index).
			Str("field", stopped.Field).
			Int("records", len(res.Records)).
			Msg(msg)
		return res
	}

	logger.Debug().Int("records", len(res.Records)).Int("skipped", len(res.Skipped)).Msg("Page parsed")
	return res
}

// extract builds a record from one product element. Either every field is
// present and well typed, or nothing is returned.
func extract(page, index int, item gjson.Result) (Record, *FieldError) {
	fail := func(field, reason string) (Record, *FieldError) {
		return Record{}, &FieldError{Page: page, Index: index, Field: field, Reason: reason}
	}

	var rec Record
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{FieldName, &rec.Name},
		{FieldSlug, &rec.Slug},
		{FieldManufacturer, &rec.Manufacturer},
	} {
		v := item.Get(f.path)
		if !present(v) {
			return fail(f.path, "is missing")
		}
		*f.dst = v.String()
	}

	price := item.Get(FieldPrice)
	var raw string
	switch {
	case !present(price):
		return fail(FieldPrice, "is missing")
	case price.Type == gjson.Number:
		raw = price.Raw
	case price.Type == gjson.String:
		raw = price.Str
	default:
		return fail(FieldPrice, "is not a number")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fail(FieldPrice, "is not a decimal: "+err.Error())
	}
	if !priceInRange(d) {
		return fail(FieldPrice, "is out of range")
	}
	rec.Price = d

	available := item.Get(FieldAvailability)
	switch {
	case !present(available):
		return fail(FieldAvailability, "is missing")
	case !available.IsBool():
		return fail(FieldAvailability, "is not a boolean")
	}
	rec.Available = available.Bool()

	image := item.Get(FieldImage)
	switch {
	case !present(image):
		return fail(FieldImage, "is missing")
	case image.Type == gjson.String:
		rec.Images = image.Str
	default:
		rec.Images = item.Get(FieldImage + "|@ugly").Raw
	}

	return rec, nil
}

func present(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.Null
}

// priceInRange bounds the digits Decimal.String would render on either side
// of the decimal point.
func priceInRange(d decimal.Decimal) bool {
	exp := int64(d.Exponent())
	if exp < -maxPriceFractionDigits {
		return false
	}
	return int64(d.NumDigits())+exp <= maxPriceIntegerDigits
}
