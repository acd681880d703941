// Package product turns search API response bodies into flat product records.
package product

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Header is the column order shared by the CSV header and every data row.
var Header = []string{"name", "slug", "manufacturer", "price", "availability", "images"}

// Record is one product flattened to the output schema.
type Record struct {
	Name         string
	Slug         string
	Manufacturer string
	Price        decimal.Decimal
	Available    bool
	// Images is the image string, or compact JSON when the API returns a structured reference.
	Images string
}

// Row renders the record in Header order.
func (r Record) Row() []string {
	return []string{
		r.Name,
		r.Slug,
		r.Manufacturer,
		r.Price.String(),
		strconv.FormatBool(r.Available),
		r.Images,
	}
}
