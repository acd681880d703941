package product

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is returned when a response body is not valid JSON.
	ErrDecode = errors.New("decode response")

	// ErrMissingProducts is returned when the product array is absent or not an array.
	ErrMissingProducts = fmt.Errorf("%w: product array not found", ErrDecode)
)

// FieldError reports a product element that lacks an expected field
// or carries a value of the wrong type.
type FieldError struct {
	Page   int
	Index  int
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("page %d product %d: field %q %s", e.Page, e.Index, e.Field, e.Reason)
}
