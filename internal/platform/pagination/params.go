// Package pagination parses page-number query parameters.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 10
	// DefaultMaxPageSize caps page_size.
	DefaultMaxPageSize = 50
)

var (
	ErrInvalidPage     = errors.New("pagination: invalid page")
	ErrInvalidPageSize = errors.New("pagination: invalid page_size")
)

// Params is a 1-based page number and a page size.
type Params struct {
	Page     int
	PageSize int
}

// Options controls Parse defaults for one handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Parse reads page and page_size from values. Absent values fall back to page 1 and the
// default size; page_size above the maximum is clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	limit := opts.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}

	params := Params{Page: 1, PageSize: size}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPage, raw)
		}
		params.Page = page
	}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = min(n, limit)
	}
	return params, nil
}
