package pagination

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	DefaultPage  = 1
	// MaxPage keeps (page-1)*pageSize inside an int32 offset.
	MaxPage = math.MaxInt32 / MaxLimit
)

// Params holds limit/offset pagination extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts limit/offset parameters from the echo context.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return NewParams(limit, offset)
}

// NewParams clamps limit to (0, MaxLimit] and offset to >= 0.
func NewParams(limit, offset int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Response wraps a limit/offset paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// PageParams is 1-based page/page-size pagination.
type PageParams struct {
	Page     int
	PageSize int
}

// NewPageParams applies the defaults to non-positive values, caps the page
// size at MaxLimit and the page at MaxPage.
func NewPageParams(page, pageSize int) PageParams {
	if page <= 0 {
		page = DefaultPage
	}
	if page > MaxPage {
		page = MaxPage
	}
	if pageSize <= 0 {
		pageSize = DefaultLimit
	}
	if pageSize > MaxLimit {
		pageSize = MaxLimit
	}
	return PageParams{Page: page, PageSize: pageSize}
}

// PageFromContext reads page and page_size query parameters.
func PageFromContext(c echo.Context) PageParams {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	return NewPageParams(page, size)
}

// Offset is the number of rows skipped before this page.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of items. Items is never nil so it encodes as [].
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

func NewPage[T any](items []T, total int, p PageParams) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if p.PageSize > 0 {
		pages = (total + p.PageSize - 1) / p.PageSize
	}
	return Page[T]{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize, TotalPages: pages}
}
