package pagination

import "strconv"

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Params struct {
	Page  int
	Limit int
}

// Parse reads raw page/limit query values. Garbage and out-of-range values fall
// back to page 1 and DefaultLimit; limit is capped at MaxLimit.
func Parse(rawPage, rawLimit string) Params {
	p := Params{Page: 1, Limit: DefaultLimit}
	if n, err := strconv.Atoi(rawPage); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(rawLimit); err == nil && n > 0 {
		p.Limit = n
	}
	return p.Normalize()
}

func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Params) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

type Result[T any] struct {
	Rows  []T   `json:"rows"`
	Count int64 `json:"count"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

func NewResult[T any](rows []T, count int64, p Params) Result[T] {
	if rows == nil {
		rows = []T{}
	}
	p = p.Normalize()
	return Result[T]{Rows: rows, Count: count, Page: p.Page, Limit: p.Limit}
}
