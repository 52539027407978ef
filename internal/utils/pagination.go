package utils

import (
	"net/url"
	"strconv"
)

// Meta is the pagination block returned alongside every list.
type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type Page[T any] struct {
	Data []T  `json:"data"`
	Meta Meta `json:"meta"`
}

func NewPage[T any](items []T, p Pagination, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Data: items, Meta: Meta{Page: p.Page, Limit: p.Limit, Total: total}}
}

type Pagination struct {
	Page  int
	Limit int
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParsePagination reads page/limit, falling back to page 1 and defaultLimit,
// and clamps limit to maxLimit.
func ParsePagination(q url.Values, defaultLimit, maxLimit int) Pagination {
	page := parsePositive(q.Get("page"), 1)
	limit := parsePositive(q.Get("limit"), defaultLimit)
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return Pagination{Page: page, Limit: limit}
}

// ParseFloat returns nil when the value is absent or malformed.
func ParseFloat(value string) *float64 {
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parsePositive(value string, fallback int) int {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
