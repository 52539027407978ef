package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	p := ParsePagination(url.Values{}, 10, 100)
	assert.Equal(t, Pagination{Page: 1, Limit: 10}, p)
	assert.Equal(t, 0, p.Offset())

	p = ParsePagination(url.Values{"page": {"3"}, "limit": {"500"}}, 10, 100)
	assert.Equal(t, Pagination{Page: 3, Limit: 100}, p)
	assert.Equal(t, 200, p.Offset())

	p = ParsePagination(url.Values{"page": {"-1"}, "limit": {"abc"}}, 10, 100)
	assert.Equal(t, Pagination{Page: 1, Limit: 10}, p)
}

func TestNewPageNeverNil(t *testing.T) {
	page := NewPage[string](nil, Pagination{Page: 1, Limit: 10}, 0)
	assert.NotNil(t, page.Data)
	assert.Equal(t, Meta{Page: 1, Limit: 10, Total: 0}, page.Meta)
}

func TestParseFloat(t *testing.T) {
	assert.Nil(t, ParseFloat(""))
	assert.Nil(t, ParseFloat("x"))
	assert.Equal(t, 12.5, *ParseFloat("12.5"))
}
