package models

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrInvalidPage = errors.New("invalid pagination")

// Page is an explicit pagination request. SortKey must be one of the keys the
// listing declares.
type Page struct {
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	SortKey       string `json:"sortKey"`
	SortDirection string `json:"sortDirection"`
}

// Normalize fills defaults and checks the page against the allowed sort keys.
// The map goes from public sort key to SQL column.
func (p *Page) Normalize(sortColumns map[string]string, defaultKey string) error {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrInvalidPage)
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return fmt.Errorf("%w: pageSize must be between 1 and %d", ErrInvalidPage, MaxPageSize)
	}
	if p.SortKey == "" {
		p.SortKey = defaultKey
	}
	if _, ok := sortColumns[p.SortKey]; !ok {
		return fmt.Errorf("%w: unknown sortKey %q", ErrInvalidPage, p.SortKey)
	}
	p.SortDirection = strings.ToLower(p.SortDirection)
	switch p.SortDirection {
	case "":
		p.SortDirection = "desc"
	case "asc", "desc":
	default:
		return fmt.Errorf("%w: sortDirection must be asc or desc", ErrInvalidPage)
	}
	return nil
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// OrderBy renders the ORDER BY clause body. Normalize must have succeeded first.
func (p Page) OrderBy(sortColumns map[string]string) string {
	column, dir := sortColumns[p.SortKey], strings.ToUpper(p.SortDirection)
	if column == "id" {
		return "id " + dir
	}
	return fmt.Sprintf("%s %s, id %s", column, dir, dir)
}

// PageResult wraps one page of items.
type PageResult[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}
