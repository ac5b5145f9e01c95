// Package paging holds offset pagination parameters shared by list queries.
package paging

import "math"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
	// MaxNumber is the largest page whose offset fits in an int.
	MaxNumber = math.MaxInt / MaxPerPage
)

// Page selects a 1-based page of results.
type Page struct {
	Number  int
	PerPage int
}

// Normalize clamps p into the accepted range.
func (p Page) Normalize() Page {
	switch {
	case p.Number < 1:
		p.Number = 1
	case p.Number > MaxNumber:
		p.Number = MaxNumber
	}
	switch {
	case p.PerPage < 1:
		p.PerPage = DefaultPerPage
	case p.PerPage > MaxPerPage:
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}

// TotalPages returns the number of pages needed for total items.
func (p Page) TotalPages(total int) int {
	if total <= 0 || p.PerPage <= 0 {
		return 0
	}
	return (total + p.PerPage - 1) / p.PerPage
}
