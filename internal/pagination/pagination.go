package pagination

import (
	"math"

	"github.com/gofiber/fiber/v2"
)

// MaxPageSize caps the page size a client may request
const MaxPageSize = 500

// Metadata describes one page of a listing
type Metadata struct {
	TotalCount  int64 `json:"totalCount"`
	PageSize    int   `json:"pageSize"`
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	HasPrevious bool  `json:"hasPrevious"`
	HasNext     bool  `json:"hasNext"`
}

// GetPaginationParams extracts pagination parameters from Fiber context with default values
func GetPaginationParams(c *fiber.Ctx, defaultPage, defaultPageSize int) (page int, pageSize int) {
	page = c.QueryInt("page", defaultPage)
	pageSize = c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// CalculateOffset calculates the offset for database queries based on page and page size
func CalculateOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return (page - 1) * pageSize
}

// Calculate calculates the complete pagination metadata for a given total count, page, and page size
func Calculate(totalCount int64, page, pageSize int) Metadata {
	if pageSize < 1 {
		pageSize = 1
	}
	totalPages := int(math.Ceil(float64(totalCount) / float64(pageSize)))

	currentPage := page
	if currentPage > totalPages && totalPages > 0 {
		currentPage = totalPages
	}

	meta := Metadata{
		TotalCount:  totalCount,
		PageSize:    pageSize,
		CurrentPage: currentPage,
		TotalPages:  totalPages,
	}
	if totalCount > 0 {
		meta.HasPrevious = currentPage > 1
		meta.HasNext = currentPage < totalPages
	}
	return meta
}
