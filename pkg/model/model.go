package model

import (
	"math"
	"time"
)

// Image is the metadata record of a stored image.
type Image struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`      // Storage name, <uuid>.<ext>
	OriginalName string    `json:"original_name"` // Name supplied by the client
	Size         int64     `json:"size"`          // Bytes
	FileType     string    `json:"file_type"`     // Sniffed MIME type, e.g. image/png
	UploadTime   time.Time `json:"upload_time"`
}

// Listing bounds.
const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 50

	// MaxPage keeps Offset from overflowing.
	MaxPage = math.MaxInt / MaxPerPage
)

// Page is one page of the image listing.
type Page struct {
	Images  []Image `json:"images"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// ClampPage normalises listing parameters: page lies in [1, MaxPage] and
// perPage in [1, MaxPerPage].
func ClampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// Offset returns the row offset of page.
func Offset(page, perPage int) int {
	return (page - 1) * perPage
}
