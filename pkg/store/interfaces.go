package store

import (
	"context"

	"imagehost/pkg/model"
)

// ImageStore handles image metadata persistence.
// Deletes return (nil, nil) when the record does not exist.
type ImageStore interface {
	AddImage(ctx context.Context, img *model.Image) error
	ListImages(ctx context.Context, page, perPage int) ([]model.Image, error)
	CountImages(ctx context.Context) (int, error)
	// DeleteImage removes the row and returns it, or nil if there was none.
	DeleteImage(ctx context.Context, id int64) (*model.Image, error)
	DeleteImageByFilename(ctx context.Context, filename string) (*model.Image, error)
}

// FilenameLister enumerates every stored filename. Used by reconciliation.
type FilenameLister interface {
	ListFilenames(ctx context.Context) ([]string, error)
}

// Pinger verifies the backing connection is usable, reconnecting if needed.
type Pinger interface {
	Ping(ctx context.Context) error
}
