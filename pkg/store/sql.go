package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"imagehost/pkg/db"
	"imagehost/pkg/model"
)

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	ImageStore
	FilenameLister
	Pinger

	// Close closes the store connection.
	Close() error
}

const imageColumns = "id, filename, original_name, size, file_type, upload_time"

// SQLStore implements Store on sqlite or postgres.
type SQLStore struct {
	db *db.DB
}

// NewSQLStore creates a new store.
func NewSQLStore(d *db.DB) *SQLStore {
	return &SQLStore{db: d}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks out a connection from the pool, which replaces dead ones.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*model.Image, error) {
	var img model.Image
	if err := row.Scan(&img.ID, &img.Filename, &img.OriginalName, &img.Size, &img.FileType, &img.UploadTime); err != nil {
		return nil, err
	}
	img.UploadTime = img.UploadTime.UTC()
	return &img, nil
}

func (s *SQLStore) AddImage(ctx context.Context, img *model.Image) error {
	if img.UploadTime.IsZero() {
		img.UploadTime = time.Now().UTC().Truncate(time.Microsecond)
	}

	row := s.db.QueryRowContext(ctx,
		s.db.Rebind(`INSERT INTO images (filename, original_name, size, file_type, upload_time) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		img.Filename, img.OriginalName, img.Size, img.FileType, img.UploadTime)
	if err := row.Scan(&img.ID); err != nil {
		return fmt.Errorf("failed to insert image %s: %w", img.Filename, err)
	}
	return nil
}

func (s *SQLStore) ListImages(ctx context.Context, page, perPage int) ([]model.Image, error) {
	page, perPage = model.ClampPage(page, perPage)

	rows, err := s.db.QueryContext(ctx,
		s.db.Rebind(`SELECT `+imageColumns+` FROM images ORDER BY upload_time DESC, id DESC LIMIT ? OFFSET ?`),
		perPage, model.Offset(page, perPage))
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	images := make([]model.Image, 0, perPage)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

func (s *SQLStore) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return n, nil
}

// GetImage returns the row with id, or nil if there is none.
func (s *SQLStore) GetImage(ctx context.Context, id int64) (*model.Image, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+imageColumns+` FROM images WHERE id = ?`), id)
	return s.one(row)
}

func (s *SQLStore) GetImageByFilename(ctx context.Context, filename string) (*model.Image, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+imageColumns+` FROM images WHERE filename = ?`), filename)
	return s.one(row)
}

func (s *SQLStore) DeleteImage(ctx context.Context, id int64) (*model.Image, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`DELETE FROM images WHERE id = ? RETURNING `+imageColumns), id)
	return s.one(row)
}

func (s *SQLStore) DeleteImageByFilename(ctx context.Context, filename string) (*model.Image, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`DELETE FROM images WHERE filename = ? RETURNING `+imageColumns), filename)
	return s.one(row)
}

func (s *SQLStore) ListFilenames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM images`)
	if err != nil {
		return nil, fmt.Errorf("failed to list filenames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLStore) one(row *sql.Row) (*model.Image, error) {
	img, err := scanImage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return img, nil
}
