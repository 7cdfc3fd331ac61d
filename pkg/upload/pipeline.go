// Package upload validates uploaded images and stores them together with
// their metadata.
//
// A file and its metadata row are written both or neither: once the file is
// on disk, every later failure removes it before Run returns.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"imagehost/pkg/formdata"
	"imagehost/pkg/httperr"
	"imagehost/pkg/imagefs"
	"imagehost/pkg/model"
	"imagehost/pkg/store"
)

// FileFields are the form fields searched for the uploaded file, in order.
var FileFields = []string{"image", "file"}

// Request is the raw upload as received.
type Request struct {
	ContentLength int64
	ContentType   string
	Body          io.Reader
}

// Pipeline runs uploads.
type Pipeline struct {
	validator *Validator
	dir       *imagefs.Dir
	store     store.ImageStore
	observe   func(State)
	newName   func(ext string) string
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers fn to be called on every state change.
func WithObserver(fn func(State)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

// WithNameFunc replaces the storage name generator.
func WithNameFunc(fn func(ext string) string) Option {
	return func(p *Pipeline) { p.newName = fn }
}

// New creates a pipeline.
func New(v *Validator, dir *imagefs.Dir, st store.ImageStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		validator: v,
		dir:       dir,
		store:     st,
		observe:   func(State) {},
		newName:   func(ext string) string { return uuid.NewString() + "." + ext },
		logger:    slog.With("component", "upload"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run takes an upload from receipt to a recorded image.
func (p *Pipeline) Run(ctx context.Context, req Request) (img *model.Image, err error) {
	state := Receiving
	stored := ""
	p.observe(state)

	advance := func(next State) {
		state = next
		p.observe(next)
		p.logger.Debug("Upload state", "state", next, "file", stored)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = httperr.Internal(fmt.Sprintf("Internal error: %v", rec), nil)
			img = nil
		}
		if err == nil {
			return
		}
		if stored != "" {
			if rmErr := p.dir.Remove(stored); rmErr != nil {
				p.logger.Error("Failed to remove rejected upload", "file", stored, "error", rmErr)
			} else {
				p.logger.Info("Removed rejected upload", "file", stored)
			}
		}
		p.logger.Warn("Upload aborted", "state", state, "status", httperr.StatusOf(err), "error", err)
		state = Aborted
		p.observe(Aborted)
	}()

	if err := p.validator.CheckSize(req.ContentLength); err != nil {
		return nil, err
	}
	advance(SizeChecked)

	body := make([]byte, req.ContentLength)
	if _, err := io.ReadFull(req.Body, body); err != nil {
		return nil, httperr.Wrap(http.StatusBadRequest, "Incomplete request body", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, httperr.Wrap(http.StatusBadRequest, "Upload cancelled", err)
	}

	form, err := formdata.Parse(req.ContentType, body)
	switch {
	case errors.Is(err, formdata.ErrNotMultipart):
		return nil, httperr.Wrap(http.StatusBadRequest, "Expected multipart/form-data", err)
	case err != nil:
		return nil, httperr.Wrap(http.StatusBadRequest, "Malformed multipart body", err)
	}
	file, ok := form.File(FileFields...)
	if !ok {
		return nil, httperr.BadRequest("No file uploaded: expected a form field named 'image' or 'file'")
	}
	advance(Parsed)

	ext, err := p.validator.CheckExtension(file.Filename)
	if err != nil {
		return nil, err
	}
	mimeType, err := p.validator.CheckContent(file.Content)
	if err != nil {
		return nil, err
	}
	advance(Validated)

	name := p.newName(ext)
	path, err := p.dir.Create(name, file.Content)
	if err != nil {
		return nil, httperr.Internal("Failed to store file", err)
	}
	stored = name
	advance(Stored)

	if err := ctx.Err(); err != nil {
		return nil, httperr.Wrap(http.StatusBadRequest, "Upload cancelled", err)
	}
	if err := p.validator.Verify(path); err != nil {
		return nil, err
	}
	advance(Verified)

	img = &model.Image{
		Filename:     name,
		OriginalName: file.Filename,
		Size:         int64(len(file.Content)),
		FileType:     mimeType,
	}
	if err := p.store.AddImage(ctx, img); err != nil {
		return nil, httperr.Internal("Failed to save image metadata", err)
	}
	stored = "" // owned by the metadata row from here on
	advance(Recorded)

	p.logger.Info("Image uploaded", "file", img.Filename, "original", img.OriginalName, "size", img.Size, "type", img.FileType)
	return img, nil
}

// Responded marks the upload as answered.
func (p *Pipeline) Responded(img *model.Image) {
	p.observe(Responded)
	p.logger.Debug("Upload state", "state", Responded, "file", img.Filename)
}
