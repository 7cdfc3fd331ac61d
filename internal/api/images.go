package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"imagehost/pkg/events"
	"imagehost/pkg/httperr"
	"imagehost/pkg/imagefs"
	"imagehost/pkg/model"
	"imagehost/pkg/router"
	"imagehost/pkg/store"
)

// Publisher receives image lifecycle events.
type Publisher interface {
	Publish(ev events.Event)
}

// ImageHandler lists, serves and deletes stored images.
type ImageHandler struct {
	store   store.ImageStore
	dir     *imagefs.Dir
	events  Publisher
	metrics *Metrics
}

// NewImageHandler creates an ImageHandler. pub and m may be nil.
func NewImageHandler(st store.ImageStore, dir *imagefs.Dir, pub Publisher, m *Metrics) *ImageHandler {
	return &ImageHandler{store: st, dir: dir, events: pub, metrics: m}
}

// HandleList returns one page of image metadata, newest first.
// GET /api/images?page=&per_page=
func (h *ImageHandler) HandleList(w http.ResponseWriter, r *http.Request, _ router.Params) error {
	q := r.URL.Query()
	page, perPage := model.ClampPage(
		intParam(q.Get("page"), model.DefaultPage),
		intParam(q.Get("per_page"), model.DefaultPerPage),
	)

	total, err := h.store.CountImages(r.Context())
	if err != nil {
		return httperr.Internal("Failed to count images", err)
	}
	var images []model.Image
	if model.Offset(page, perPage) < total {
		images, err = h.store.ListImages(r.Context(), page, perPage)
		if err != nil {
			return httperr.Internal("Failed to list images", err)
		}
	}
	if images == nil {
		images = []model.Image{}
	}

	return writeJSON(w, http.StatusOK, model.Page{
		Images:  images,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// HandleGet streams an image. HEAD gets the headers only.
// GET /images/<filename>, GET /api/images/<filename>
func (h *ImageHandler) HandleGet(w http.ResponseWriter, r *http.Request, p router.Params) error {
	name := p.Get("filename")
	f, err := h.dir.Open(name)
	switch {
	case errors.Is(err, imagefs.ErrInvalidName), errors.Is(err, os.ErrNotExist):
		return httperr.NotFound("Image not found")
	case err != nil:
		return httperr.Internal("Failed to open image", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return httperr.Internal("Failed to stat image", err)
	}
	if !info.Mode().IsRegular() {
		return httperr.NotFound("Image not found")
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return httperr.Internal("Failed to read image", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return httperr.Internal("Failed to read image", err)
	}

	w.Header().Set("Content-Type", http.DetectContentType(head[:n]))
	http.ServeContent(w, r, name, info.ModTime(), f)
	return nil
}

// HandleDelete removes an image by storage filename.
// DELETE /api/images/<filename>
func (h *ImageHandler) HandleDelete(w http.ResponseWriter, r *http.Request, p router.Params) error {
	name := p.Get("filename")
	if !imagefs.ValidName(name) {
		return httperr.NotFound("Image not found")
	}
	img, err := h.store.DeleteImageByFilename(r.Context(), name)
	if err != nil {
		return httperr.Internal("Failed to delete image metadata", err)
	}
	if img == nil {
		return httperr.NotFound("Image not found")
	}
	h.removed(img)
	return writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleDeleteByID removes an image by metadata id and answers with JSON.
// DELETE /api/delete/<id>
func (h *ImageHandler) HandleDeleteByID(w http.ResponseWriter, r *http.Request, p router.Params) error {
	img, err := h.deleteByID(r.Context(), p.Get("id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"id":       img.ID,
		"filename": img.Filename,
	})
}

// HandleDeleteByIDRedirect removes an image by id and sends the browser
// back to the gallery.
// GET /delete/<id>
func (h *ImageHandler) HandleDeleteByIDRedirect(w http.ResponseWriter, r *http.Request, p router.Params) error {
	if _, err := h.deleteByID(r.Context(), p.Get("id")); err != nil {
		return err
	}
	http.Redirect(w, r, "/all_images.html", http.StatusMovedPermanently)
	return nil
}

func (h *ImageHandler) deleteByID(ctx context.Context, raw string) (*model.Image, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, httperr.BadRequest("Invalid image id: %q", raw)
	}
	img, err := h.store.DeleteImage(ctx, id)
	if err != nil {
		return nil, httperr.Internal("Failed to delete image metadata", err)
	}
	if img == nil {
		return nil, httperr.NotFound("Image not found")
	}
	h.removed(img)
	return img, nil
}

// removed finishes a delete once the row is gone. A file that cannot be
// removed is left for reconciliation.
func (h *ImageHandler) removed(img *model.Image) {
	if err := h.dir.Remove(img.Filename); err != nil {
		slog.Error("Failed to remove image file", "file", img.Filename, "error", err)
	}
	slog.Info("Image deleted", "id", img.ID, "file", img.Filename)
	h.metrics.observeDelete()
	if h.events != nil {
		h.events.Publish(events.Event{Type: events.TypeDeleted, Image: img})
	}
}
