package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"imagehost/pkg/events"
	"imagehost/pkg/httperr"
	"imagehost/pkg/model"
	"imagehost/pkg/router"
	"imagehost/pkg/upload"
)

// UploadHandler accepts image uploads.
type UploadHandler struct {
	pipeline    *upload.Pipeline
	events      Publisher
	metrics     *Metrics
	bodyTimeout time.Duration
}

// NewUploadHandler creates an UploadHandler. pub and m may be nil; a zero
// bodyTimeout leaves the server's read timeout in charge.
func NewUploadHandler(p *upload.Pipeline, pub Publisher, m *Metrics, bodyTimeout time.Duration) *UploadHandler {
	return &UploadHandler{pipeline: p, events: pub, metrics: m, bodyTimeout: bodyTimeout}
}

// HandleForm handles the browser form and redirects to the success page.
// POST /upload
func (h *UploadHandler) HandleForm(w http.ResponseWriter, r *http.Request, _ router.Params) error {
	img, err := h.receive(w, r)
	if err != nil {
		return err
	}
	http.Redirect(w, r, "/upload_success.html?image="+url.QueryEscape(img.Filename), http.StatusMovedPermanently)
	h.pipeline.Responded(img)
	return nil
}

// HandleAPI handles programmatic uploads and answers with the stored record.
// POST /api/images
func (h *UploadHandler) HandleAPI(w http.ResponseWriter, r *http.Request, _ router.Params) error {
	img, err := h.receive(w, r)
	if err != nil {
		return err
	}
	if err := writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"filename":      img.Filename,
		"original_name": img.OriginalName,
		"size":          img.Size,
		"file_type":     img.FileType,
	}); err != nil {
		return err
	}
	h.pipeline.Responded(img)
	return nil
}

func (h *UploadHandler) receive(w http.ResponseWriter, r *http.Request) (*model.Image, error) {
	if h.bodyTimeout > 0 {
		rc := http.NewResponseController(w)
		if err := rc.SetReadDeadline(time.Now().Add(h.bodyTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			slog.Debug("Failed to set upload read deadline", "error", err)
		}
	}

	img, err := h.pipeline.Run(r.Context(), upload.Request{
		ContentLength: r.ContentLength,
		ContentType:   r.Header.Get("Content-Type"),
		Body:          r.Body,
	})
	if err != nil {
		if httperr.StatusOf(err) >= http.StatusInternalServerError {
			h.metrics.observeUpload(outcomeFailed, 0)
		} else {
			h.metrics.observeUpload(outcomeRejected, 0)
		}
		return nil, err
	}

	h.metrics.observeUpload(outcomeStored, img.Size)
	if h.events != nil {
		h.events.Publish(events.Event{Type: events.TypeUploaded, Image: img})
	}
	return img, nil
}
