package api

import (
	"bytes"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"

	"imagehost/internal/ui"
	"imagehost/pkg/httperr"
	"imagehost/pkg/router"
)

// StaticHandler serves the pages and assets, from disk when a directory is
// configured and from the embedded copy otherwise.
type StaticHandler struct {
	fsys fs.FS
}

// NewStaticHandler creates a StaticHandler rooted at dir, or at the embedded
// assets when dir is empty.
func NewStaticHandler(dir string) *StaticHandler {
	return &StaticHandler{fsys: staticFS(dir)}
}

func staticFS(dir string) fs.FS {
	if dir == "" {
		return ui.StaticFS
	}
	return os.DirFS(dir)
}

// FS returns the filesystem the handler serves from.
func (h *StaticHandler) FS() fs.FS {
	return h.fsys
}

// Page returns a handler that always serves the named file.
func (h *StaticHandler) Page(name string) router.Handler {
	return func(w http.ResponseWriter, r *http.Request, _ router.Params) error {
		return h.serve(w, r, name)
	}
}

// HandleAsset serves files below /static/.
// GET /static/<path:path>
func (h *StaticHandler) HandleAsset(w http.ResponseWriter, r *http.Request, p router.Params) error {
	return h.serve(w, r, p.Get("path"))
}

// Redirect returns a handler answering 301 to target.
func Redirect(target string) router.Handler {
	return func(w http.ResponseWriter, r *http.Request, _ router.Params) error {
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return nil
	}
}

func (h *StaticHandler) serve(w http.ResponseWriter, r *http.Request, name string) error {
	// fs.ValidPath rejects "..", absolute paths and empty segments.
	if !fs.ValidPath(name) || name == "." {
		return httperr.NotFound("Not Found")
	}

	info, err := fs.Stat(h.fsys, name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return httperr.NotFound("Not Found")
	case err != nil:
		return httperr.Internal("Failed to read static file", err)
	case info.IsDir():
		return httperr.NotFound("Not Found")
	}

	data, err := fs.ReadFile(h.fsys, name)
	if err != nil {
		return httperr.Internal("Failed to read static file", err)
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(data))
	return nil
}
