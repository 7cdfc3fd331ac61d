package api

import (
	"html"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"imagehost/pkg/httperr"
)

const fallbackErrorPage = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>Error {{ status_code }}</title></head>
<body><h1>{{ status_code }}</h1><p>{{ message }}</p></body></html>
`

// ErrorRenderer writes errors as an HTML page for browsers and as
// {"error": message} JSON for everything else.
type ErrorRenderer struct {
	page string
}

// NewErrorRenderer loads error.html from fsys, falling back to a minimal
// built-in page when it cannot be read.
func NewErrorRenderer(fsys fs.FS) *ErrorRenderer {
	data, err := fs.ReadFile(fsys, "error.html")
	if err != nil {
		slog.Warn("Error page template unavailable, using built-in page", "error", err)
		return &ErrorRenderer{page: fallbackErrorPage}
	}
	return &ErrorRenderer{page: string(data)}
}

// Render writes err with its HTTP status.
func (e *ErrorRenderer) Render(w http.ResponseWriter, r *http.Request, err error) {
	status := httperr.StatusOf(err)
	msg := httperr.MessageOf(err)

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	if wantsHTML(r) {
		body := strings.NewReplacer(
			"{{ status_code }}", strconv.Itoa(status),
			"{{ message }}", html.EscapeString(msg),
		).Replace(e.page)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if _, werr := w.Write([]byte(body)); werr != nil {
			slog.Debug("Failed to write error page", "error", werr)
		}
		return
	}

	if jerr := writeJSON(w, status, map[string]string{"error": msg}); jerr != nil {
		slog.Error("Failed to encode error", "error", jerr)
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
