package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"imagehost/pkg/config"
	"imagehost/pkg/events"
	"imagehost/pkg/httperr"
	"imagehost/pkg/imagefs"
	"imagehost/pkg/router"
	"imagehost/pkg/store"
	"imagehost/pkg/upload"
	"imagehost/pkg/version"
)

// Backend is the metadata store as seen by the HTTP layer.
type Backend interface {
	store.ImageStore
	store.Pinger
}

// Deps are the collaborators the HTTP surface is built from. Hub and Metrics
// are optional.
type Deps struct {
	Config   *config.Config
	Store    Backend
	Dir      *imagefs.Dir
	Pipeline *upload.Pipeline
	Hub      *events.Hub
	Metrics  *Metrics
}

// NewHandler builds the router and wraps it in a Dispatcher.
func NewHandler(d Deps) (*Dispatcher, error) {
	static := NewStaticHandler(d.Config.Static.Dir)
	rt, err := NewRouter(d, static)
	if err != nil {
		return nil, err
	}
	return NewDispatcher(rt, NewErrorRenderer(static.FS()), d.Metrics), nil
}

// NewRouter registers every route. Literal routes come before parameterised
// ones sharing a prefix, since the first registered match wins.
func NewRouter(d Deps, static *StaticHandler) (*router.Router, error) {
	var pub Publisher
	if d.Hub != nil {
		pub = d.Hub
	}
	images := NewImageHandler(d.Store, d.Dir, pub, d.Metrics)
	uploads := NewUploadHandler(d.Pipeline, pub, d.Metrics, time.Duration(d.Config.Upload.BodyTimeout))
	health := &healthHandler{db: d.Store}

	routes := []struct {
		method   string
		template string
		handler  router.Handler
	}{
		// Pages
		{http.MethodGet, "/", static.Page("index.html")},
		{http.MethodGet, "/upload", static.Page("upload.html")},
		{http.MethodGet, "/images", Redirect("/all_images.html")},
		{http.MethodGet, "/all_images.html", static.Page("all_images.html")},
		{http.MethodGet, "/upload_success.html", static.Page("upload_success.html")},
		{http.MethodGet, "/favicon.ico", static.Page("favicon.ico")},

		// Operational
		{http.MethodGet, "/health", health.handle},
		{http.MethodGet, "/api/version", handleVersion},

		// Uploads
		{http.MethodPost, "/upload", uploads.HandleForm},
		{http.MethodPost, "/api/images", uploads.HandleAPI},

		// Images
		{http.MethodGet, "/api/images", images.HandleList},
		{http.MethodGet, "/api/images/<filename>", images.HandleGet},
		{http.MethodHead, "/api/images/<filename>", images.HandleGet},
		{http.MethodDelete, "/api/images/<filename>", images.HandleDelete},
		{http.MethodDelete, "/api/delete/<id>", images.HandleDeleteByID},
		{http.MethodGet, "/delete/<id>", images.HandleDeleteByIDRedirect},
		{http.MethodGet, "/images/<filename>", images.HandleGet},
		{http.MethodHead, "/images/<filename>", images.HandleGet},

		// Assets
		{http.MethodGet, "/static/<path:path>", static.HandleAsset},
	}

	rt := router.New()
	for _, r := range routes {
		if err := rt.Add(r.method, r.template, r.handler); err != nil {
			return nil, fmt.Errorf("failed to register %s %s: %w", r.method, r.template, err)
		}
	}

	if d.Metrics != nil {
		metrics := d.Metrics.Handler()
		if err := rt.Add(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ router.Params) error {
			metrics.ServeHTTP(w, r)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if d.Hub != nil {
		hub := d.Hub
		if err := rt.Add(http.MethodGet, "/api/events", func(w http.ResponseWriter, r *http.Request, _ router.Params) error {
			// On failure the upgrader has already answered the client.
			if err := hub.ServeWS(w, r); err != nil {
				slog.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return rt, nil
}

// NewServer creates the HTTP server with the configured timeouts.
func NewServer(cfg *config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.ReadTimeout),
		WriteTimeout: time.Duration(cfg.WriteTimeout),
		IdleTimeout:  time.Duration(cfg.IdleTimeout),
	}
}

type healthHandler struct {
	db store.Pinger
}

func (h *healthHandler) handle(w http.ResponseWriter, r *http.Request, _ router.Params) error {
	if err := h.db.Ping(r.Context()); err != nil {
		return httperr.Wrap(http.StatusServiceUnavailable, "Database unavailable", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
	return nil
}

func handleVersion(w http.ResponseWriter, r *http.Request, _ router.Params) error {
	return writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}
