package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagehost/pkg/config"
	"imagehost/pkg/db"
	"imagehost/pkg/events"
	"imagehost/pkg/imagefs"
	"imagehost/pkg/model"
	"imagehost/pkg/store"
	"imagehost/pkg/upload"
)

type testEnv struct {
	handler http.Handler
	store   *store.SQLStore
	dir     *imagefs.Dir
	metrics *Metrics
	hub     *events.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.DefaultConfig()

	d, err := db.Init(filepath.Join(tmp, "test.db"))
	require.NoError(t, err)
	st := store.NewSQLStore(d)
	t.Cleanup(func() { st.Close() })

	dir, err := imagefs.Open(filepath.Join(tmp, "images"))
	require.NoError(t, err)

	v := upload.NewValidator(int64(cfg.Upload.MaxSize), cfg.Upload.AllowedExtensions, cfg.Upload.AllowedTypes)
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	m := NewMetrics()

	h, err := NewHandler(Deps{
		Config:   cfg,
		Store:    st,
		Dir:      dir,
		Pipeline: upload.New(v, dir, st),
		Hub:      hub,
		Metrics:  m,
	})
	require.NoError(t, err)

	return &testEnv{handler: h, store: st, dir: dir, metrics: m, hub: hub}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) files(t *testing.T) []string {
	t.Helper()
	entries, err := e.dir.List()
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, en := range entries {
		names = append(names, en.Name)
	}
	return names
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "hello"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body.Bytes()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type uploadResponse struct {
	Success      bool   `json:"success"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	FileType     string `json:"file_type"`
}

func TestUploadGetDelete(t *testing.T) {
	env := newTestEnv(t)
	data := pngBytes(t)

	w := env.do(multipartRequest(t, "/api/images", "image", "cat.png", data))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var up uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))
	assert.True(t, up.Success)
	assert.Equal(t, "cat.png", up.OriginalName)
	assert.Equal(t, int64(len(data)), up.Size)
	assert.Equal(t, "image/png", up.FileType)
	assert.True(t, strings.HasSuffix(up.Filename, ".png"))
	assert.Equal(t, []string{up.Filename}, env.files(t))

	for _, prefix := range []string{"/images/", "/api/images/"} {
		w = env.do(httptest.NewRequest(http.MethodGet, prefix+up.Filename, nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, data, w.Body.Bytes())
	}

	w = env.do(httptest.NewRequest(http.MethodHead, "/images/"+up.Filename, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fmt.Sprint(len(data)), w.Header().Get("Content-Length"))
	assert.Zero(t, w.Body.Len())

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/images", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var page model.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Images, 1)
	assert.Equal(t, up.Filename, page.Images[0].Filename)
	assert.Equal(t, 1, page.Total)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/images/"+up.Filename, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Empty(t, env.files(t))

	w = env.do(httptest.NewRequest(http.MethodGet, "/images/"+up.Filename, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/images/"+up.Filename, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.uploads.WithLabelValues(outcomeStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.deleted))
}

func TestUploadForm(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(multipartRequest(t, "/upload", "file", "dog.PNG", pngBytes(t)))
	require.Equal(t, http.StatusMovedPermanently, w.Code, w.Body.String())

	loc := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/upload_success.html?image="), loc)
	name := strings.TrimPrefix(loc, "/upload_success.html?image=")
	assert.Equal(t, []string{name}, env.files(t))

	img, err := env.store.GetImageByFilename(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "dog.PNG", img.OriginalName)
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t)
	data := pngBytes(t)

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
	}{
		{
			name:       "SpoofedExtension",
			req:        func() *http.Request { return multipartRequest(t, "/api/images", "image", "shell.png", []byte("<?php system($_GET['c']); ?>")) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "DisallowedExtension",
			req:        func() *http.Request { return multipartRequest(t, "/api/images", "image", "cat.bmp", data) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "WrongField",
			req:        func() *http.Request { return multipartRequest(t, "/api/images", "avatar", "cat.png", data) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "NotMultipart",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/images", strings.NewReader(`{"a":1}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "TooLarge",
			req: func() *http.Request {
				req := multipartRequest(t, "/api/images", "image", "cat.png", data)
				req.ContentLength = 5*1024*1024 + 1
				return req
			},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.req())
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Empty(t, env.files(t))
		})
	}

	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(env.metrics.uploads.WithLabelValues(outcomeRejected)))

	n, err := env.store.CountImages(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/images", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"images":[],"total":0,"page":1,"per_page":10}`, w.Body.String())

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		require.NoError(t, env.store.AddImage(ctx, &model.Image{
			Filename:     fmt.Sprintf("img%02d.png", i),
			OriginalName: "x.png",
			Size:         10,
			FileType:     "image/png",
			UploadTime:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		query       string
		wantPage    int
		wantPerPage int
		wantCount   int
		wantFirst   string
	}{
		{"", 1, 10, 10, "img11.png"},
		{"?page=2", 2, 10, 2, "img01.png"},
		{"?page=2&per_page=5", 2, 5, 5, "img06.png"},
		{"?page=3&per_page=5", 3, 5, 2, "img01.png"},
		{"?page=9", 9, 10, 0, ""},
		{"?page=0", 1, 10, 10, "img11.png"},
		{"?page=-4", 1, 10, 10, "img11.png"},
		{"?per_page=100", 1, 50, 12, "img11.png"},
		{"?per_page=0", 1, 1, 1, "img11.png"},
		{"?page=abc&per_page=xyz", 1, 10, 10, "img11.png"},
		{"?page=9223372036854775807", model.MaxPage, 10, 0, ""},
		{"?page=9223372036854775807&per_page=2", model.MaxPage, 2, 0, ""},
		{"?page=99999999999999999999", 1, 10, 10, "img11.png"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, "/api/images"+tt.query, nil))
			require.Equal(t, http.StatusOK, w.Code)

			var page model.Page
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
			assert.Equal(t, 12, page.Total)
			assert.Equal(t, tt.wantPage, page.Page)
			assert.Equal(t, tt.wantPerPage, page.PerPage)
			require.Len(t, page.Images, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, tt.wantFirst, page.Images[0].Filename)
			}
		})
	}
}

func TestDeleteByID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	add := func(name string) *model.Image {
		_, err := env.dir.Create(name, pngBytes(t))
		require.NoError(t, err)
		img := &model.Image{Filename: name, OriginalName: name, Size: 1, FileType: "image/png"}
		require.NoError(t, env.store.AddImage(ctx, img))
		return img
	}

	a := add("a.png")
	w := env.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/delete/%d", a.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"success":true,"id":%d,"filename":"a.png"}`, a.ID), w.Body.String())

	b := add("b.png")
	w = env.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/delete/%d", b.ID), nil))
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/all_images.html", w.Header().Get("Location"))
	assert.Empty(t, env.files(t))

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/delete/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/delete/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteToleratesMissingFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.AddImage(context.Background(), &model.Image{
		Filename: "gone.png", OriginalName: "gone.png", Size: 1, FileType: "image/png",
	}))

	w := env.do(httptest.NewRequest(http.MethodDelete, "/api/images/gone.png", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorNegotiation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		accept     string
		wantStatus int
		wantType   string
		wantBody   string
		wantAllow  string
	}{
		{"NotFoundJSON", http.MethodGet, "/nope", "", http.StatusNotFound, "application/json", `"error":"Not Found"`, ""},
		{"NotFoundHTML", http.MethodGet, "/nope", "text/html,application/xhtml+xml", http.StatusNotFound, "text/html; charset=utf-8", "<h1 class=\"error-code\">404</h1>", ""},
		{"MethodNotAllowed", http.MethodPut, "/upload", "", http.StatusMethodNotAllowed, "application/json", `"error":"Method Not Allowed"`, "GET, POST"},
		{"MethodNotAllowedImage", http.MethodPost, "/images/x.png", "", http.StatusMethodNotAllowed, "application/json", "Method Not Allowed", "GET, HEAD"},
		{"UnknownMethod", "BREW", "/", "", http.StatusMethodNotAllowed, "application/json", "Method Not Allowed", "GET"},
		{"TraversalImage", http.MethodGet, "/images/..", "", http.StatusNotFound, "application/json", "Image not found", ""},
		{"TraversalStatic", http.MethodGet, "/static/../go.mod", "", http.StatusNotFound, "application/json", "Not Found", ""},
		{"StaticDirectory", http.MethodGet, "/static/css", "", http.StatusNotFound, "application/json", "Not Found", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := env.do(req)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantType, w.Header().Get("Content-Type"))
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Allow"))
		})
	}
}

func TestCommonHeaders(t *testing.T) {
	env := newTestEnv(t)

	reqs := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/", nil),
		httptest.NewRequest(http.MethodGet, "/api/images", nil),
		httptest.NewRequest(http.MethodGet, "/missing", nil),
		httptest.NewRequest(http.MethodPatch, "/", nil),
		httptest.NewRequest(http.MethodOptions, "/api/images", nil),
		httptest.NewRequest(http.MethodOptions, "/anything/at/all", nil),
	}

	for _, req := range reqs {
		t.Run(req.Method+" "+req.URL.Path, func(t *testing.T) {
			w := env.do(req)
			h := w.Header()
			assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
			assert.Contains(t, h.Get("Access-Control-Allow-Methods"), "DELETE")
			assert.Equal(t, "Content-Type", h.Get("Access-Control-Allow-Headers"))
			assert.Equal(t, "no-cache, no-store, must-revalidate", h.Get("Cache-Control"))
			assert.Equal(t, "no-cache", h.Get("Pragma"))
			assert.Equal(t, "0", h.Get("Expires"))
			if req.Method == http.MethodOptions {
				assert.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
}

func TestPagesAndAssets(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path       string
		wantStatus int
		wantType   string
		wantBody   string
	}{
		{"/", http.StatusOK, "text/html", "Image Host"},
		{"/upload", http.StatusOK, "text/html", `name="image"`},
		{"/all_images.html", http.StatusOK, "text/html", "all_images.js"},
		{"/upload_success.html", http.StatusOK, "text/html", "Upload complete"},
		{"/static/css/style.css", http.StatusOK, "text/css", ".container"},
		{"/static/js/all_images.js", http.StatusOK, "javascript", "/api/images"},
		{"/favicon.ico", http.StatusOK, "", ""},
		{"/static/nope.css", http.StatusNotFound, "application/json", "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), tt.wantType)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/images", nil))
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/all_images.html", w.Header().Get("Location"))
}

func TestStaticFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>custom</p>"), 0o644))
	h := NewStaticHandler(dir)

	w := httptest.NewRecorder()
	require.NoError(t, h.Page("index.html")(w, httptest.NewRequest(http.MethodGet, "/", nil), nil))
	assert.Equal(t, "<p>custom</p>", w.Body.String())

	err := h.Page("upload.html")(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/upload", nil), nil)
	assert.Error(t, err)

	// Without an error.html on disk the renderer falls back to its own page.
	er := NewErrorRenderer(h.FS())
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept", "text/html")
	w = httptest.NewRecorder()
	er.Render(w, req, errors.New("<script>"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "&lt;script&gt;")
	assert.NotContains(t, w.Body.String(), "<script>")
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"dev"}`, w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "imagehost_http_requests_total")
	assert.Contains(t, body, `route="/health"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestEventsFeed(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	req := multipartRequest(t, srv.URL+"/api/images", "image", "live.png", pngBytes(t))
	req.RequestURI = ""
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev events.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, events.TypeUploaded, ev.Type)
	require.NotNil(t, ev.Image)
	assert.Equal(t, "live.png", ev.Image.OriginalName)
}
