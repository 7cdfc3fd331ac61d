package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"imagehost/pkg/httperr"
	"imagehost/pkg/logging"
	"imagehost/pkg/router"
)

const (
	unmatchedRoute = "unmatched"
	otherMethod    = "other"
)

var allowMethods = strings.Join(append(append([]string{}, router.Methods...), http.MethodOptions), ", ")

// metricMethod folds methods the router does not know into one label value.
func metricMethod(m string) string {
	if m == http.MethodOptions || slices.Contains(router.Methods, m) {
		return m
	}
	return otherMethod
}

// Dispatcher turns a router resolution into exactly one HTTP response.
type Dispatcher struct {
	router  *router.Router
	errors  *ErrorRenderer
	metrics *Metrics
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(rt *router.Router, er *ErrorRenderer, m *Metrics) *Dispatcher {
	return &Dispatcher{router: rt, errors: er, metrics: m}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	setCommonHeaders(sw.Header())

	route := unmatchedRoute
	defer func() {
		elapsed := time.Since(start)
		d.metrics.observeRequest(metricMethod(r.Method), route, sw.Status(), elapsed)
		logging.RequestLogger.Info("Request Processed",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", sw.Status(),
			"bytes", sw.bytes,
			"duration", elapsed,
		)
	}()

	if r.Method == http.MethodOptions {
		sw.WriteHeader(http.StatusOK)
		return
	}

	res := d.router.Resolve(r.Method, r.URL.Path)
	switch res.Outcome {
	case router.NotFound:
		d.errors.Render(sw, r, httperr.NotFound("Not Found"))
		return
	case router.MethodNotAllowed:
		if len(res.Allowed) > 0 {
			sw.Header().Set("Allow", strings.Join(res.Allowed, ", "))
		}
		d.errors.Render(sw, r, httperr.MethodNotAllowed("Method Not Allowed"))
		return
	}

	route = res.Pattern
	if err := call(sw, r, res); err != nil {
		if sw.wroteHeader {
			// Too late for an error response; the client sees a truncated body.
			logging.RequestLogger.Error("Handler failed after responding", "method", r.Method, "path", r.URL.Path, "error", err)
			return
		}
		d.errors.Render(sw, r, err)
	}
}

func call(w http.ResponseWriter, r *http.Request, res router.Resolution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err = httperr.Internal(fmt.Sprintf("Internal Server Error: %v", rec), nil)
		}
	}()
	return res.Handler(w, r, res.Params)
}

func setCommonHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// statusWriter records what was sent so the dispatcher knows whether an
// error response is still possible.
type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Status returns the status sent, or 200 if nothing was written.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack supports the websocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}

// Flush passes through to the underlying writer when it can flush.
func (w *statusWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
