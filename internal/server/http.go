// HTTP endpoints of the overlay: reorder, edit and append, plus the public page view
package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jonny5532/wagtail-liveedit/internal/logger"
	"github.com/jonny5532/wagtail-liveedit/internal/metrics"
	"github.com/jonny5532/wagtail-liveedit/pkg/liveedit"
	"github.com/jonny5532/wagtail-liveedit/pkg/overlay"
	"github.com/jonny5532/wagtail-liveedit/pkg/permission"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
)

// maxFormBytes bounds a postback body.
const maxFormBytes = 1 << 20

// Authenticator checks editor credentials.
type Authenticator interface {
	Authenticate(username, password string) (*permission.User, bool)
}

// HTTPHandler serves the overlay endpoints.
type HTTPHandler struct {
	svc     *liveedit.Service
	auth    Authenticator
	metrics *metrics.Metrics
	log     *logger.Logger
	mux     *http.ServeMux
}

// NewHTTPHandler creates the overlay handler. m may be nil.
func NewHTTPHandler(svc *liveedit.Service, auth Authenticator, m *metrics.Metrics, log *logger.Logger) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	h := &HTTPHandler{svc: svc, auth: auth, metrics: m, log: log, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /__liveedit__/action/", h.editor(h.action))
	h.mux.HandleFunc("GET /__liveedit__/edit-block/", h.editor(h.editForm))
	h.mux.HandleFunc("POST /__liveedit__/edit-block/", h.editor(h.editBlock))
	h.mux.HandleFunc("GET /__liveedit__/append-block/", h.editor(h.appendForm))
	h.mux.HandleFunc("POST /__liveedit__/append-block/", h.editor(h.appendBlock))
	h.mux.HandleFunc("GET /pages/{id}/", h.page)
	return h
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ServeHTTP routes a request and records it.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.metrics != nil {
		h.metrics.HTTPRequestsInFlight.Inc()
		defer h.metrics.HTTPRequestsInFlight.Dec()
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)

	duration := time.Since(start)
	if h.metrics != nil {
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status), duration)
	}
	h.log.LogHTTPRequest(r.Method, r.URL.Path, rec.status, duration)
}

type editorHandler func(w http.ResponseWriter, r *http.Request, user *permission.User)

// editor requires valid credentials and a parsed form.
func (h *HTTPHandler) editor(next editorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.user(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="liveedit"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		next(w, r, user)
	}
}

func (h *HTTPHandler) user(r *http.Request) (*permission.User, bool) {
	username, password, ok := r.BasicAuth()
	if !ok || h.auth == nil {
		return nil, false
	}
	return h.auth.Authenticate(username, password)
}

// fail maps a service error to a response.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, liveedit.ErrMalformed):
		http.Error(w, "Bad request", http.StatusBadRequest)
	case errors.Is(err, liveedit.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, liveedit.ErrPermissionDenied):
		http.Error(w, "Permission denied", http.StatusForbidden)
	default:
		h.log.Error("request failed").
			Str("path", r.URL.Path).
			Err(err).
			Send()
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *HTTPHandler) action(w http.ResponseWriter, r *http.Request, user *permission.User) {
	req, err := overlay.DecodeAction(r.Form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.svc.Action(r.Context(), user, req); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, req.RedirectURL, http.StatusFound)
}

func (h *HTTPHandler) editForm(w http.ResponseWriter, r *http.Request, user *permission.User) {
	req, err := overlay.DecodeEdit(r.Form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	panel, err := h.svc.EditForm(r.Context(), user, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writePanel(w, r, panel)
}

func (h *HTTPHandler) editBlock(w http.ResponseWriter, r *http.Request, user *permission.User) {
	req, err := overlay.DecodeEdit(r.Form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.EditBlock(r.Context(), user, req, r.PostForm)
	if h.rejected(w, r, res, err) {
		return
	}
	overlay.ReloadResponse(w, res.JumpToID)
}

func (h *HTTPHandler) appendForm(w http.ResponseWriter, r *http.Request, user *permission.User) {
	req, err := overlay.DecodeAppend(r.Form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	panel, err := h.svc.AppendForm(r.Context(), user, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writePanel(w, r, panel)
}

func (h *HTTPHandler) appendBlock(w http.ResponseWriter, r *http.Request, user *permission.User) {
	req, err := overlay.DecodeAppend(r.Form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.AppendBlocks(r.Context(), user, req, r.PostForm)
	if h.rejected(w, r, res, err) {
		return
	}
	overlay.ReloadResponse(w, "")
}

// rejected writes the response for a failed submission. Validation failures
// redisplay the panel with inline errors.
func (h *HTTPHandler) rejected(w http.ResponseWriter, r *http.Request, res *liveedit.Result, err error) bool {
	if err == nil {
		return false
	}
	var verr *schema.ValidationError
	if errors.As(err, &verr) && res != nil && res.Panel != nil {
		h.writePanel(w, r, res.Panel)
		return true
	}
	h.fail(w, r, err)
	return true
}

func (h *HTTPHandler) writePanel(w http.ResponseWriter, r *http.Request, p *overlay.Panel) {
	if err := overlay.WritePanel(w, p); err != nil {
		h.log.Error("render panel").Str("path", r.URL.Path).Err(err).Send()
	}
}

func (h *HTTPHandler) page(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	view := overlay.ViewContext{
		IsPreview: q.Get("preview") != "",
		IsDummy:   q.Get("dummy") != "",
	}
	if raw := q.Get("revision"); raw != "" {
		if view.RevisionID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
	}

	// Anonymous viewers get the plain page
	user, _ := h.user(r)

	var buf bytes.Buffer
	if err := h.svc.RenderPage(r.Context(), &buf, user, r.URL.Path, id, view); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
