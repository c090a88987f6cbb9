package web

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/config"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/editions"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/toc"
)

// UserHeader carries the id of the acting user. It is stamped on every audit
// log entry written while serving the request.
const UserHeader = "X-Editions-User"

// Messages shown to editors. Error detail only goes to the log.
const (
	msgSaveFailed = "could not save, try again"
	msgLoadFailed = "could not load, try again"
	msgNotFound   = "not found"
	msgBadRequest = "invalid request"
)

type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	svc      *editions.Service
	markdown goldmark.Markdown
	router   chi.Router
}

func NewServer(cfg *config.Config, svc *editions.Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		markdown: goldmark.New(),
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests, gzipHandler, withUser)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/courses/processed", s.handleProcessedCourses)
	r.Get("/api/courses/{course}/resources", s.handleEditables)

	r.Route("/api/courses/{course}/resources/{resource}", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Get("/versions", s.handleListVersions)
		r.Post("/versions", s.handleCreateVersion)

		r.Route("/versions/{version}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteVersion)
			r.Get("/pages", s.handlePages)
			r.Get("/content", s.handleContent)
			r.Post("/content", s.handleSaveContent)
			r.Get("/toc", s.handleTOC)
			r.Post("/toc", s.handleSaveTOC)
			r.Get("/nav", s.handleNav)
			r.Get("/css", s.handleCSS)
			r.Get("/links", s.handleLinkRecords)
			r.Post("/links", s.handleAuditLinks)
			r.Post("/apply", s.handleApply)
		})
	})

	assets := strings.TrimRight(s.cfg.AssetBase, "/")
	r.Get(assets+"/{course}/{resource}/{version}/*", s.handleAsset)
}

// ServeHTTP makes the server usable as a plain handler in tests and behind
// other muxes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail maps a service error to a response. Unknown courses and resources are
// 404s and an empty outline is a 400; anything else is logged and reported
// with message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, editions.ErrNotEditable), errors.Is(err, records.ErrUnknownCourse):
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	case errors.Is(err, toc.ErrEmptyOutline):
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, message)
}

// target is the resource a request addresses.
type target struct {
	course   int64
	resource int64
	version  string
}

func parseTarget(r *http.Request) (target, bool) {
	course, err := strconv.ParseInt(chi.URLParam(r, "course"), 10, 64)
	if err != nil || course <= 0 {
		return target{}, false
	}
	t := target{course: course, version: chi.URLParam(r, "version")}
	if raw := chi.URLParam(r, "resource"); raw != "" {
		t.resource, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || t.resource <= 0 {
			return target{}, false
		}
	}
	return t, true
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(v)
}

// withUser copies the acting user from UserHeader into the request context.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64); err == nil && id > 0 {
			r = r.WithContext(records.WithUser(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", filepath.Clean(r.URL.Path),
			"status", rw.statusCode,
			"user", records.UserFromContext(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// gzipResponseWriter compresses text, css and json responses.
type gzipResponseWriter struct {
	http.ResponseWriter
	gw      *gzip.Writer
	sniffed bool
}

func (grw *gzipResponseWriter) WriteHeader(code int) {
	if code != http.StatusNotModified && code != http.StatusNoContent {
		grw.sniff()
	}
	grw.ResponseWriter.WriteHeader(code)
}

func (grw *gzipResponseWriter) Write(b []byte) (int, error) {
	grw.sniff()
	if grw.gw != nil {
		return grw.gw.Write(b)
	}
	return grw.ResponseWriter.Write(b)
}

func (grw *gzipResponseWriter) sniff() {
	if grw.sniffed {
		return
	}
	grw.sniffed = true

	ct := grw.ResponseWriter.Header().Get("Content-Type")
	if strings.HasPrefix(ct, "text/") ||
		strings.HasPrefix(ct, "application/json") ||
		strings.HasPrefix(ct, "application/javascript") {
		grw.ResponseWriter.Header().Set("Content-Encoding", "gzip")
		grw.ResponseWriter.Header().Del("Content-Length")
		grw.gw = gzip.NewWriter(grw.ResponseWriter)
	}
}

func gzipHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		grw := &gzipResponseWriter{ResponseWriter: w}
		next.ServeHTTP(grw, r)
		if grw.gw != nil {
			_ = grw.gw.Close()
		}
	})
}
