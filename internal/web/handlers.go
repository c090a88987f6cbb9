package web

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/editions"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
)

type createVersionRequest struct {
	Name string `json:"name"`
	From string `json:"from"`
}

type saveContentRequest struct {
	File    string `json:"file"`
	Content string `json:"content"`
	Comment string `json:"comment"`
}

type saveTOCRequest struct {
	TOC     string `json:"toc"`
	Comment string `json:"comment"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleProcessedCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.svc.ProcessedCourses(r.Context())
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) handleEditables(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	editables, err := s.svc.Editables(r.Context(), t.course)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	writeJSON(w, http.StatusOK, editables)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	names, err := s.svc.ListVersions(r.Context(), t.course, t.resource)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"versions": names})
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	var req createVersionRequest
	if !ok || decode(w, r, &req) != nil {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	res, err := s.svc.CreateVersion(r.Context(), t.course, t.resource, req.Name, req.From)
	if err != nil {
		s.fail(w, r, err, msgSaveFailed)
		return
	}
	status := http.StatusCreated
	if !res.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	deleted, err := s.svc.DeleteVersion(r.Context(), t.course, t.resource, t.version)
	if err != nil {
		s.fail(w, r, err, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: deleted})
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	pages, found, err := s.svc.Pages(r.Context(), t.course, t.resource, t.version)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"pages": pages})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	file := r.URL.Query().Get("file")
	if file == "" {
		file = "index.html"
	}
	markup, found, err := s.svc.ContentForEdit(r.Context(), t.course, t.resource, t.version, file)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": file, "content": markup})
}

func (s *Server) handleSaveContent(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	var req saveContentRequest
	if !ok || decode(w, r, &req) != nil || req.File == "" {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	comment := editions.TruncateComment(req.Comment, s.cfg.CommentLimit)
	saved, err := s.svc.SaveContentChanges(r.Context(), t.course, t.resource, t.version, req.File, req.Content, comment)
	if err != nil {
		s.fail(w, r, err, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: saved})
}

func (s *Server) handleTOC(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	toc, found, err := s.svc.TOCForEdit(r.Context(), t.course, t.resource, t.version)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"toc": toc})
}

func (s *Server) handleSaveTOC(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	var req saveTOCRequest
	if !ok || decode(w, r, &req) != nil || strings.TrimSpace(req.TOC) == "" {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	comment := editions.TruncateComment(req.Comment, s.cfg.CommentLimit)
	toc, saved, err := s.svc.SaveTOCChanges(r.Context(), t.course, t.resource, t.version, req.TOC, comment)
	if err != nil {
		s.fail(w, r, err, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK  bool   `json:"ok"`
		TOC string `json:"toc,omitempty"`
	}{saved, toc})
}

// handleNav returns the version nav with links reopening the editor on each
// page.
func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	current := r.URL.Query().Get("file")
	link := func(href string) string {
		return "?file=" + url.QueryEscape(href)
	}
	nav, found, err := s.svc.NavForEdit(r.Context(), t.course, t.resource, t.version, current, link)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(nav))
}

func (s *Server) handleCSS(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	css, found, err := s.svc.CSS(r.Context(), t.course, t.resource, t.version)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write([]byte(css))
}

func (s *Server) handleLinkRecords(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	links, err := s.svc.LinkRecords(r.Context(), t.course, t.resource, t.version)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	if links == nil {
		links = []records.LinkRecord{}
	}
	writeJSON(w, http.StatusOK, links)
}

// handleAuditLinks runs a link audit. publish=1 applies the version
// afterwards.
func (s *Server) handleAuditLinks(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	publish, _ := strconv.ParseBool(r.URL.Query().Get("publish"))
	res, err := s.svc.AuditLinks(r.Context(), t.course, t.resource, t.version, publish)
	if err != nil {
		s.fail(w, r, err, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	res, err := s.svc.ApplyVersion(r.Context(), t.course, t.resource, t.version)
	if err != nil {
		s.fail(w, r, err, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAsset serves a file of a version so the editor can show its images
// and videos.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	name := chi.URLParam(r, "*")
	if !ok || name == "" || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	raw, found, err := s.svc.ReadFile(r.Context(), t.course, t.resource, t.version, name)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = http.DetectContentType(raw)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(raw)
}

// historyView is an audit log entry with its other data decoded and the
// editor comment rendered from markdown.
type historyView struct {
	records.HistoryEntry
	Data        map[string]any `json:"data,omitempty"`
	CommentHTML string         `json:"comment_html,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	t, ok := parseTarget(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if _, err := s.svc.Resource(r.Context(), t.course, t.resource); err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	entries, err := s.svc.History(r.Context(), t.course, t.resource)
	if err != nil {
		s.fail(w, r, err, msgLoadFailed)
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.historyView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) historyView(e records.HistoryEntry) historyView {
	v := historyView{HistoryEntry: e}
	if err := json.Unmarshal([]byte(e.Other), &v.Data); err != nil {
		s.logger.Warn("undecodable history data", "id", e.ID, "error", err)
		return v
	}
	comment, _ := v.Data["edit_comments"].(string)
	if comment == "" {
		return v
	}
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(comment), &buf); err != nil {
		s.logger.Warn("render history comment", "id", e.ID, "error", err)
		return v
	}
	v.CommentHTML = strings.TrimSpace(buf.String())
	return v
}
