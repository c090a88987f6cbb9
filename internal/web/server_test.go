package web

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/config"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/editions"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/linkcheck"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

type okProber struct{}

func (okProber) Head(context.Context, string) linkcheck.Probe {
	return linkcheck.Probe{Responded: true, Code: http.StatusOK, Status: "HTTP/1.1 200 OK"}
}

func testPage(body string) string {
	return `<html><head><title>t</title></head><body>` +
		`<nav id="siteNav"><ul><li><a href="index.html" class="active main-node daddy">Inicio</a><ul>` +
		`<li><a href="tema.html" class="no-ch">Tema</a></li></ul></li></ul></nav>` +
		`<div id="main">` + body + `</div></body></html>`
}

func testServer(t *testing.T) (*Server, *records.Store) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	repo := storage.NewFSStorage(dir)
	live := versions.LiveDir("FP-DAM", 40)
	files := map[string]string{
		"index.html": testPage(`<p>portada <a href="http://example.com/x">x</a></p>`),
		"tema.html":  testPage(`<p>tema</p>`),
		"base.css":   "body{}",
		"logo.png":   "\x89PNG",
	}
	for name, body := range files {
		if err := repo.Write(ctx, storage.Join(live, name), []byte(body)); err != nil {
			t.Fatal(err)
		}
	}

	store, err := records.Open("sqlite", filepath.Join(dir, "editions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Site:         "https://moodle.example.org",
		AssetBase:    "/assets",
		CommentLimit: 12,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := editions.New(cfg, repo, store, okProber{}, logger)
	if err := svc.RegisterResource(ctx, records.Course{ID: 4, Shortname: "FP-DAM"}, 40, 0); err != nil {
		t.Fatal(err)
	}
	return NewServer(cfg, svc, logger), store
}

func do(t *testing.T, srv *Server, method, target, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set(UserHeader, "77")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w.Result()
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

const base = "/api/courses/4/resources/40"

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)
	resp := do(t, srv, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestCreateAndListVersions(t *testing.T) {
	srv, _ := testServer(t)

	resp := do(t, srv, http.MethodPost, base+"/versions", `{"name":"Nueva versión"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created editions.CreateResult
	decodeBody(t, resp, &created)
	if !created.OK || created.Name != "Nueva-version" {
		t.Errorf("unexpected create result: %+v", created)
	}

	resp = do(t, srv, http.MethodPost, base+"/versions", `{"name":"Nueva versión"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for a taken name, got %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, base+"/versions", "")
	var listed map[string][]string
	decodeBody(t, resp, &listed)
	if got := strings.Join(listed["versions"], ","); got != "original,Nueva-version" {
		t.Errorf("unexpected versions: %s", got)
	}

	resp = do(t, srv, http.MethodDelete, base+"/versions/original", "")
	var deleted okResponse
	decodeBody(t, resp, &deleted)
	if deleted.OK {
		t.Error("original must not be deletable")
	}
	resp = do(t, srv, http.MethodDelete, base+"/versions/Nueva-version", "")
	decodeBody(t, resp, &deleted)
	if !deleted.OK {
		t.Error("expected version to be deleted")
	}
}

func TestUnknownResource(t *testing.T) {
	srv, _ := testServer(t)

	resp := do(t, srv, http.MethodGet, "/api/courses/4/resources/99/versions", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodGet, "/api/courses/abc/resources/40/versions", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodGet, base+"/versions/nope/toc", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for a missing version, got %d", resp.StatusCode)
	}
}

func TestSaveContentRecordsComment(t *testing.T) {
	srv, store := testServer(t)

	resp := do(t, srv, http.MethodPost, base+"/versions/original/content",
		`{"file":"tema.html","content":"<p>nuevo</p>","comment":"**negrita**"}`)
	var saved okResponse
	decodeBody(t, resp, &saved)
	if !saved.OK {
		t.Fatal("expected content to be saved")
	}
	resp = do(t, srv, http.MethodPost, base+"/versions/original/content",
		`{"file":"tema.html","content":"<p>otra vez</p>","comment":"0123456789abcdef"}`)
	decodeBody(t, resp, &saved)

	resp = do(t, srv, http.MethodGet, base+"/versions/original/content?file=tema.html", "")
	var content map[string]string
	decodeBody(t, resp, &content)
	if !strings.Contains(content["content"], "otra vez") {
		t.Errorf("content not updated: %s", content["content"])
	}

	entries, err := store.History(context.Background(), 4, 40)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].UserID != 77 {
		t.Errorf("expected user 77 on the audit entry, got %d", entries[0].UserID)
	}
	if !strings.Contains(entries[0].Other, `"edit_comments":"0123456789ab"`) {
		t.Errorf("comment not truncated: %s", entries[0].Other)
	}

	resp = do(t, srv, http.MethodGet, base+"/history", "")
	var history []historyView
	decodeBody(t, resp, &history)
	var rendered bool
	for _, h := range history {
		if h.CommentHTML == "<p><strong>negrita</strong></p>" {
			rendered = true
		}
	}
	if !rendered {
		t.Error("expected markdown comment to be rendered")
	}
}

func TestSaveTOCReturnsOutline(t *testing.T) {
	srv, _ := testServer(t)

	resp := do(t, srv, http.MethodPost, base+"/versions/original/toc",
		`{"toc":"<ul><li><a href=\"tema.html\">Tema</a></li><li><a href=\"index.html\">Inicio</a></li></ul>"}`)
	var body struct {
		OK  bool   `json:"ok"`
		TOC string `json:"toc"`
	}
	decodeBody(t, resp, &body)
	if !body.OK {
		t.Fatal("expected toc to be saved")
	}
	if strings.Index(body.TOC, "index.html") > strings.Index(body.TOC, "tema.html") {
		t.Errorf("index must lead the outline: %s", body.TOC)
	}

	resp = do(t, srv, http.MethodPost, base+"/versions/original/toc", `{"toc":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty outline, got %d", resp.StatusCode)
	}
}

func TestNavAndCSS(t *testing.T) {
	srv, _ := testServer(t)

	resp := do(t, srv, http.MethodGet, base+"/versions/original/nav?file=tema.html", "")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `<a href="?file=tema.html" style="font-weight: bold">Tema</a>`) {
		t.Errorf("current page not highlighted:\n%s", body)
	}

	resp = do(t, srv, http.MethodGet, base+"/versions/original/css", "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/css; charset=utf-8" {
		t.Errorf("unexpected content type: %s", ct)
	}
	body, _ = io.ReadAll(resp.Body)
	if string(body) != "body{}\n" {
		t.Errorf("unexpected css: %q", body)
	}
}

func TestServeAsset(t *testing.T) {
	srv, _ := testServer(t)

	resp := do(t, srv, http.MethodGet, "/assets/4/40/original/logo.png", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type: %s", ct)
	}

	resp = do(t, srv, http.MethodGet, "/assets/4/40/original/missing.png", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAuditLinksAndPublish(t *testing.T) {
	srv, store := testServer(t)

	resp := do(t, srv, http.MethodPost, base+"/versions/original/links?publish=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res editions.AuditResult
	decodeBody(t, resp, &res)
	if !res.OK || res.Summary.Fixed != 1 {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}
	if res.Applied == nil || !res.Applied.OK || res.Applied.PrintableOK {
		t.Errorf("unexpected publication result: %+v", res.Applied)
	}

	resp = do(t, srv, http.MethodGet, base+"/versions/original/links", "")
	var links []records.LinkRecord
	decodeBody(t, resp, &links)
	if len(links) != 1 || links[0].Action != records.LinkFixed {
		t.Errorf("unexpected link records: %+v", links)
	}

	order, err := store.LiveFiles(context.Background(), 4, 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(order) == 0 || order[0].Filename != "index.html" {
		t.Errorf("index.html must be listed first: %+v", order)
	}
}

func TestGzipResponses(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("expected gzip encoding")
	}
	gr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(gr)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", body)
	}
}
