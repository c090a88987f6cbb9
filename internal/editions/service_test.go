package editions

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/config"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/linkcheck"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

type staticProber map[string]int

func (p staticProber) Head(_ context.Context, rawURL string) linkcheck.Probe {
	code, ok := p[rawURL]
	if !ok {
		return linkcheck.Probe{}
	}
	return linkcheck.Probe{Responded: true, Code: code, Status: "HTTP/1.1 200 OK"}
}

const navMarkup = `<nav id="siteNav"><ul>` +
	`<li><a href="index.html" class="active main-node daddy">Inicio</a><ul>` +
	`<li><a href="tema.html" class="no-ch">Tema</a></li></ul></li></ul></nav>`

func livePage(body string) string {
	return `<html><head><title>t</title></head><body>` + navMarkup +
		`<div id="main"><header id="header"><h1 id="nodeTitle">T</h1></header>` + body + `</div></body></html>`
}

var course = records.Course{ID: 4, Shortname: "FP-DAM"}

func newService(t *testing.T) (*Service, storage.Repository, *records.Store) {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	repo := storage.NewFSStorage(root)
	store, err := records.Open("sqlite", filepath.Join(root, "editions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	live := versions.LiveDir(course.Shortname, 40)
	files := map[string]string{
		"index.html":  livePage(`<p>portada <a href="http://example.com/x">x</a></p>`),
		"tema.html":   livePage(`<p>tema</p>`),
		"base.css":    "body{}",
		"nav.css":     "nav{}",
		"logo.png":    "png",
		"content.css": "p{}",
	}
	for name, body := range files {
		require.NoError(t, repo.Write(ctx, storage.Join(live, name), []byte(body)))
	}

	cfg := &config.Config{Site: "https://moodle.example.org/", AssetBase: "/assets", LinkCheck: config.LinkCheck{Concurrency: 2}}
	svc := New(cfg, repo, store, staticProber{"http://example.com/x": 200, "https://example.com/x": 200}, nil)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, svc.RegisterResource(ctx, course, 40, 41))
	return svc, repo, store
}

func TestRegisterCreatesOriginal(t *testing.T) {
	svc, _, store := newService(t)
	ctx := context.Background()

	names, err := svc.ListVersions(ctx, 4, 40)
	require.NoError(t, err)
	require.Equal(t, []string{versions.Original}, names)

	pr, ok, err := store.PrintableFor(ctx, 4, 40)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(41), pr.ResourceID)

	_, err = svc.ListVersions(ctx, 4, 41)
	require.ErrorIs(t, err, ErrNotEditable)
	_, err = svc.ListVersions(ctx, 5, 40)
	require.ErrorIs(t, err, records.ErrUnknownCourse)
}

func TestVersionLifecycle(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	created, err := svc.CreateVersion(ctx, 4, 40, "Revisión 2024", "")
	require.NoError(t, err)
	require.Equal(t, CreateResult{OK: true, Name: "Revision-2024"}, created)

	again, err := svc.CreateVersion(ctx, 4, 40, "Revisión 2024", "")
	require.NoError(t, err)
	require.False(t, again.OK)

	stamped, err := svc.CreateVersion(ctx, 4, 40, "¿?", "Revision-2024")
	require.NoError(t, err)
	require.Equal(t, CreateResult{OK: true, Name: "1700000000"}, stamped)

	names, err := svc.ListVersions(ctx, 4, 40)
	require.NoError(t, err)
	require.Equal(t, []string{"original", "1700000000", "Revision-2024"}, names)

	ok, err := svc.SaveContentChanges(ctx, 4, 40, "Revision-2024", "tema.html", `<p>editado</p>`, "fix typo")
	require.NoError(t, err)
	require.True(t, ok)

	edited, err := repo.Read(ctx, "editions/FP-DAM/40/Revision-2024/tema.html")
	require.NoError(t, err)
	require.Contains(t, string(edited), "editado")
	original, err := repo.Read(ctx, "editions/FP-DAM/40/original/tema.html")
	require.NoError(t, err)
	require.NotContains(t, string(original), "editado")

	ok, err = svc.DeleteVersion(ctx, 4, 40, versions.Original)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.DeleteVersion(ctx, 4, 40, "1700000000")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.SaveContentChanges(ctx, 4, 40, "missing", "tema.html", `<p>x</p>`, "")
	require.NoError(t, err)
	require.False(t, ok)

	history, err := store.History(ctx, 4, 40)
	require.NoError(t, err)
	var actions []string
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	require.ElementsMatch(t, []string{
		records.ActionOriginalCreated,
		records.ActionVersionCreated,
		records.ActionVersionCreated,
		records.ActionChangesSaved,
		records.ActionVersionDeleted,
	}, actions)
}

func TestReadsForEditor(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	markup, ok, err := svc.ContentForEdit(ctx, 4, 40, versions.Original, "index.html")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(markup, `<div id="main">`))

	tree, ok, err := svc.TOCForEdit(ctx, 4, 40, versions.Original)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, tree, `href="tema.html"`)

	nav, ok, err := svc.NavForEdit(ctx, 4, 40, versions.Original, "tema.html", func(href string) string { return "?file=" + href })
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, nav, `<a href="?file=tema.html" style="font-weight: bold">Tema</a>`)

	css, ok, err := svc.CSS(ctx, 4, 40, versions.Original)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "body{}\np{}\nnav{}\n", css)

	pages, ok, err := svc.Pages(ctx, 4, 40, versions.Original)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"index.html", "tema.html"}, pages)

	raw, ok, err := svc.ReadFile(ctx, 4, 40, versions.Original, "logo.png")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "png", string(raw))

	_, ok, err = svc.ReadFile(ctx, 4, 40, versions.Original, "nope.png")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = svc.TOCForEdit(ctx, 4, 40, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveTOCChanges(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	refreshed, ok, err := svc.SaveTOCChanges(ctx, 4, 40, versions.Original,
		`<ul><li><a href="tema.html">Tema</a></li><li><a href="index.html">Inicio</a></li></ul>`, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(refreshed, `<ul><li id="active" class="active"><a href="index.html"`))
}

func TestAuditLinksWithAutoPublish(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	result, err := svc.AuditLinks(ctx, 4, 40, versions.Original, true)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, 1, result.Summary.Fixed)
	require.Equal(t, &ApplyResult{OK: true, PrintableOK: true}, result.Applied)

	live, err := repo.Read(ctx, storage.Join(versions.LiveDir(course.Shortname, 40), "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(live), `href="https://example.com/x"`)

	printable, err := repo.Read(ctx, storage.Join(versions.LiveDir(course.Shortname, 41), "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(printable), "no-nav")
	require.Contains(t, string(printable), "tema")

	links, err := svc.LinkRecords(ctx, 4, 40, versions.Original)
	require.NoError(t, err)
	require.Len(t, links, 1)

	ed, _, err := store.Editable(ctx, 4, 40)
	require.NoError(t, err)
	require.Equal(t, versions.Original, ed.Version)
}

func TestProcessCourseRecordsFailures(t *testing.T) {
	svc, _, store := newService(t)
	ctx := context.Background()

	err := svc.ProcessCourse(ctx, course, map[int64]int64{40: 0, 99: 0})
	require.Error(t, err)

	processed, err := store.ProcessedCourses(ctx)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	require.False(t, processed[0].Processed)
	require.Contains(t, processed[0].Message, "99")
}

func TestDeleteResource(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.DeleteResource(ctx, 4, 40))
	exists, err := storage.Exists(ctx, repo, "editions/FP-DAM/40")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = svc.ListVersions(ctx, 4, 40)
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestTruncateComment(t *testing.T) {
	require.Equal(t, "abc", TruncateComment("  abc ", 300))
	require.Equal(t, "ñañ", TruncateComment("ñañaña", 3))
	require.Equal(t, "sin límite", TruncateComment("sin límite", 0))
}
