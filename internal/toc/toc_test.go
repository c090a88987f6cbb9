package toc

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

const outline = `<ul>
<li id="active"><a href="index.html" class="active main-node daddy">Inicio</a>
  <ul><li><a href="a.html" class="no-ch">Tema A</a></li></ul>
</li>
<li><a href="b.html" class="no-ch">Tema B</a></li>
</ul>`

func TestRenderDecoratesActivePath(t *testing.T) {
	tree, err := Parse(outline)
	require.NoError(t, err)

	require.Equal(t,
		`<ul><li class="current-page-parent"><a href="index.html" class="current-page-parent main-node daddy">Inicio</a>`+
			`<ul><li id="active" class="active"><a href="a.html" class="active no-ch">Tema A</a></li></ul></li>`+
			`<li><a href="b.html" class="no-ch">Tema B</a></li></ul>`,
		tree.RenderString("a.html"))

	require.Equal(t,
		`<ul><li><a href="index.html" class="main-node daddy">Inicio</a>`+
			`<ul class="other-section"><li><a href="a.html" class="no-ch">Tema A</a></li></ul></li>`+
			`<li id="active" class="active"><a href="b.html" class="active no-ch">Tema B</a></li></ul>`,
		tree.RenderString("b.html"))
}

func TestRenderIsStableAcrossRoundTrips(t *testing.T) {
	tree, err := Parse(outline)
	require.NoError(t, err)
	first := tree.RenderString("a.html")

	again, err := Parse(first)
	require.NoError(t, err)
	require.Equal(t, first, again.RenderString("a.html"))

	// Decorations for another page do not leak into this one.
	other, err := Parse(tree.RenderString("b.html"))
	require.NoError(t, err)
	require.Equal(t, first, other.RenderString("a.html"))
}

func TestParseKeepsUnmanagedAttributes(t *testing.T) {
	tree, err := Parse(`<ul class="menu"><li class="new-node extra"><a href="" class="no-ch custom" title="t"><span>Nuevo</span> Elemento</a></li></ul>`)
	require.NoError(t, err)
	require.Len(t, tree.Nodes, 1)
	n := tree.Nodes[0]
	require.True(t, n.New)
	require.Equal(t, "Nuevo Elemento", n.Label)

	require.Equal(t,
		`<ul class="menu"><li class="extra"><a href="" class="no-ch custom" title="t"><span>Nuevo</span> Elemento</a></li></ul>`,
		tree.RenderString("x.html"))
}

func TestHoistIndex(t *testing.T) {
	tree, err := Parse(`<ul><li><a href="b.html">B</a></li><li><a href="a.html">A</a><ul>` +
		`<li><a href="index.html">Inicio</a><ul><li><a href="c.html">C</a></li></ul></li></ul></li></ul>`)
	require.NoError(t, err)

	tree.HoistIndex()
	require.Equal(t, []string{"index.html", "c.html", "b.html", "a.html"}, tree.Order())
	require.Contains(t, tree.RenderString("c.html"), `<a href="a.html" class="no-ch">A</a>`)
	require.True(t, strings.HasPrefix(tree.RenderString("b.html"), `<ul><li><a href="index.html" class="main-node daddy">`))
}

const pagination = `<nav id="topPagination" class="pagination">` +
	`<a href="old.html" class="prev"><span>« </span>Anterior</a>` +
	`<span class="page-counter">Página 9 de 9</span><span class="sep"> | </span>` +
	`<a href="old.html" class="next">Siguiente<span> »</span></a></nav>`

func page(title string) string {
	return `<!DOCTYPE html><html><head><title>` + title + `</title></head><body>` +
		`<nav id="siteNav">` + outline + `</nav>` + pagination +
		`<div id="main"><header id="header"><h1 id="nodeTitle">` + title + `</h1></header>` +
		`<div id="nodeDecoration"><p>deco</p></div><article><p>Texto de ` + title + `</p></article></div>` +
		`<nav id="bottomPagination" class="pagination"><span class="page-counter"></span></nav>` +
		`</body></html>`
}

type recorder struct {
	events []records.Event
}

func (r *recorder) AppendHistory(_ context.Context, ev records.Event) error {
	r.events = append(r.events, ev)
	return nil
}

var handle = versions.Handle{
	Resource: versions.Resource{CourseID: 1, Shortname: "FP", ResourceID: 5},
	Name:     "draft",
	Path:     "editions/FP/5/draft",
}

func newEngine(t *testing.T) (*Engine, storage.Repository, *recorder) {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewFSStorage(t.TempDir())
	for _, name := range []string{"index.html", "a.html", "b.html"} {
		require.NoError(t, repo.Write(ctx, handle.File(name), []byte(page(name))))
	}
	require.NoError(t, repo.Write(ctx, handle.File("style.css"), []byte("body{}")))
	rec := &recorder{}
	return &Engine{Repo: repo, History: rec}, repo, rec
}

func load(t *testing.T, repo storage.Repository, name string) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.Load(context.Background(), repo, handle.File(name))
	require.NoError(t, err)
	return doc
}

func activeAnchors(doc *htmldoc.Document) []string {
	var out []string
	for _, a := range htmldoc.Elements(doc.ByID(htmldoc.IDSiteNav), atom.A) {
		if htmldoc.HasClass(a, "active") {
			href, _ := htmldoc.Attr(a, "href")
			out = append(out, href)
		}
	}
	return out
}

func TestForEdit(t *testing.T) {
	e, _, _ := newEngine(t)
	markup, ok, err := e.ForEdit(context.Background(), handle)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(markup, "<ul>"))
	require.Contains(t, markup, `<a href="b.html" class="no-ch">Tema B</a>`)

	missing := handle
	missing.Path = "editions/FP/5/ghost"
	_, ok, err = e.ForEdit(context.Background(), missing)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApplyWithNewNode(t *testing.T) {
	ctx := context.Background()
	e, repo, rec := newEngine(t)

	edited := `<ul><li><a href="b.html">Tema B</a></li>` +
		`<li><a href="index.html">Inicio</a><ul><li><a href="a.html">Tema A</a></li>` +
		`<li class="new-node"><a href="" class="no-ch">Nuevo Elemento</a></li></ul></li></ul>`
	refreshed, ok, err := e.Apply(ctx, handle, edited, "reorder")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, refreshed, `href="nuevo-elemento.html"`)
	require.True(t, strings.HasPrefix(refreshed, `<ul><li id="active" class="active"><a href="index.html" class="active main-node daddy">`))

	order := []string{"index.html", "a.html", "nuevo-elemento.html", "b.html"}
	for _, name := range order {
		doc := load(t, repo, name)
		require.Equal(t, []string{name}, activeAnchors(doc), name)
	}

	created := load(t, repo, "nuevo-elemento.html")
	require.Equal(t, "Nuevo Elemento", htmldoc.TextContent(created.ByID("nodeTitle")))
	require.NotNil(t, created.ByID("nodeDecoration"))
	require.Nil(t, htmldoc.FirstElement(created.Main(), atom.Article))

	first := load(t, repo, "index.html")
	top := first.ByID(htmldoc.IDTopPagination)
	require.Nil(t, findByClass(top, atom.A, "prev"))
	require.Equal(t, "Página 1 de 4", htmldoc.TextContent(findByClass(top, atom.Span, "page-counter")))
	next, _ := htmldoc.Attr(findByClass(top, atom.A, "next"), "href")
	require.Equal(t, "a.html", next)

	middle := load(t, repo, "nuevo-elemento.html")
	top = middle.ByID(htmldoc.IDTopPagination)
	prev, _ := htmldoc.Attr(findByClass(top, atom.A, "prev"), "href")
	require.Equal(t, "a.html", prev)
	next, _ = htmldoc.Attr(findByClass(top, atom.A, "next"), "href")
	require.Equal(t, "b.html", next)
	bottom := middle.ByID(htmldoc.IDBottomPagination)
	require.Equal(t, "Página 3 de 4", htmldoc.TextContent(findByClass(bottom, atom.Span, "page-counter")))
	require.NotNil(t, findByClass(bottom, atom.Span, "sep"))

	last := load(t, repo, "b.html")
	require.Nil(t, findByClass(last.ByID(htmldoc.IDTopPagination), atom.A, "next"))
	require.Nil(t, findByClass(last.ByID(htmldoc.IDBottomPagination), atom.A, "next"))

	css, err := repo.Read(ctx, handle.File("style.css"))
	require.NoError(t, err)
	require.Equal(t, "body{}", string(css))

	require.Len(t, rec.events, 1)
	require.Equal(t, records.ActionChangesSaved, rec.events[0].Action)
	require.Equal(t, map[string]string{"version_changes_saved_file": "TOC", "edit_comments": "reorder"}, rec.events[0].Other)
}

func TestApplyTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, repo, _ := newEngine(t)

	refreshed, ok, err := e.Apply(ctx, handle, outline, "")
	require.NoError(t, err)
	require.True(t, ok)

	snapshot := map[string]string{}
	for _, name := range []string{"index.html", "a.html", "b.html"} {
		raw, err := repo.Read(ctx, handle.File(name))
		require.NoError(t, err)
		snapshot[name] = string(raw)
	}

	again, ok, err := e.Apply(ctx, handle, refreshed, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, refreshed, again)

	for name, want := range snapshot {
		raw, err := repo.Read(ctx, handle.File(name))
		require.NoError(t, err)
		require.Equal(t, want, string(raw), name)
	}
}

func TestApplyWithoutIndex(t *testing.T) {
	e, _, rec := newEngine(t)
	missing := handle
	missing.Path = "editions/FP/5/ghost"

	_, ok, err := e.Apply(context.Background(), missing, outline, "")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, rec.events)
}

func TestApplyRejectsEmptyOutline(t *testing.T) {
	e, _, _ := newEngine(t)
	_, ok, err := e.Apply(context.Background(), handle, `<ul></ul>`, "")
	require.ErrorIs(t, err, ErrEmptyOutline)
	require.False(t, ok)
}

func TestNavForEdit(t *testing.T) {
	e, _, _ := newEngine(t)
	nav, ok, err := e.NavForEdit(context.Background(), handle, "a.html", func(href string) string {
		return "/edit?file=" + href
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, nav, `<a href="/edit?file=a.html" style="font-weight: bold">Tema A</a>`)
	require.Contains(t, nav, `<a href="/edit?file=b.html">Tema B</a>`)
}
