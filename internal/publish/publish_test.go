package publish

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

type recorder struct {
	events []records.Event
}

func (r *recorder) AppendHistory(_ context.Context, ev records.Event) error {
	r.events = append(r.events, ev)
	return nil
}

const nav = `<nav id="siteNav"><ul>` +
	`<li><a href="index.html" class="active main-node daddy">Inicio</a><ul>` +
	`<li><a href="a.html" class="no-ch">A</a></li>` +
	`<li><a href="b.html#top" class="no-ch">B</a></li></ul></li>` +
	`<li><a href="missing.html" class="no-ch">Missing</a></li>` +
	`</ul></nav>`

func page(body string) string {
	return `<html><head><title>t</title></head><body class="exe-web-site">` + nav +
		`<nav id="topPagination"><a class="next" href="a.html">Siguiente</a></nav>` +
		`<div id="main">` + body + `</div>` +
		`<nav id="bottomPagination"><a class="next" href="a.html">Siguiente</a></nav>` +
		`</body></html>`
}

var handle = versions.Handle{
	Resource: versions.Resource{CourseID: 3, Shortname: "FP", ResourceID: 30},
	Name:     "v2",
	Path:     "editions/FP/30/v2",
}

func fixture(t *testing.T) (*Publisher, storage.Repository, *records.Store, *recorder) {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewFSStorage(t.TempDir())
	files := map[string]string{
		"index.html":       page(`<p>portada</p>`),
		"a.html":           page(`<p>tema a</p>`),
		"b.html":           page(`<p>tema b</p>`),
		"style.css":        "body{}",
		"img/logo.png":     "png",
		"printable/x.html": "stale scratch",
	}
	for name, body := range files {
		require.NoError(t, repo.Write(ctx, handle.File(name), []byte(body)))
	}
	require.NoError(t, repo.Write(ctx, storage.Join(handle.Resource.LiveDir(), "old.html"), []byte("old")))

	store, err := records.Open("sqlite", filepath.Join(t.TempDir(), "editions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Register(ctx, 3, 30, records.KindEditable)
	require.NoError(t, err)

	rec := &recorder{}
	return &Publisher{Repo: repo, Registry: store, History: rec}, repo, store, rec
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	p, repo, store, rec := fixture(t)

	require.NoError(t, p.Publish(ctx, handle))

	live, err := storage.Files(ctx, repo, handle.Resource.LiveDir(), nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.html", "b.html", "img/logo.png", "index.html", "style.css"}, live)

	order, err := store.LiveFiles(ctx, 3, 30)
	require.NoError(t, err)
	require.Len(t, order, 5)
	require.Equal(t, records.LiveFile{Filename: "index.html", SortOrder: 1}, order[0])

	ed, ok, err := store.Editable(ctx, 3, 30)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", ed.Version)

	require.Len(t, rec.events, 1)
	require.Equal(t, records.ActionVersionApplied, rec.events[0].Action)
	require.Equal(t, "v2", rec.events[0].Version)
}

func TestPublishPrintableWithoutPrintable(t *testing.T) {
	p, _, _, rec := fixture(t)
	ok, err := p.PublishPrintable(context.Background(), handle)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, rec.events)
}

func TestPublishPrintable(t *testing.T) {
	ctx := context.Background()
	p, repo, store, rec := fixture(t)
	_, err := store.Register(ctx, 3, 31, records.KindPrintable)
	require.NoError(t, err)
	require.NoError(t, store.LinkPrintable(ctx, 3, 30, 31))

	ok, err := p.PublishPrintable(ctx, handle)
	require.NoError(t, err)
	require.True(t, ok)

	liveDir := versions.LiveDir("FP", 31)
	doc, err := htmldoc.Load(ctx, repo, storage.Join(liveDir, "index.html"))
	require.NoError(t, err)
	require.Nil(t, doc.ByID(htmldoc.IDSiteNav))
	require.Nil(t, doc.ByID(htmldoc.IDTopPagination))
	require.Nil(t, doc.ByID(htmldoc.IDBottomPagination))
	require.True(t, htmldoc.HasClass(doc.Body(), "no-nav"))
	require.True(t, htmldoc.HasClass(doc.Body(), "exe-web-site"))
	require.NotNil(t, doc.ByID("metacachehttp"))
	require.NotNil(t, htmldoc.FirstElement(doc.Head(), atom.Style))

	var paragraphs []string
	for _, para := range htmldoc.Elements(doc.Main(), atom.P) {
		paragraphs = append(paragraphs, htmldoc.TextContent(para))
	}
	require.Equal(t, []string{"portada", "tema a", "tema b"}, paragraphs)

	exists, err := storage.Exists(ctx, repo, handle.File(versions.PrintableFolder))
	require.NoError(t, err)
	require.False(t, exists)

	source, err := repo.Read(ctx, handle.File("index.html"))
	require.NoError(t, err)
	require.Contains(t, string(source), `id="siteNav"`)

	pr, ok, err := store.Editable(ctx, 3, 31)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", pr.Version)

	order, err := store.LiveFiles(ctx, 3, 31)
	require.NoError(t, err)
	require.Equal(t, "index.html", order[0].Filename)

	require.Len(t, rec.events, 1)
	require.Equal(t, records.ActionPrintableApplied, rec.events[0].Action)
	require.Equal(t, int64(31), rec.events[0].ResourceID)
}

func TestPublishPrintableRequiresIndex(t *testing.T) {
	ctx := context.Background()
	p, repo, store, _ := fixture(t)
	_, err := store.Register(ctx, 3, 31, records.KindPrintable)
	require.NoError(t, err)
	require.NoError(t, store.LinkPrintable(ctx, 3, 30, 31))
	require.NoError(t, repo.Delete(ctx, handle.File("index.html")))

	ok, err := p.PublishPrintable(ctx, handle)
	require.False(t, ok)
	var missing *MissingIndexError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "v2", missing.Version)
}

func TestFlattenWithoutNav(t *testing.T) {
	root, err := htmldoc.ParseBytes([]byte(`<html><body><div id="main"><p>solo</p></div></body></html>`))
	require.NoError(t, err)
	doc := &htmldoc.Document{Root: root}

	n, err := Flatten(doc, func(string) (*htmldoc.Document, error) {
		t.Fatal("no page should be loaded")
		return nil, nil
	})
	require.NoError(t, err)
	require.Zero(t, n)
	class, _ := htmldoc.Attr(doc.Body(), "class")
	require.Equal(t, "no-nav", class)
	require.Equal(t, "solo", htmldoc.TextContent(doc.Main()))
}
