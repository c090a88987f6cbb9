package toc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/slug"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

// ErrEmptyOutline is returned when an edited outline has no entries.
var ErrEmptyOutline = errors.New("outline has no entries")

type Engine struct {
	Repo    storage.Repository
	History records.HistoryWriter
	Logger  *slog.Logger
}

// ForEdit returns the markup inside the index page's siteNav. It reports
// false when the version has no index page or the page has no nav.
func (e *Engine) ForEdit(ctx context.Context, h versions.Handle) (string, bool, error) {
	nav, _, err := e.loadNav(ctx, h)
	if err != nil || nav == nil {
		return "", false, err
	}
	return strings.TrimSpace(htmldoc.InnerHTML(nav)), true, nil
}

// NavForEdit renders the index nav with every link pointing at link(href) and
// the current page in bold, for the editor side bar.
func (e *Engine) NavForEdit(ctx context.Context, h versions.Handle, current string, link func(href string) string) (string, bool, error) {
	nav, _, err := e.loadNav(ctx, h)
	if err != nil || nav == nil {
		return "", false, err
	}
	if current == "" {
		current = IndexFile
	}
	for _, a := range htmldoc.Elements(nav, atom.A) {
		href, _ := htmldoc.Attr(a, "href")
		repl := htmldoc.NewElement(atom.A, html.Attribute{Key: "href", Val: link(href)})
		if href == current {
			htmldoc.SetAttr(repl, "style", "font-weight: bold")
		}
		repl.AppendChild(htmldoc.NewText(htmldoc.TextContent(a)))
		a.Parent.InsertBefore(repl, a)
		htmldoc.Detach(a)
	}
	return htmldoc.OuterHTML(nav), true, nil
}

func (e *Engine) loadNav(ctx context.Context, h versions.Handle) (*html.Node, *htmldoc.Document, error) {
	doc, err := htmldoc.Load(ctx, e.Repo, h.File(IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return doc.ByID(htmldoc.IDSiteNav), doc, nil
}

// Apply replaces the nav of every page of the version with the edited
// outline. New outline entries get a page cloned from the index page. All
// pages are staged and committed together. It returns the refreshed outline
// markup, or false when the version has no index page with a nav.
func (e *Engine) Apply(ctx context.Context, h versions.Handle, markup, comment string) (string, bool, error) {
	_, index, err := e.loadNav(ctx, h)
	if err != nil {
		return "", false, err
	}
	if index == nil || index.ByID(htmldoc.IDSiteNav) == nil {
		return "", false, nil
	}

	tree, err := Parse(markup)
	if err != nil {
		return "", false, fmt.Errorf("parse outline: %w", err)
	}
	if len(tree.Nodes) == 0 {
		return "", false, ErrEmptyOutline
	}
	tree.HoistIndex()

	pages, err := e.pages(ctx, h)
	if err != nil {
		return "", false, err
	}
	indexRaw, err := index.Bytes()
	if err != nil {
		return "", false, err
	}
	created, names, err := e.materialize(tree, h, pages, indexRaw)
	if err != nil {
		return "", false, err
	}
	pages = append(pages, names...)

	order := tree.Order()
	batch := storage.NewBatch(e.Repo)
	defer batch.Discard(ctx)

	for _, name := range pages {
		doc, ok := created[name]
		if !ok {
			if doc, err = htmldoc.Load(ctx, e.Repo, h.File(name)); err != nil {
				return "", false, err
			}
		}
		if !replaceNav(doc, tree.Render(name)) {
			continue
		}
		Paginate(doc, order, name)
		if err := doc.Save(ctx, batch); err != nil {
			return "", false, err
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return "", false, err
	}

	if e.Logger != nil {
		e.Logger.Info("toc saved", "resource", h.Resource.ResourceID, "version", h.Name, "pages", len(pages), "new_pages", len(created))
	}
	if e.History != nil {
		other := map[string]string{"version_changes_saved_file": "TOC"}
		if comment != "" {
			other["edit_comments"] = comment
		}
		if err := e.History.AppendHistory(ctx, records.Event{
			CourseID:   h.Resource.CourseID,
			ResourceID: h.Resource.ResourceID,
			Action:     records.ActionChangesSaved,
			Version:    h.Name,
			Other:      other,
		}); err != nil {
			return "", false, err
		}
	}
	return e.ForEdit(ctx, h)
}

// pages lists the html files at the top of the version folder.
func (e *Engine) pages(ctx context.Context, h versions.Handle) ([]string, error) {
	entries, err := e.Repo.List(ctx, h.Path)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsFolder && strings.HasSuffix(strings.ToLower(entry.Title), ".html") {
			out = append(out, entry.Title)
		}
	}
	return out, nil
}

// materialize creates a page for every new outline entry. The documents are
// returned by file name along with the names in outline order.
func (e *Engine) materialize(tree *Tree, h versions.Handle, pages []string, indexRaw []byte) (map[string]*htmldoc.Document, []string, error) {
	taken := map[string]bool{}
	for _, p := range pages {
		taken[strings.ToLower(p)] = true
	}
	created := map[string]*htmldoc.Document{}
	var names []string
	var err error
	tree.Walk(func(id int) {
		n := &tree.Nodes[id]
		if err != nil || !n.New {
			return
		}
		name := slug.Unique(slug.Filename(n.Label), func(s string) bool { return taken[s] })
		taken[name] = true

		var root *html.Node
		if root, err = htmldoc.ParseBytes(indexRaw); err != nil {
			return
		}
		doc := &htmldoc.Document{Path: h.File(name), Root: root}
		newPage(doc, n.Label)

		n.Href = name
		n.New = false
		created[name] = doc
		names = append(names, name)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create page: %w", err)
	}
	return created, names, nil
}

// newPage turns a copy of the index page into an empty section titled label.
// Only the header and decoration blocks of main are kept.
func newPage(doc *htmldoc.Document, label string) {
	main := doc.Main()
	if main != nil {
		var kept []*html.Node
		for _, c := range htmldoc.Children(main) {
			if c.Type != html.ElementNode {
				continue
			}
			if id, _ := htmldoc.Attr(c, "id"); c.DataAtom == atom.Header || id == "nodeDecoration" {
				kept = append(kept, c)
			}
		}
		htmldoc.ReplaceChildren(main, kept)
	}

	heading := doc.ByID("nodeTitle")
	if heading == nil && main != nil {
		heading = htmldoc.FirstElement(main, atom.H1)
	}
	if heading != nil {
		htmldoc.ReplaceChildren(heading, []*html.Node{htmldoc.NewText(label)})
	}
}

// replaceNav swaps the list inside the page's siteNav for list. It reports
// false when the page has no nav.
func replaceNav(doc *htmldoc.Document, list *html.Node) bool {
	nav := doc.ByID(htmldoc.IDSiteNav)
	if nav == nil {
		return false
	}
	if old := htmldoc.FirstElement(nav, atom.Ul); old != nil && old != nav {
		old.Parent.InsertBefore(list, old)
		htmldoc.Detach(old)
		return true
	}
	nav.AppendChild(list)
	return true
}
