// Package content extracts the editable main section of a page for the rich
// text editor and writes edited sections back.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

type Editor struct {
	Repo    storage.Repository
	History records.HistoryWriter
	// Site is the platform base URL. Asset URLs containing it are turned
	// back into package relative names on save.
	Site string
	// AssetBase is the public prefix version assets are served under.
	AssetBase string
	Logger    *slog.Logger
}

// ForEdit returns the outer markup of the page's main section with image and
// video sources pointing at servable URLs. It reports false when the file or
// its main section does not exist.
func (e *Editor) ForEdit(ctx context.Context, h versions.Handle, file string) (string, bool, error) {
	files, err := versionFiles(ctx, e.Repo, h)
	if err != nil {
		return "", false, err
	}
	if !files[file] {
		return "", false, nil
	}
	doc, err := htmldoc.Load(ctx, e.Repo, h.File(file))
	if err != nil {
		return "", false, err
	}
	main := doc.Main()
	if main == nil {
		return "", false, nil
	}
	for _, n := range htmldoc.Elements(main, atom.Img, atom.Source) {
		src, ok := htmldoc.Attr(n, "src")
		if ok && files[src] {
			htmldoc.SetAttr(n, "src", e.AssetURL(h, src))
		}
	}
	return htmldoc.OuterHTML(main), true, nil
}

// AssetURL is where the editor can fetch a file of the version.
func (e *Editor) AssetURL(h versions.Handle, name string) string {
	base := strings.TrimRight(e.AssetBase, "/")
	return base + "/" + strings.Join([]string{
		strconv.FormatInt(h.Resource.CourseID, 10),
		strconv.FormatInt(h.Resource.ResourceID, 10),
		url.PathEscape(h.Name),
		name,
	}, "/")
}

// Save replaces the main section of file with markup and records the change.
// markup may be the whole main element or just its content.
func (e *Editor) Save(ctx context.Context, h versions.Handle, file, markup, comment string) (bool, error) {
	files, err := versionFiles(ctx, e.Repo, h)
	if err != nil {
		return false, err
	}
	if !files[file] {
		return false, nil
	}
	doc, err := htmldoc.Load(ctx, e.Repo, h.File(file))
	if err != nil {
		return false, err
	}
	main := doc.Main()
	if main == nil {
		return false, nil
	}

	nodes, err := htmldoc.ParseFragment(markup)
	if err != nil {
		return false, fmt.Errorf("parse edited content: %w", err)
	}
	edited := htmldoc.FragmentRoot(nodes)
	e.localizeAssets(h, edited)

	content := edited
	if m := htmldoc.Main(edited); m != nil {
		content = m
	}
	htmldoc.ReplaceChildren(main, htmldoc.Children(content))

	if err := doc.Save(ctx, e.Repo); err != nil {
		return false, err
	}
	if e.Logger != nil {
		e.Logger.Info("content saved", "resource", h.Resource.ResourceID, "version", h.Name, "file", file)
	}

	other := map[string]string{"version_changes_saved_file": file}
	if comment != "" {
		other["edit_comments"] = comment
	}
	if e.History != nil {
		if err := e.History.AppendHistory(ctx, records.Event{
			CourseID:   h.Resource.CourseID,
			ResourceID: h.Resource.ResourceID,
			Action:     records.ActionChangesSaved,
			Version:    h.Name,
			Other:      other,
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// localizeAssets rewrites sources served by the platform to bare file names
// and drops the inline font size the editor adds.
func (e *Editor) localizeAssets(h versions.Handle, root *html.Node) {
	site := strings.TrimRight(e.Site, "/")
	own := e.AssetURL(h, "")
	for _, n := range htmldoc.Elements(root, atom.Img, atom.Source) {
		src, ok := htmldoc.Attr(n, "src")
		if !ok {
			continue
		}
		// Editor URLs keep their folder relative to the version root.
		if rel, found := ownAsset(own, site, src); found {
			htmldoc.SetAttr(n, "src", rel)
			continue
		}
		if site != "" && strings.Contains(src, site) {
			htmldoc.SetAttr(n, "src", baseName(src))
		}
	}
	htmldoc.Walk(root, func(n *html.Node) bool {
		if style, ok := htmldoc.Attr(n, "style"); ok && strings.TrimSpace(style) == "font-size: 0.9375rem;" {
			htmldoc.RemoveAttr(n, "style")
		}
		return true
	})
}

// ownAsset reports the version relative name of src when it points under
// the editor's asset prefix own, either as is or once the site is stripped.
func ownAsset(own, site, src string) (string, bool) {
	candidates := []string{src}
	if site != "" && strings.HasPrefix(src, site) {
		candidates = append(candidates, strings.TrimPrefix(src, site))
	}
	for _, c := range candidates {
		if rel, found := strings.CutPrefix(c, own); found && rel != "" {
			return rel, true
		}
	}
	return "", false
}

func baseName(src string) string {
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(src)
}

func versionFiles(ctx context.Context, repo storage.Repository, h versions.Handle) (map[string]bool, error) {
	list, err := storage.Files(ctx, repo, h.Path, func(folder string) bool {
		return folder == versions.PrintableFolder
	})
	if err != nil {
		return nil, fmt.Errorf("list version %s: %w", h.Name, err)
	}
	files := make(map[string]bool, len(list))
	for _, f := range list {
		files[f] = true
	}
	return files, nil
}
