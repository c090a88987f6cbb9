// Package publish promotes a version to the live area students are served
// from, and derives the single page printable rendering.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

const indexFile = "index.html"

// MissingIndexError is returned when a printable is requested for a version
// without an index page.
type MissingIndexError struct {
	Version string
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("version %s has no %s", e.Version, indexFile)
}

// Registry is the part of the resource registry publishing updates.
type Registry interface {
	PrintableFor(ctx context.Context, courseID, resourceID int64) (records.Editable, bool, error)
	SetVersion(ctx context.Context, courseID, resourceID int64, version string) error
	ReplaceLiveFiles(ctx context.Context, courseID, resourceID int64, files []records.LiveFile) error
}

type Publisher struct {
	Repo     storage.Repository
	Registry Registry
	History  records.HistoryWriter
	Logger   *slog.Logger
}

func skipPrintable(folder string) bool {
	return folder == versions.PrintableFolder
}

// Publish replaces the live files of the resource with the files of the
// version. index.html is listed first.
func (p *Publisher) Publish(ctx context.Context, h versions.Handle) error {
	files, err := p.replaceLive(ctx, h.Path, h.Resource.LiveDir())
	if err != nil {
		return err
	}
	if p.Registry != nil {
		if err := p.Registry.ReplaceLiveFiles(ctx, h.Resource.CourseID, h.Resource.ResourceID, liveOrder(files)); err != nil {
			return err
		}
		if err := p.Registry.SetVersion(ctx, h.Resource.CourseID, h.Resource.ResourceID, h.Name); err != nil {
			return err
		}
	}
	if p.Logger != nil {
		p.Logger.Info("version published", "course", h.Resource.Shortname, "resource", h.Resource.ResourceID, "version", h.Name, "files", len(files))
	}
	return p.record(ctx, h.Resource.CourseID, h.Resource.ResourceID, records.ActionVersionApplied, h.Name)
}

// PublishPrintable flattens the version into one page and publishes it as the
// live files of the resource's printable. It reports false when the resource
// has no printable.
func (p *Publisher) PublishPrintable(ctx context.Context, h versions.Handle) (bool, error) {
	if p.Registry == nil {
		return false, nil
	}
	printable, ok, err := p.Registry.PrintableFor(ctx, h.Resource.CourseID, h.Resource.ResourceID)
	if err != nil || !ok {
		return false, err
	}
	hasIndex, err := storage.Exists(ctx, p.Repo, h.File(indexFile))
	if err != nil {
		return false, err
	}
	if !hasIndex {
		return false, &MissingIndexError{Version: h.Name}
	}

	scratch := h.File(versions.PrintableFolder)
	if err := p.Repo.Delete(ctx, scratch); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("clear printable scratch: %w", err)
	}
	defer func() {
		if err := p.Repo.Delete(context.WithoutCancel(ctx), scratch); err != nil && p.Logger != nil {
			p.Logger.Warn("failed to remove printable scratch", "path", scratch, "error", err)
		}
	}()
	if err := storage.CopyTree(ctx, p.Repo, h.Path, scratch, skipPrintable); err != nil {
		return false, err
	}

	index, err := htmldoc.Load(ctx, p.Repo, storage.Join(scratch, indexFile))
	if err != nil {
		return false, err
	}
	pages, err := Flatten(index, func(name string) (*htmldoc.Document, error) {
		return htmldoc.Load(ctx, p.Repo, storage.Join(scratch, name))
	})
	if err != nil {
		return false, err
	}
	htmldoc.InjectNoCache(index, true)
	if err := index.Save(ctx, p.Repo); err != nil {
		return false, err
	}

	files, err := p.replaceLive(ctx, scratch, versions.LiveDir(h.Resource.Shortname, printable.ResourceID))
	if err != nil {
		return false, err
	}
	if err := p.Registry.ReplaceLiveFiles(ctx, h.Resource.CourseID, printable.ResourceID, liveOrder(files)); err != nil {
		return false, err
	}
	if err := p.Registry.SetVersion(ctx, h.Resource.CourseID, printable.ResourceID, h.Name); err != nil {
		return false, err
	}
	if p.Logger != nil {
		p.Logger.Info("printable published", "course", h.Resource.Shortname, "resource", h.Resource.ResourceID,
			"printable", printable.ResourceID, "version", h.Name, "pages", pages)
	}
	return true, p.record(ctx, h.Resource.CourseID, printable.ResourceID, records.ActionPrintableApplied, h.Name)
}

// replaceLive empties dst and copies the files of src into it. It returns the
// copied paths relative to dst.
func (p *Publisher) replaceLive(ctx context.Context, src, dst string) ([]string, error) {
	files, err := storage.Files(ctx, p.Repo, src, skipPrintable)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src, err)
	}
	if err := p.Repo.Delete(ctx, dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("clear live files: %w", err)
	}
	if err := storage.CopyTree(ctx, p.Repo, src, dst, skipPrintable); err != nil {
		return nil, err
	}
	return files, nil
}

func (p *Publisher) record(ctx context.Context, courseID, resourceID int64, action, version string) error {
	if p.History == nil {
		return nil
	}
	return p.History.AppendHistory(ctx, records.Event{
		CourseID:   courseID,
		ResourceID: resourceID,
		Action:     action,
		Version:    version,
	})
}

// liveOrder puts index.html first and numbers the other files after it in
// listing order.
func liveOrder(files []string) []records.LiveFile {
	out := make([]records.LiveFile, 0, len(files))
	next := 2
	for _, f := range files {
		if f == indexFile {
			out = append(out, records.LiveFile{Filename: f, SortOrder: 1})
			continue
		}
		out = append(out, records.LiveFile{Filename: f, SortOrder: next})
		next++
	}
	return out
}

// Flatten turns index into a single page holding the content of every page
// its nav links to, in nav order. The nav and pagination blocks are removed
// and the body is marked no-nav. Linked pages that do not exist are skipped.
// It returns the number of pages appended.
func Flatten(index *htmldoc.Document, load func(name string) (*htmldoc.Document, error)) (int, error) {
	var hrefs []string
	if nav := index.ByID(htmldoc.IDSiteNav); nav != nil {
		seen := map[string]bool{indexFile: true}
		for _, a := range htmldoc.Elements(nav, atom.A) {
			href, _ := htmldoc.Attr(a, "href")
			if i := strings.IndexByte(href, '#'); i >= 0 {
				href = href[:i]
			}
			href = strings.TrimSpace(href)
			if href == "" || seen[href] || strings.Contains(href, "//") || strings.HasPrefix(href, "/") {
				continue
			}
			seen[href] = true
			hrefs = append(hrefs, href)
		}
		htmldoc.Detach(nav)
	}
	for _, id := range []string{htmldoc.IDTopPagination, htmldoc.IDBottomPagination} {
		if block := index.ByID(id); block != nil {
			htmldoc.Detach(block)
		}
	}

	appended := 0
	if main := index.Main(); main != nil {
		for _, href := range hrefs {
			page, err := load(href)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return appended, err
			}
			pageMain := page.Main()
			if pageMain == nil {
				continue
			}
			for _, c := range htmldoc.Children(pageMain) {
				htmldoc.Detach(c)
				main.AppendChild(c)
			}
			appended++
		}
	}
	if body := index.Body(); body != nil {
		htmldoc.AddClass(body, "no-nav")
	}
	return appended, nil
}
