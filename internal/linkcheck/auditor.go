package linkcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

// Link types stored in the other column of a link record.
const (
	TypeLink   = "link"
	TypeIframe = "iframe"
	TypeVideo  = "video"
)

// LinkStore keeps the link records of a version.
type LinkStore interface {
	ReplaceLinks(ctx context.Context, courseID, resourceID int64, version string, recs []records.LinkRecord) error
}

// Summary counts the results of an audit. It is written to the audit log.
type Summary struct {
	Files    int `json:"numfiles"`
	Links    int `json:"numlinks"`
	Active   int `json:"numlinksactive"`
	Fixed    int `json:"numlinksfixed"`
	Broken   int `json:"numlinksbroken"`
	NotValid int `json:"numlinksnotvalid"`
}

func (s *Summary) count(action string) {
	switch action {
	case records.LinkActive:
		s.Active++
	case records.LinkFixed:
		s.Fixed++
	case records.LinkBroken, records.LinkBrokenCantFix, records.LinkBrokenAfterChangeHTTPS:
		s.Broken++
	case records.LinkNotValid, records.LinkNotValidActive:
		s.NotValid++
	}
}

type Auditor struct {
	Repo        storage.Repository
	Links       LinkStore
	History     records.HistoryWriter
	Prober      Prober
	SiteHost    string
	Concurrency int
	Logger      *slog.Logger
}

// target is one element carrying a URL on a page.
type target struct {
	page  int
	node  *html.Node
	attr  string
	kind  string
	href  string
	label string
}

type linkOther struct {
	LinkType string `json:"link_type"`
	LinkText string `json:"link_text,omitempty"`
}

// Audit classifies every link of the version's pages, rewrites the ones that
// could be moved to https and replaces the version's link records with the
// new results.
func (a *Auditor) Audit(ctx context.Context, h versions.Handle) (Summary, error) {
	var sum Summary
	names, err := a.pages(ctx, h)
	if err != nil {
		return sum, err
	}

	docs := make([]*htmldoc.Document, len(names))
	var targets []target
	for i, name := range names {
		doc, err := htmldoc.Load(ctx, a.Repo, h.File(name))
		if err != nil {
			return sum, err
		}
		docs[i] = doc
		found := collect(doc.Root, i)
		for _, t := range found {
			if t.kind != TypeLink || isExternal(t.href, a.SiteHost) {
				sum.Links++
			}
		}
		targets = append(targets, found...)
	}
	sum.Files = len(names)

	if a.Logger != nil {
		a.Logger.Info("auditing links", "resource", h.Resource.ResourceID, "version", h.Name, "pages", len(names), "targets", len(targets))
	}
	outcomes, recorded, err := a.classifyAll(ctx, targets)
	if err != nil {
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	changed := make([]bool, len(docs))
	var recs []records.LinkRecord
	for i, t := range targets {
		if !recorded[i] {
			continue
		}
		out := outcomes[i]
		if out.Rewrite != "" {
			htmldoc.SetAttr(t.node, t.attr, out.Rewrite)
			changed[t.page] = true
		}
		other, err := json.Marshal(linkOther{LinkType: t.kind, LinkText: t.label})
		if err != nil {
			return sum, fmt.Errorf("encode link %s: %w", t.href, err)
		}
		recs = append(recs, records.LinkRecord{
			Action:  out.Action,
			Link:    out.Link,
			File:    names[t.page],
			Message: out.Message,
			Other:   string(other),
		})
		sum.count(out.Action)
	}

	batch := storage.NewBatch(a.Repo)
	defer batch.Discard(ctx)
	for i, doc := range docs {
		if !changed[i] {
			continue
		}
		if err := doc.Save(ctx, batch); err != nil {
			return sum, err
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return sum, err
	}

	if a.Links != nil {
		if err := a.Links.ReplaceLinks(ctx, h.Resource.CourseID, h.Resource.ResourceID, h.Name, recs); err != nil {
			return sum, err
		}
	}
	if a.Logger != nil {
		a.Logger.Info("links audited", "resource", h.Resource.ResourceID, "version", h.Name,
			"links", sum.Links, "active", sum.Active, "fixed", sum.Fixed, "broken", sum.Broken, "not_valid", sum.NotValid)
	}
	if a.History != nil {
		if err := a.History.AppendHistory(ctx, records.Event{
			CourseID:   h.Resource.CourseID,
			ResourceID: h.Resource.ResourceID,
			Action:     records.ActionLinksProcessed,
			Version:    h.Name,
			Other:      sum,
		}); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// classifyAll probes targets in parallel. Results keep the order of targets.
func (a *Auditor) classifyAll(ctx context.Context, targets []target) ([]Outcome, []bool, error) {
	outcomes := make([]Outcome, len(targets))
	recorded := make([]bool, len(targets))

	limit := a.Concurrency
	if limit <= 0 {
		limit = 1
	}
	prober := newMemoProber(a.Prober)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, t := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i], recorded[i] = classify(gctx, prober, a.SiteHost, t.href)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return outcomes, recorded, nil
}

// collect lists the anchors, then the iframes, then the video sources of a
// page.
func collect(root *html.Node, page int) []target {
	var out []target
	for _, sel := range []struct {
		tag  atom.Atom
		attr string
		kind string
	}{
		{atom.A, "href", TypeLink},
		{atom.Iframe, "src", TypeIframe},
		{atom.Source, "src", TypeVideo},
	} {
		for _, n := range htmldoc.Elements(root, sel.tag) {
			href, ok := htmldoc.Attr(n, sel.attr)
			if !ok || strings.TrimSpace(href) == "" {
				continue
			}
			t := target{page: page, node: n, attr: sel.attr, kind: sel.kind, href: href}
			if sel.kind == TypeLink {
				t.label = strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(htmldoc.TextContent(n)))
			}
			out = append(out, t)
		}
	}
	return out
}

// pages lists the html files at the top of the version folder.
func (a *Auditor) pages(ctx context.Context, h versions.Handle) ([]string, error) {
	entries, err := a.Repo.List(ctx, h.Path)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsFolder && strings.HasSuffix(strings.ToLower(e.Title), ".html") {
			out = append(out, e.Title)
		}
	}
	return out, nil
}
