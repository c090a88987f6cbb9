// Package htmldoc loads and saves the pages of a version as parsed HTML trees
// and offers the small set of DOM helpers the edition engine needs.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
)

// Well known element ids of a generated page.
const (
	IDMain             = "main"
	IDSiteNav          = "siteNav"
	IDTopPagination    = "topPagination"
	IDBottomPagination = "bottomPagination"
)

// Writer is where documents are saved: a repository or a staging batch.
type Writer interface {
	Write(ctx context.Context, name string, content []byte) error
}

// Document is a parsed page of a version.
type Document struct {
	Path string
	Root *html.Node
}

// Parse reads an HTML document, converting legacy encodings to UTF-8.
// Malformed markup never fails; only read errors are returned.
func Parse(r io.Reader) (*html.Node, error) {
	utf8Reader, err := charset.NewReader(r, "")
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	root, err := html.Parse(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return root, nil
}

func ParseBytes(b []byte) (*html.Node, error) {
	return Parse(bytes.NewReader(b))
}

func Load(ctx context.Context, repo storage.Repository, name string) (*Document, error) {
	raw, err := repo.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	root, err := ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return &Document{Path: name, Root: root}, nil
}

// Bytes renders the document as UTF-8 without serialization artifacts.
func (d *Document) Bytes() ([]byte, error) {
	normalizeCharset(d.Root)
	var buf bytes.Buffer
	if err := html.Render(&buf, d.Root); err != nil {
		return nil, fmt.Errorf("render %s: %w", d.Path, err)
	}
	return []byte(Clean(buf.String())), nil
}

func (d *Document) Save(ctx context.Context, w Writer) error {
	out, err := d.Bytes()
	if err != nil {
		return err
	}
	if err := w.Write(ctx, d.Path, out); err != nil {
		return fmt.Errorf("save %s: %w", d.Path, err)
	}
	return nil
}

// Main returns the page content element. Anchors sharing the id are skipped.
func (d *Document) Main() *html.Node {
	return Main(d.Root)
}

func (d *Document) ByID(id string) *html.Node {
	return ElementByID(d.Root, id)
}

func (d *Document) Body() *html.Node {
	return FirstElement(d.Root, atom.Body)
}

func (d *Document) Head() *html.Node {
	return FirstElement(d.Root, atom.Head)
}

var artifacts = strings.NewReplacer(
	"<![CDATA[", "",
	"]]>", "",
	`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`, "",
	`style="font-size: 0.9375rem;"`, "",
)

// Clean strips CDATA markers, stray XML prologs and the inline font size the
// platform editor injects.
func Clean(s string) string {
	return artifacts.Replace(s)
}

var contentTypeCharset = regexp.MustCompile(`(?i)charset\s*=\s*[^;\s]+`)

func normalizeCharset(root *html.Node) {
	for _, meta := range Elements(root, atom.Meta) {
		if _, ok := Attr(meta, "charset"); ok {
			SetAttr(meta, "charset", "utf-8")
			continue
		}
		if equiv, _ := Attr(meta, "http-equiv"); strings.EqualFold(equiv, "content-type") {
			if content, ok := Attr(meta, "content"); ok && contentTypeCharset.MatchString(content) {
				SetAttr(meta, "content", contentTypeCharset.ReplaceAllString(content, "charset=utf-8"))
			}
		}
	}
}
