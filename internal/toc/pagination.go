package toc

import (
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
)

// Paginate updates the prev, next and page counter controls of the top and
// bottom pagination blocks of doc. order is the page order and current the
// page being updated. Pages outside order are left untouched.
func Paginate(doc *htmldoc.Document, order []string, current string) {
	pos := -1
	for i, href := range order {
		if href == current {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}
	for _, id := range []string{htmldoc.IDTopPagination, htmldoc.IDBottomPagination} {
		if block := doc.ByID(id); block != nil {
			paginateBlock(block, order, pos)
		}
	}
}

func paginateBlock(block *html.Node, order []string, pos int) {
	prev := findByClass(block, atom.A, "prev")
	next := findByClass(block, atom.A, "next")
	counter := findByClass(block, atom.Span, "page-counter")

	if pos == 0 {
		if prev != nil {
			htmldoc.Detach(prev)
			prev = nil
		}
	} else {
		if prev == nil {
			prev = newControl("prev", "« ", "Anterior", true)
			block.InsertBefore(prev, block.FirstChild)
		}
		htmldoc.SetAttr(prev, "href", order[pos-1])
	}

	text := fmt.Sprintf("Página %d de %d", pos+1, len(order))
	if counter == nil {
		counter = htmldoc.NewElement(atom.Span, html.Attribute{Key: "class", Val: "page-counter"})
		insertAfter(block, counter, prev)
	}
	htmldoc.ReplaceChildren(counter, []*html.Node{htmldoc.NewText(text)})

	sep := htmldoc.NextElement(counter)
	if sep == nil || !htmldoc.HasClass(sep, "sep") {
		sep = htmldoc.NewElement(atom.Span, html.Attribute{Key: "class", Val: "sep"})
		sep.AppendChild(htmldoc.NewText(" | "))
		insertAfter(block, sep, counter)
	}

	if pos == len(order)-1 {
		if next != nil {
			htmldoc.Detach(next)
		}
		return
	}
	if next == nil {
		next = newControl("next", " »", "Siguiente", false)
		insertAfter(block, next, sep)
	}
	htmldoc.SetAttr(next, "href", order[pos+1])
}

func newControl(class, arrow, label string, arrowFirst bool) *html.Node {
	a := htmldoc.NewElement(atom.A,
		html.Attribute{Key: "href", Val: ""},
		html.Attribute{Key: "class", Val: class},
	)
	span := htmldoc.NewElement(atom.Span)
	span.AppendChild(htmldoc.NewText(arrow))
	if arrowFirst {
		a.AppendChild(span)
		a.AppendChild(htmldoc.NewText(label))
	} else {
		a.AppendChild(htmldoc.NewText(label))
		a.AppendChild(span)
	}
	return a
}

// insertAfter puts n right after ref, or first in block when ref is nil.
func insertAfter(block, n, ref *html.Node) {
	if ref == nil {
		block.InsertBefore(n, block.FirstChild)
		return
	}
	ref.Parent.InsertBefore(n, ref.NextSibling)
}

func findByClass(root *html.Node, a atom.Atom, class string) *html.Node {
	for _, n := range htmldoc.Elements(root, a) {
		if htmldoc.HasClass(n, class) {
			return n
		}
	}
	return nil
}
