package toc

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
)

// Render builds the nav list as seen from the page current. The node linking
// to current is active, its ancestors are current-page-parent and every sub
// list off the active path is marked other-section.
func (t *Tree) Render(current string) *html.Node {
	active := t.Find(current)
	onPath := map[int]bool{}
	if active >= 0 {
		for _, id := range t.Path(active) {
			onPath[id] = true
		}
	}

	ul := htmldoc.NewElement(atom.Ul, copyAttrs(t.listAttrs)...)
	index := -1
	if len(t.Roots) > 0 && t.Nodes[t.Roots[0]].Href == IndexFile {
		index = t.Roots[0]
	}
	var build func(parent *html.Node, ids []int)
	build = func(parent *html.Node, ids []int) {
		for _, id := range ids {
			n := t.Nodes[id]

			var state string
			switch {
			case id == active:
				state = classActive
			case onPath[id]:
				state = classCurrentParent
			}

			li := htmldoc.NewElement(atom.Li, copyAttrs(n.liAttrs)...)
			if id == active {
				htmldoc.SetAttr(li, "id", idActive)
			}
			setClasses(li, state)

			a := htmldoc.NewElement(atom.A, html.Attribute{Key: "href", Val: n.Href})
			a.Attr = append(a.Attr, copyAttrs(n.aAttrs)...)
			marker := classNoChildren
			if len(n.Children) > 0 {
				marker = classDaddy
			}
			main := ""
			if id == index {
				main = classMainNode
			}
			setClasses(a, state, main, marker)
			for _, c := range n.aContent {
				a.AppendChild(htmldoc.Clone(c))
			}
			li.AppendChild(a)

			if len(n.Children) > 0 {
				sub := htmldoc.NewElement(atom.Ul, copyAttrs(n.ulAttrs)...)
				if !onPath[id] {
					setClasses(sub, classOtherSection)
				}
				build(sub, n.Children)
				li.AppendChild(sub)
			}
			parent.AppendChild(li)
		}
	}
	build(ul, t.Roots)
	return ul
}

// RenderString renders the list markup for current.
func (t *Tree) RenderString(current string) string {
	return htmldoc.OuterHTML(t.Render(current))
}

// setClasses puts the managed classes first, followed by whatever classes
// the element already carries.
func setClasses(n *html.Node, managed ...string) {
	var classes []string
	for _, c := range managed {
		if c != "" {
			classes = append(classes, c)
		}
	}
	classes = append(classes, htmldoc.Classes(n)...)
	if len(classes) == 0 {
		htmldoc.RemoveAttr(n, "class")
		return
	}
	htmldoc.SetAttr(n, "class", strings.Join(classes, " "))
}

func copyAttrs(attrs []html.Attribute) []html.Attribute {
	return append([]html.Attribute(nil), attrs...)
}
