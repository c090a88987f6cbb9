// Package toc edits the navigation tree that every page of a version carries
// in its siteNav element.
package toc

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/htmldoc"
)

// IndexFile is the entry page. Its node always leads the top level list.
const IndexFile = "index.html"

// Classes the engine owns. They are dropped when a tree is parsed and
// recomputed when it is rendered.
const (
	classActive        = "active"
	classCurrentParent = "current-page-parent"
	classDaddy         = "daddy"
	classNoChildren    = "no-ch"
	classOtherSection  = "other-section"
	classMainNode      = "main-node"
	classNewNode       = "new-node"
	idActive           = "active"
)

var managedClasses = map[string]bool{
	classActive:        true,
	classCurrentParent: true,
	classDaddy:         true,
	classNoChildren:    true,
	classOtherSection:  true,
	classMainNode:      true,
	classNewNode:       true,
}

// Node is one entry of the outline. Parent is -1 for top level nodes.
type Node struct {
	Label    string
	Href     string
	New      bool
	Parent   int
	Children []int

	liAttrs  []html.Attribute
	aAttrs   []html.Attribute
	ulAttrs  []html.Attribute
	aContent []*html.Node
}

// Tree stores nodes in an arena; links between them are indices.
type Tree struct {
	Nodes     []Node
	Roots     []int
	listAttrs []html.Attribute
}

// Parse reads an outline from list markup. The markup may be a full siteNav
// element, a <ul> or a bare sequence of <li> items.
func Parse(markup string) (*Tree, error) {
	nodes, err := htmldoc.ParseFragment(markup)
	if err != nil {
		return nil, err
	}
	return FromNode(htmldoc.FragmentRoot(nodes)), nil
}

// FromNode reads the outline held by the first list below root.
func FromNode(root *html.Node) *Tree {
	t := &Tree{}
	list := htmldoc.FirstElement(root, atom.Ul)
	if list == nil {
		list = root
	} else {
		t.listAttrs = cleanAttrs(list.Attr, nil)
	}
	t.Roots = t.readList(list, -1)
	return t
}

func (t *Tree) readList(list *html.Node, parent int) []int {
	var ids []int
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		var anchor, sub *html.Node
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch {
			case c.DataAtom == atom.A && anchor == nil:
				anchor = c
			case (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol) && sub == nil:
				sub = c
			}
		}
		if anchor == nil {
			continue
		}
		href, _ := htmldoc.Attr(anchor, "href")
		href = strings.TrimSpace(href)
		n := Node{
			Label:   strings.TrimSpace(htmldoc.TextContent(anchor)),
			Href:    href,
			New:     href == "" || htmldoc.HasClass(li, classNewNode),
			Parent:  parent,
			liAttrs: cleanAttrs(li.Attr, func(a html.Attribute) bool { return a.Key == "id" && a.Val == idActive }),
			aAttrs:  cleanAttrs(anchor.Attr, func(a html.Attribute) bool { return a.Key == "href" }),
		}
		for c := anchor.FirstChild; c != nil; c = c.NextSibling {
			n.aContent = append(n.aContent, htmldoc.Clone(c))
		}
		id := len(t.Nodes)
		t.Nodes = append(t.Nodes, n)
		if sub != nil {
			t.Nodes[id].ulAttrs = cleanAttrs(sub.Attr, nil)
			t.Nodes[id].Children = t.readList(sub, id)
		}
		ids = append(ids, id)
	}
	return ids
}

// cleanAttrs copies attrs without engine owned classes and without the
// attributes drop reports.
func cleanAttrs(attrs []html.Attribute, drop func(html.Attribute) bool) []html.Attribute {
	var out []html.Attribute
	for _, a := range attrs {
		if a.Namespace != "" {
			out = append(out, a)
			continue
		}
		if drop != nil && drop(a) {
			continue
		}
		if a.Key == "class" {
			var kept []string
			for _, c := range strings.Fields(a.Val) {
				if !managedClasses[c] {
					kept = append(kept, c)
				}
			}
			if len(kept) == 0 {
				continue
			}
			a.Val = strings.Join(kept, " ")
		}
		out = append(out, a)
	}
	return out
}

// Walk visits nodes in document order.
func (t *Tree) Walk(fn func(id int)) {
	var visit func(ids []int)
	visit = func(ids []int) {
		for _, id := range ids {
			fn(id)
			visit(t.Nodes[id].Children)
		}
	}
	visit(t.Roots)
}

// Order lists the hrefs of every node in document order. It is the page
// order used for pagination.
func (t *Tree) Order() []string {
	var out []string
	t.Walk(func(id int) {
		if href := t.Nodes[id].Href; href != "" {
			out = append(out, href)
		}
	})
	return out
}

// Find returns the first node linking to href, or -1.
func (t *Tree) Find(href string) int {
	found := -1
	t.Walk(func(id int) {
		if found < 0 && t.Nodes[id].Href == href {
			found = id
		}
	})
	return found
}

// HoistIndex moves the index node, with its sub tree, to the front of the
// top level list.
func (t *Tree) HoistIndex() {
	id := t.Find(IndexFile)
	if id < 0 {
		return
	}
	parent := t.Nodes[id].Parent
	if parent < 0 {
		t.Roots = remove(t.Roots, id)
	} else {
		t.Nodes[parent].Children = remove(t.Nodes[parent].Children, id)
		if len(t.Nodes[parent].Children) == 0 {
			t.Nodes[parent].ulAttrs = nil
		}
	}
	t.Nodes[id].Parent = -1
	t.Roots = append([]int{id}, t.Roots...)
}

// Path returns the node and its ancestors, starting with the node.
func (t *Tree) Path(id int) []int {
	var out []int
	for id >= 0 {
		out = append(out, id)
		id = t.Nodes[id].Parent
	}
	return out
}

func remove(ids []int, id int) []int {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
